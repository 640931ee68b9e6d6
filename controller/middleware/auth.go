package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"sync"

	"starmus-recorder/conf"
	"starmus-recorder/controller/respond"
	"starmus-recorder/service/upload_service"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const principalKey = "starmus_principal"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// TokenAuthenticator verifies "Bearer {user_id}.{secret}" against bcrypt
// hashes from config. Verified tokens are remembered by digest so chunked
// uploads do not pay the bcrypt cost per chunk.
type TokenAuthenticator struct {
	tokens   map[uint64][]conf.TokenConfig
	verified sync.Map // sha256(token) -> *upload_service.Principal
}

func NewTokenAuthenticator(cfg conf.AuthConfig) *TokenAuthenticator {
	tokens := make(map[uint64][]conf.TokenConfig)
	for _, t := range cfg.Tokens {
		tokens[t.UserId] = append(tokens[t.UserId], t)
	}
	return &TokenAuthenticator{tokens: tokens}
}

// Authenticate resolves the Authorization header value to a principal
func (a *TokenAuthenticator) Authenticate(header string) (*upload_service.Principal, error) {
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, ErrMissingToken
	}

	digest := sha256.Sum256([]byte(token))
	cacheKey := hex.EncodeToString(digest[:])
	if p, ok := a.verified.Load(cacheKey); ok {
		return p.(*upload_service.Principal), nil
	}

	idPart, secret, found := strings.Cut(token, ".")
	if !found || secret == "" {
		return nil, ErrInvalidToken
	}
	userID, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || userID == 0 {
		return nil, ErrInvalidToken
	}

	for _, t := range a.tokens[userID] {
		if bcrypt.CompareHashAndPassword([]byte(t.SecretHash), []byte(secret)) != nil {
			continue
		}
		principal := &upload_service.Principal{UserId: userID, Capabilities: make(map[string]bool, len(t.Capabilities))}
		for _, capability := range t.Capabilities {
			principal.Capabilities[capability] = true
		}
		a.verified.Store(cacheKey, principal)
		return principal, nil
	}
	return nil, ErrInvalidToken
}

// RequireCapability authenticates the caller and requires capability
func RequireCapability(auth *TokenAuthenticator, capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := auth.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			respond.Unauthorized(c, err.Error())
			return
		}
		if !principal.Can(capability) {
			respond.Forbidden(c, "missing capability "+capability)
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the caller stored by RequireCapability
func PrincipalFrom(c *gin.Context) (*upload_service.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*upload_service.Principal)
	return p, ok
}

// HashSecret bcrypt hash for a new token secret
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
