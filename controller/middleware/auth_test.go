package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"starmus-recorder/conf"
	"starmus-recorder/service/upload_service"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestAuthenticator(t *testing.T) *TokenAuthenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return NewTokenAuthenticator(conf.AuthConfig{Tokens: []conf.TokenConfig{
		{UserId: 7, SecretHash: string(hash), Capabilities: []string{upload_service.CapabilityUploadFiles}},
	}})
}

func TestAuthenticate(t *testing.T) {
	auth := newTestAuthenticator(t)

	p, err := auth.Authenticate("Bearer 7.s3cret")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p.UserId != 7 || !p.Can(upload_service.CapabilityUploadFiles) {
		t.Fatalf("unexpected principal %+v", p)
	}
	if p.Can(upload_service.CapabilityEditOthersPosts) {
		t.Fatalf("principal should not have edit_others_posts")
	}

	// second call is served from the verified cache
	again, err := auth.Authenticate("Bearer 7.s3cret")
	if err != nil || again != p {
		t.Fatalf("expected cached principal, got %v, %v", again, err)
	}

	cases := map[string]error{
		"":                ErrMissingToken,
		"Basic abc":       ErrMissingToken,
		"Bearer ":         ErrMissingToken,
		"Bearer 7":        ErrInvalidToken,
		"Bearer 7.":       ErrInvalidToken,
		"Bearer x.s3cret": ErrInvalidToken,
		"Bearer 0.s3cret": ErrInvalidToken,
		"Bearer 7.wrong":  ErrInvalidToken,
		"Bearer 8.s3cret": ErrInvalidToken,
	}
	for header, want := range cases {
		if _, err := auth.Authenticate(header); !errors.Is(err, want) {
			t.Errorf("Authenticate(%q) error = %v, want %v", header, err, want)
		}
	}
}

func TestRequireCapability(t *testing.T) {
	auth := newTestAuthenticator(t)

	r := gin.New()
	r.GET("/upload", RequireCapability(auth, upload_service.CapabilityUploadFiles), func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": p.UserId})
	})
	r.GET("/moderate", RequireCapability(auth, upload_service.CapabilityEditOthersPosts), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	cases := []struct {
		path   string
		header string
		want   int
	}{
		{"/upload", "Bearer 7.s3cret", http.StatusOK},
		{"/upload", "", http.StatusUnauthorized},
		{"/upload", "Bearer 7.nope", http.StatusUnauthorized},
		{"/moderate", "Bearer 7.s3cret", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s with %q: status = %d, want %d", tc.path, tc.header, w.Code, tc.want)
		}
	}
}

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("abc")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("abc")) != nil {
		t.Fatalf("hash does not verify")
	}
}
