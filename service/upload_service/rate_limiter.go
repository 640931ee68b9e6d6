package upload_service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"starmus-recorder/logging"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	RateLimitScopeSubmission = "submission"
	RateLimitScopeAnnotation = "annotation"
)

// RateLimiter fixed window attempt counter per user. Uses redis when a client
// is given and an in-process window otherwise. Best effort: backend errors
// let the attempt through.
type RateLimiter struct {
	scope  string
	limit  int
	window time.Duration
	redis  *redis.Client
	logger *logging.Logger

	mu      sync.Mutex
	windows map[uint64]*fixedWindow
	now     func() time.Time
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

// pruneThreshold number of tracked users after which expired windows are dropped
const pruneThreshold = 1024

func NewRateLimiter(scope string, limit int, window time.Duration, client *redis.Client, logger *logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RateLimiter{
		scope:   scope,
		limit:   limit,
		window:  window,
		redis:   client,
		logger:  logger,
		windows: make(map[uint64]*fixedWindow),
		now:     time.Now,
	}
}

// Scope limiter name, part of the counter key
func (rl *RateLimiter) Scope() string {
	return rl.scope
}

func (rl *RateLimiter) key(userID uint64) string {
	return fmt.Sprintf("starmus:rl:%s:%s", rl.scope, strconv.FormatUint(userID, 10))
}

// CheckAndIncrement counts one attempt. Returns a *RateLimitError (matching
// ErrRateLimited) once the user exceeds the limit inside the current window.
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, userID uint64) error {
	if rl.limit <= 0 {
		return nil
	}
	if rl.redis != nil {
		return rl.checkRedis(ctx, userID)
	}
	return rl.checkMemory(userID)
}

func (rl *RateLimiter) checkRedis(ctx context.Context, userID uint64) error {
	key := rl.key(userID)
	count, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		rl.logger.Warn(ctx, "rate limiter redis incr failed, allowing attempt",
			zap.String("scope", rl.scope), zap.Error(err))
		return nil
	}

	ttl, err := rl.redis.PTTL(ctx, key).Result()
	if err != nil {
		rl.logger.Warn(ctx, "rate limiter redis ttl failed", zap.String("scope", rl.scope), zap.Error(err))
		ttl = rl.window
	}
	// first hit of the window, or a key that lost its expiry
	if count == 1 || ttl < 0 {
		if err := rl.redis.PExpire(ctx, key, rl.window).Err(); err != nil {
			rl.logger.Warn(ctx, "rate limiter redis expire failed", zap.String("scope", rl.scope), zap.Error(err))
		}
		ttl = rl.window
	}

	if count > int64(rl.limit) {
		return &RateLimitError{Scope: rl.scope, RetryAfter: ttl}
	}
	return nil
}

func (rl *RateLimiter) checkMemory(userID uint64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.windows) > pruneThreshold {
		for id, w := range rl.windows {
			if !now.Before(w.resetAt) {
				delete(rl.windows, id)
			}
		}
	}

	w, ok := rl.windows[userID]
	if !ok || !now.Before(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(rl.window)}
		rl.windows[userID] = w
	}
	w.count++
	if w.count > rl.limit {
		return &RateLimitError{Scope: rl.scope, RetryAfter: w.resetAt.Sub(now)}
	}
	return nil
}
