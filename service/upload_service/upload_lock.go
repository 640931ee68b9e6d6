package upload_service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"starmus-recorder/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only if it still holds our token
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

const (
	lockRetryInterval = 25 * time.Millisecond
	defaultLockTtl    = time.Minute
)

// UploadLocker serializes "append and maybe finalize" per upload key. An
// in-process keyed mutex always applies; with redis a SET NX PX lock also
// fences other replicas. The redis lock expires after ttl unless its holder
// is alive to renew it.
type UploadLocker struct {
	timeout time.Duration
	ttl     time.Duration
	redis   *redis.Client
	logger  *logging.Logger

	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func NewUploadLocker(timeout, ttl time.Duration, client *redis.Client, logger *logging.Logger) *UploadLocker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultLockTtl
	}
	return &UploadLocker{
		timeout: timeout,
		ttl:     ttl,
		redis:   client,
		logger:  logger,
		locks:   make(map[string]*keyedLock),
	}
}

// Lock blocks until key is held or the timeout passes (ErrUploadBusy).
// The returned func releases the lock and must be called exactly once.
func (l *UploadLocker) Lock(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	kl := l.acquireRef(key)
	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(key)
		return nil, fmt.Errorf("%w: %s", ErrUploadBusy, key)
	}

	localUnlock := func() {
		<-kl.ch
		l.releaseRef(key)
	}

	if l.redis == nil {
		return localUnlock, nil
	}

	redisKey := "starmus:lock:" + key
	token := uuid.NewString()
	if err := l.lockRedis(ctx, redisKey, token); err != nil {
		if errors.Is(err, ErrUploadBusy) {
			localUnlock()
			return nil, err
		}
		// redis outage: the in-process lock still holds for this replica
		l.logger.Warn(ctx, "distributed upload lock unavailable", zap.String("key", key), zap.Error(err))
		return localUnlock, nil
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, renewed)

	return func() {
		close(stop)
		<-renewed
		// release must not depend on the request context, which may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, l.redis, []string{redisKey}, token)
		localUnlock()
	}, nil
}

// keepAlive pushes the redis lock expiry out every ttl/3 until stop closes
func (l *UploadLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			held, err := renewScript.Run(ctx, l.redis, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn(context.Background(), "failed to renew upload lock", zap.String("key", key), zap.Error(err))
				continue
			}
			if held == 0 {
				l.logger.Warn(context.Background(), "upload lock lost before release", zap.String("key", key))
				return
			}
		}
	}
}

func (l *UploadLocker) lockRedis(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return fmt.Errorf("%w: %s", ErrUploadBusy, key)
			}
			return fmt.Errorf("failed to acquire upload lock: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrUploadBusy, key)
		case <-ticker.C:
		}
	}
}

func (l *UploadLocker) acquireRef(key string) *keyedLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *UploadLocker) releaseRef(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		return
	}
	kl.refs--
	if kl.refs <= 0 {
		delete(l.locks, key)
	}
}
