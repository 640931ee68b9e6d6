package upload_service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestUploadLockerSerializesSameKey(t *testing.T) {
	locker := NewUploadLocker(50*time.Millisecond, 0, nil, nil)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "7:abc")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := locker.Lock(ctx, "7:abc"); !errors.Is(err, ErrUploadBusy) {
		t.Errorf("expected ErrUploadBusy, got %v", err)
	}

	other, err := locker.Lock(ctx, "7:other")
	if err != nil {
		t.Fatalf("other keys must not wait: %v", err)
	}
	other()

	unlock()
	again, err := locker.Lock(ctx, "7:abc")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()

	locker.mu.Lock()
	defer locker.mu.Unlock()
	if len(locker.locks) != 0 {
		t.Errorf("released keys should be dropped, %d left", len(locker.locks))
	}
}

func TestUploadLockerMutualExclusion(t *testing.T) {
	locker := NewUploadLocker(5*time.Second, 0, nil, nil)
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "k")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("expected at most one holder, saw %d", maxInside)
	}
}

func TestUploadLockerRedisFencesReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	replicaA := NewUploadLocker(100*time.Millisecond, time.Minute, client, nil)
	replicaB := NewUploadLocker(100*time.Millisecond, time.Minute, client, nil)

	unlock, err := replicaA.Lock(ctx, "7:abc")
	if err != nil {
		t.Fatalf("replica A lock: %v", err)
	}
	if !mr.Exists("starmus:lock:7:abc") {
		t.Fatalf("expected redis lock key")
	}
	if _, err := replicaB.Lock(ctx, "7:abc"); !errors.Is(err, ErrUploadBusy) {
		t.Errorf("replica B should see the upload busy, got %v", err)
	}

	unlock()
	if mr.Exists("starmus:lock:7:abc") {
		t.Errorf("lock key should be released")
	}
	unlockB, err := replicaB.Lock(ctx, "7:abc")
	if err != nil {
		t.Fatalf("replica B after release: %v", err)
	}
	unlockB()
}

func TestUploadLockerReleaseKeepsForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewUploadLocker(time.Second, time.Minute, client, nil)
	unlock, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// the lock expired and another replica took it over
	mr.Set("starmus:lock:k", "someone-else")
	unlock()
	if got, _ := mr.Get("starmus:lock:k"); got != "someone-else" {
		t.Errorf("release must not delete a lock held by another token, got %q", got)
	}
}

func TestUploadLockerRedisTtl(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewUploadLocker(time.Second, 90*time.Second, client, nil)
	unlock, err := locker.Lock(context.Background(), "7:ttl")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()
	if got := mr.TTL("starmus:lock:7:ttl"); got != 90*time.Second {
		t.Errorf("lock ttl = %v, want 90s", got)
	}

	if got := NewUploadLocker(time.Second, 0, nil, nil).ttl; got != defaultLockTtl {
		t.Errorf("zero ttl should fall back to %v, got %v", defaultLockTtl, got)
	}
}

func TestUploadLockerRenewsWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ttl := 300 * time.Millisecond
	locker := NewUploadLocker(time.Second, ttl, client, nil)
	unlock, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// a long finalize has eaten most of the ttl
	mr.FastForward(200 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for mr.TTL("starmus:lock:k") != ttl && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := mr.TTL("starmus:lock:k"); got != ttl {
		t.Fatalf("held lock should be renewed to %v, ttl = %v", ttl, got)
	}

	unlock()
	if mr.Exists("starmus:lock:k") {
		t.Errorf("lock key should be released")
	}
}
