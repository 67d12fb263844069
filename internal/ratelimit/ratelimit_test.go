package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewLocal(2, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	limiter.WithNowFunc(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(context.Background(), "10.0.0.1")
		if err != nil || !allowed {
			t.Fatalf("attempt %d: expected allowed, got %v err=%v", i, allowed, err)
		}
	}
	allowed, retryAfter, err := limiter.Allow(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatalf("expected third attempt to be throttled")
	}
	if retryAfter <= 0 || retryAfter > 30*time.Second {
		t.Fatalf("unexpected retryAfter %s", retryAfter)
	}

	if allowed, _, _ := limiter.Allow(context.Background(), "10.0.0.2"); !allowed {
		t.Fatalf("expected other key to be unaffected")
	}

	now = now.Add(30 * time.Second)
	if allowed, _, _ := limiter.Allow(context.Background(), "10.0.0.1"); !allowed {
		t.Fatalf("expected token to refill after half a window")
	}
}

func TestLocalLimiterEvictsIdleKeys(t *testing.T) {
	limiter := NewLocal(5, time.Second)
	now := time.Unix(1_700_000_000, 0)
	limiter.WithNowFunc(func() time.Time { return now })

	_, _, _ = limiter.Allow(context.Background(), "a")
	_, _, _ = limiter.Allow(context.Background(), "b")
	if limiter.Len() != 2 {
		t.Fatalf("expected two tracked keys, got %d", limiter.Len())
	}

	now = now.Add(10 * time.Minute)
	_, _, _ = limiter.Allow(context.Background(), "c")
	if limiter.Len() != 1 {
		t.Fatalf("expected idle keys to be evicted, got %d", limiter.Len())
	}
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewRedis(client, 3, time.Minute, "test:")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx, "ip")
		if err != nil || !allowed {
			t.Fatalf("attempt %d: expected allowed, got %v err=%v", i, allowed, err)
		}
	}
	allowed, retryAfter, err := limiter.Allow(ctx, "ip")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatalf("expected fourth attempt to be throttled")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retryAfter %s", retryAfter)
	}
	if !mr.Exists("test:ip") {
		t.Fatalf("expected counter key to use prefix")
	}

	mr.FastForward(time.Minute + time.Second)
	if allowed, _, _ := limiter.Allow(ctx, "ip"); !allowed {
		t.Fatalf("expected window to reset")
	}
}

func TestRedisLimiterReportsBackendErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	limiter := NewRedis(client, 1, time.Minute, "")
	if _, _, err := limiter.Allow(context.Background(), "ip"); err == nil {
		t.Fatalf("expected error when redis is unavailable")
	}
}
