package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	iter := client.Scan(ctx, 0, "rl:*:test_*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client)
}

func TestAllow_WithinLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:tst:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "test_a", rule)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	ok, err := limiter.Allow(ctx, "test_a", rule)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("request over the limit should be rejected")
	}
}

func TestAllow_IdentifiersAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:tst:", Limit: 1, Window: time.Minute}

	if ok, _ := limiter.Allow(ctx, "test_b", rule); !ok {
		t.Fatal("first request for test_b should pass")
	}
	if ok, _ := limiter.Allow(ctx, "test_b", rule); ok {
		t.Fatal("second request for test_b should be limited")
	}
	if ok, _ := limiter.Allow(ctx, "test_c", rule); !ok {
		t.Fatal("test_c must not be affected by test_b's counter")
	}
}

func TestRemaining(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:tst:", Limit: 5, Window: time.Minute}

	left, err := limiter.Remaining(ctx, "test_d", rule)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if left != 5 {
		t.Fatalf("fresh identifier should have the full limit, got %d", left)
	}

	limiter.Allow(ctx, "test_d", rule)
	limiter.Allow(ctx, "test_d", rule)

	left, _ = limiter.Remaining(ctx, "test_d", rule)
	if left != 3 {
		t.Fatalf("expected 3 remaining, got %d", left)
	}
}
