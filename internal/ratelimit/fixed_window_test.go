package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindow(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewFixedWindow(client, 2, time.Minute)

	allowed, remaining, err := limiter.Allow(ctx, "uploader")
	if err != nil || !allowed {
		t.Fatalf("expected first call allowed got allowed=%v err=%v", allowed, err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 remaining got %d", remaining)
	}
	allowed, _, _ = limiter.Allow(ctx, "uploader")
	if !allowed {
		t.Fatalf("expected second call allowed")
	}
	allowed, _, _ = limiter.Allow(ctx, "uploader")
	if allowed {
		t.Fatalf("expected third call rejected")
	}

	// A different key has its own window.
	allowed, _, _ = limiter.Allow(ctx, "other")
	if !allowed {
		t.Fatalf("expected separate key allowed")
	}
}
