package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindow implements a distributed fixed-window rate limiter using Redis.
// Upload endpoints use it per uploader so one operator cannot flood the
// import pipeline.
type FixedWindow struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewFixedWindow constructs a limiter allowing limit calls per window.
func NewFixedWindow(client *redis.Client, limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{client: client, limit: limit, window: window}
}

// Allow consumes one slot for the key in the current window.
// Returns the allowed flag and how many slots remain.
func (w *FixedWindow) Allow(ctx context.Context, key string) (bool, int, error) {
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().UnixMilli()/w.window.Milliseconds())
	res, err := windowScript.Run(ctx, w.client, []string{windowKey}, w.limit, w.window.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected script result: %v", res)
	}
	allowed := arr[0].(int64) == 1
	remaining := int(arr[1].(int64))
	return allowed, remaining, nil
}

var windowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local count = redis.call('INCR', key)
if count == 1 then
  redis.call('PEXPIRE', key, ttl)
end

if count > limit then
  return {0, 0}
end
return {1, limit - count}
`)
