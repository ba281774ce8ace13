package redis

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/priceverse/priceverse/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter implements domain.RateLimiter with a sliding window over a
// Redis sorted set per client key. Each request is a member scored by its
// arrival time; one atomic Lua script removes expired members, counts the
// remainder, and admits or denies, so concurrent checks can never admit
// more than the limit inside a window.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow records and checks a request for key under limit/window. The member
// is the arrival time plus a random suffix so concurrent requests in the
// same millisecond stay distinct.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitResult, error) {
	now := time.Now()
	nowMs := now.UnixMilli()
	windowStart := nowMs - window.Milliseconds()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString()[:8])
	ttl := int64(math.Ceil(window.Seconds())) + 1

	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		nowMs,
		windowStart,
		limit,
		member,
		ttl,
	).Int64Slice()
	if err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(result) < 2 {
		return domain.RateLimitResult{}, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(result))
	}

	if result[0] != 1 {
		return domain.RateLimitResult{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  now.Add(window),
			RetryAfter: window,
		}, nil
	}

	remaining := limit - int(result[1])
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitResult{
		Allowed:    true,
		Remaining:  remaining,
		ResetTime:  now.Add(window),
		RetryAfter: 0,
	}, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
