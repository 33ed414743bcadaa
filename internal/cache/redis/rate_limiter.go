package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// waitPollInterval is how often Wait re-checks a saturated window.
const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter using a sliding window kept in a
// Redis sorted set and updated by an atomic Lua script.
type RateLimiter struct {
	c             *Client
	slidingWindow *redis.Script
	waitLimit     int
	waitWindow    time.Duration
}

// NewRateLimiter creates a RateLimiter. Wait admits waitLimit calls per
// waitWindow for each key; non-positive values mean one call per second.
func NewRateLimiter(c *Client, waitLimit int, waitWindow time.Duration) *RateLimiter {
	if waitLimit <= 0 {
		waitLimit = 1
	}
	if waitWindow <= 0 {
		waitWindow = time.Second
	}
	return &RateLimiter{
		c:             c,
		slidingWindow: redis.NewScript(slidingWindowLua),
		waitLimit:     waitLimit,
		waitWindow:    waitWindow,
	}
}

// Allow reports whether one more call for key fits in the window, counting
// it when it does.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.c.rdb,
		[]string{rl.c.key("ratelimit", key)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

// Wait blocks until a call for key is admitted under the limiter's wait
// budget or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: rate limit wait %s: %w", key, domain.Cancelled(err))
		}

		allowed, err := rl.Allow(ctx, key, rl.waitLimit, rl.waitWindow)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, domain.Cancelled(ctx.Err()))
		case <-timer.C:
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
