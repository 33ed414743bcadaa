package domain

import (
	"context"
	"time"
)

// PositionCache stores fetch results for a bounded time. Get reports present
// as false for missing or expired keys.
type PositionCache interface {
	Get(ctx context.Context, key string) (positions []Position, present bool, err error)
	Set(ctx context.Context, key string, positions []Position, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub messaging.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
