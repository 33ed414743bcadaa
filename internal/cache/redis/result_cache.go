package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultResultTTL applies when Set is called without a positive ttl.
const DefaultResultTTL = 5 * time.Minute

// ResultCache implements domain.PositionCache with JSON values and native
// Redis key expiry, so replicas share fetch results.
type ResultCache struct {
	c          *Client
	defaultTTL time.Duration
}

// NewResultCache creates a ResultCache backed by the given Client.
func NewResultCache(c *Client, defaultTTL time.Duration) *ResultCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultResultTTL
	}
	return &ResultCache{c: c, defaultTTL: defaultTTL}
}

func (rc *ResultCache) resultKey(key string) string {
	return rc.c.key("result", key)
}

// Get returns the cached positions, or present=false when the key is missing
// or has expired.
func (rc *ResultCache) Get(ctx context.Context, key string) ([]domain.Position, bool, error) {
	data, err := rc.c.rdb.Get(ctx, rc.resultKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis: get result %s: %w", key, err)
	}

	positions := []domain.Position{}
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, false, fmt.Errorf("redis: decode result %s: %w", key, err)
	}
	return positions, true, nil
}

// Set stores positions under key for ttl, or the default TTL when ttl <= 0.
func (rc *ResultCache) Set(ctx context.Context, key string, positions []domain.Position, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("redis: encode result %s: %w", key, err)
	}
	if err := rc.c.rdb.Set(ctx, rc.resultKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set result %s: %w", key, err)
	}
	return nil
}

// Invalidate deletes key.
func (rc *ResultCache) Invalidate(ctx context.Context, key string) error {
	if err := rc.c.rdb.Del(ctx, rc.resultKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate result %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionCache = (*ResultCache)(nil)
