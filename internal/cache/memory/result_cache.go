// Package memory implements an in-process domain.PositionCache.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

// DefaultTTL applies when Set is called without a positive ttl.
const DefaultTTL = 5 * time.Minute

type entry struct {
	positions []domain.Position
	createdAt time.Time
	expiresAt time.Time
}

// ResultCache is a mutex-guarded map with lazy expiry. Expired entries are
// removed when read; nothing evicts them in the background.
type ResultCache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
}

// NewResultCache creates an empty cache. A non-positive defaultTTL uses
// DefaultTTL.
func NewResultCache(defaultTTL time.Duration) *ResultCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &ResultCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the cached positions while now <= expiresAt. Reads do not
// extend the entry's lifetime.
func (c *ResultCache) Get(_ context.Context, key string) ([]domain.Position, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return clonePositions(e.positions), true, nil
}

// Set stores positions under key for ttl, or the default TTL when ttl <= 0.
func (c *ResultCache) Set(_ context.Context, key string, positions []domain.Position, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		positions: clonePositions(positions),
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Invalidate drops key.
func (c *ResultCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Len returns the number of physically stored entries, expired or not.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// clonePositions copies the slice header so callers cannot append into the
// cached backing array. A nil input stays an empty, non-nil sequence.
func clonePositions(in []domain.Position) []domain.Position {
	out := make([]domain.Position, len(in))
	copy(out, in)
	return out
}

var _ domain.PositionCache = (*ResultCache)(nil)
