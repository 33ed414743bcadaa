// Package redis implements the shared cache, rate limiting, locking and
// pub/sub interfaces of the domain package using go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix namespaces every key written by this package.
	KeyPrefix string
}

// DefaultKeyPrefix is used when ClientConfig.KeyPrefix is empty.
const DefaultKeyPrefix = "lendwatch:"

// Client wraps a go-redis Client and carries the key namespace.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New creates a Client, pings it to verify connectivity, and returns the
// wrapper.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return Wrap(rdb, cfg.KeyPrefix), nil
}

// Wrap adopts an existing go-redis client.
func Wrap(rdb *redis.Client, keyPrefix string) *Client {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Client{rdb: rdb, prefix: keyPrefix}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}
