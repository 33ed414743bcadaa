package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SignalBus implements domain.SignalBus over Redis Pub/Sub. Channel names are
// namespaced with the client's key prefix on the wire and reported to callers
// without it.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends payload to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel, which may be
// a glob pattern. The returned channel is closed when ctx ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	wire := sb.c.prefix + channel
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.c.rdb.PSubscribe(ctx, wire)
	} else {
		pubsub = sb.c.rdb.Subscribe(ctx, wire)
	}

	// Wait for the subscription confirmation before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// hasPattern reports whether channel needs PSUBSCRIBE.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
