// Package cache provides the optional cross-replica invalidation channel
// for the guildconfig in-process cache: each replica
// keeps its own TTL cache for speed, and publishes an invalidation
// message over Redis pub/sub so sibling replicas drop their copy
// immediately instead of waiting out the TTL. Redis is optional — a
// replica with no Redis configured just relies on its TTL, same as the
// gateway teacher's "continue without Redis" posture.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Client wraps a Redis connection used purely for pub/sub invalidation
// fan-out, not as a value store.
type Client struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New parses redisURL and returns a Client. Connectivity isn't verified
// here; call Ping to check.
func New(redisURL string, log zerolog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &Client{rdb: redis.NewClient(opt), log: log.With().Str("component", "cache").Logger()}, nil
}

// Ping verifies connectivity within a short deadline.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Publish broadcasts key as invalidated on channel.
func (c *Client) Publish(ctx context.Context, channel, key string) error {
	return c.rdb.Publish(ctx, channel, key).Err()
}

// Subscribe invokes onMessage for every key published on channel until
// ctx is cancelled. Intended to run in its own goroutine for the
// lifetime of the process.
func (c *Client) Subscribe(ctx context.Context, channel string, onMessage func(key string)) {
	sub := c.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			onMessage(msg.Payload)
		}
	}
}
