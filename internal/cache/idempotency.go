package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyCache remembers delivery ids so that a redelivered event is
// processed once.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewIdempotencyCache(client *redis.Client, prefix string, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if prefix == "" {
		prefix = "idem"
	}
	return &IdempotencyCache{client: client, ttl: ttl, prefix: prefix}
}

// Claim records key and reports whether this caller is the first to see it.
// A nil cache claims every key.
func (c *IdempotencyCache) Claim(ctx context.Context, key string) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return true, nil
	}
	return c.client.SetNX(ctx, c.prefixed(key), time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
}

// Release forgets key so that a later delivery is processed again.
func (c *IdempotencyCache) Release(ctx context.Context, key string) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	return c.client.Del(ctx, c.prefixed(key)).Err()
}

func (c *IdempotencyCache) prefixed(key string) string {
	return c.prefix + ":" + key
}
