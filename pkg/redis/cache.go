package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores billing cache entries in Redis.
// It satisfies billing.Cache.
type Cache struct {
	db  redis.UniversalClient
	ttl time.Duration
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL expires entries after ttl. Zero or negative disables expiration.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewCache wraps a go-redis client.
func NewCache(client redis.UniversalClient, opts ...CacheOption) *Cache {
	c := &Cache{db: client}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get reports a missing key as found=false with a nil error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	return c.db.Set(ctx, key, value, c.ttl).Err()
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.db.Del(ctx, key).Err()
}
