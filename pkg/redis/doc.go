// Package redis connects to Redis with retries and exposes a billing cache
// backend built on github.com/redis/go-redis/v9.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	cache := redis.NewCache(client, redis.WithTTL(cfg.CacheTTL))
//
// Cache reports missing keys as a miss rather than an error, so a flushed or
// evicted key simply sends the next read through the sync path.
// Healthcheck plugs the connection into readiness checks.
package redis
