package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/billing"
	"github.com/dmitrymomot/billingsync/pkg/redis"
)

var _ billing.Cache = (*redis.Cache)(nil)

func newServer(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestCache(t *testing.T) {
	t.Parallel()

	t.Run("miss is not an error", func(t *testing.T) {
		t.Parallel()
		_, client := newServer(t)
		cache := redis.NewCache(client)

		val, found, err := cache.Get(context.Background(), "billing:customer:cus_1")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, val)
	})

	t.Run("set get delete", func(t *testing.T) {
		t.Parallel()
		srv, client := newServer(t)
		cache := redis.NewCache(client)
		ctx := context.Background()

		require.NoError(t, cache.Set(ctx, "billing:org:org_1", []byte("cus_1")))
		val, found, err := cache.Get(ctx, "billing:org:org_1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("cus_1"), val)
		assert.Equal(t, time.Duration(0), srv.TTL("billing:org:org_1"))

		require.NoError(t, cache.Delete(ctx, "billing:org:org_1"))
		require.NoError(t, cache.Delete(ctx, "billing:org:org_1"))
		_, found, err = cache.Get(ctx, "billing:org:org_1")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("ttl expires entries", func(t *testing.T) {
		t.Parallel()
		srv, client := newServer(t)
		cache := redis.NewCache(client, redis.WithTTL(time.Minute))
		ctx := context.Background()

		require.NoError(t, cache.Set(ctx, "billing:customer:cus_1", []byte(`{"kind":"none"}`)))
		assert.Equal(t, time.Minute, srv.TTL("billing:customer:cus_1"))

		srv.FastForward(2 * time.Minute)
		_, found, err := cache.Get(ctx, "billing:customer:cus_1")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("server failure surfaces as error", func(t *testing.T) {
		t.Parallel()
		srv, client := newServer(t)
		cache := redis.NewCache(client)
		srv.SetError("LOADING")

		_, found, err := cache.Get(context.Background(), "billing:customer:cus_1")
		require.Error(t, err)
		assert.False(t, found)
	})
}

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("empty url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{})
		assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
	})

	t.Run("invalid url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{ConnectionURL: "http://nope"})
		assert.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
	})

	t.Run("connects and passes healthcheck", func(t *testing.T) {
		t.Parallel()
		srv := miniredis.RunT(t)
		client, err := redis.Connect(context.Background(), redis.Config{
			ConnectionURL:  "redis://" + srv.Addr() + "/0",
			RetryAttempts:  1,
			ConnectTimeout: time.Second,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		assert.NoError(t, redis.Healthcheck(client)(context.Background()))

		srv.Close()
		assert.ErrorIs(t, redis.Healthcheck(client)(context.Background()), redis.ErrHealthcheckFailed)
	})
}
