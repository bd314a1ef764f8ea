package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/billingsync/pkg/billing"
	"github.com/dmitrymomot/billingsync/pkg/cache"
	"github.com/dmitrymomot/billingsync/pkg/config"
	"github.com/dmitrymomot/billingsync/pkg/httpserver"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/pg"
	"github.com/dmitrymomot/billingsync/pkg/redis"
	"github.com/dmitrymomot/billingsync/pkg/requestid"
	billingsvc "github.com/dmitrymomot/billingsync/svc/billing"
)

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("billingsync exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log := logger.New(append(logger.FromConfig(logCfg),
		logger.WithContextExtractors(requestid.LoggerExtractor),
	)...)
	logger.SetAsDefault(log)

	var (
		svcCfg  billingsvc.Config
		pgCfg   pg.Config
		httpCfg httpserver.Config
	)
	if err := config.Load(&svcCfg); err != nil {
		return err
	}
	if err := config.Load(&pgCfg); err != nil {
		return err
	}
	if err := config.Load(&httpCfg); err != nil {
		return err
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(pool)}}

	var billingCache billing.Cache
	switch svcCfg.Cache {
	case billingsvc.CacheRedis:
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return err
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		billingCache = redis.NewCache(client, redis.WithTTL(redisCfg.CacheTTL))
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	case billingsvc.CacheMemory:
		billingCache = cache.NewMemory(
			cache.WithCapacity(svcCfg.MemoryCacheSize),
			cache.WithTTL(svcCfg.MemoryCacheTTL),
		)
	case billingsvc.CacheNone:
		billingCache = billing.NoOpCache{}
	default:
		return fmt.Errorf("unknown billing cache backend %q", svcCfg.Cache)
	}

	backend, err := billingsvc.NewBackend(svcCfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := billingsvc.New(svcCfg, billingsvc.Deps{
		Store:   billingsvc.NewStore(pool),
		Cache:   billingCache,
		Backend: backend,
		Metrics: billing.NewMetrics(registry),
		Logger:  log,
	})

	log.Info("billingsync starting",
		slog.String("provider", svcCfg.Provider),
		slog.String("cache", svcCfg.Cache))

	srv := httpserver.New(
		httpserver.WithConfig(httpCfg),
		httpserver.WithLogger(log),
		httpserver.WithShutdownHook(svc.Close),
	)
	return srv.Run(ctx, svc.Router(
		billingsvc.WithReadinessChecks(checks...),
		billingsvc.WithGatherer(registry),
	))
}
