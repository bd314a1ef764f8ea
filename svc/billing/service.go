package billingsvc

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/billingsync/pkg/billing"
	"github.com/dmitrymomot/billingsync/pkg/queue"
)

// Deps are the external collaborators of the service.
type Deps struct {
	Store   billing.Store
	Cache   billing.Cache // nil disables caching
	Backend Backend
	Metrics *billing.Metrics
	Logger  *slog.Logger
}

// Service wires the billing components together.
type Service struct {
	Resolver   *billing.Resolver
	Syncer     *billing.Syncer
	Ingestor   *billing.Ingestor
	Dispatcher *billing.Dispatcher

	logger *slog.Logger
}

// New assembles the service and starts the resync workers.
// Call Close to drain them.
func New(cfg Config, deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	cache := deps.Cache
	if cache == nil {
		cache = billing.NoOpCache{}
	}
	prefix := cfg.CacheKeyPrefix
	if prefix == "" {
		prefix = billing.DefaultKeyPrefix
	}

	syncer := billing.NewSyncer(deps.Store, deps.Backend.Provider, cache,
		billing.WithSyncerLogger(log),
		billing.WithSyncerMetrics(deps.Metrics),
		billing.WithSyncerKeyPrefix(prefix),
	)

	resolverOpts := []billing.ResolverOption{
		billing.WithResolverLogger(log),
		billing.WithResolverMetrics(deps.Metrics),
		billing.WithResolverKeyPrefix(prefix),
	}
	if cfg.LastKnownFallback {
		resolverOpts = append(resolverOpts, billing.WithLastKnownFallback())
	}
	resolver := billing.NewResolver(deps.Store, syncer, cache, resolverOpts...)

	backoff := queue.DefaultBackoff()
	if cfg.ResyncBaseDelay > 0 && cfg.ResyncMaxDelay > 0 {
		backoff = queue.ExponentialBackoff{
			InitialInterval: cfg.ResyncBaseDelay,
			MaxInterval:     cfg.ResyncMaxDelay,
			Multiplier:      2,
			JitterFactor:    0.1,
		}
	}
	dispatcher := billing.NewDispatcher(syncer,
		billing.WithDispatcherLogger(log),
		billing.WithDispatcherMetrics(deps.Metrics),
		billing.WithBackoff(backoff),
		billing.WithMaxAttempts(cfg.ResyncAttempts),
		billing.WithConcurrency(cfg.ResyncConcurrency),
		billing.WithQueueSize(cfg.ResyncQueueSize),
	)

	ingestorOpts := []billing.IngestorOption{
		billing.WithIngestorLogger(log),
		billing.WithIngestorMetrics(deps.Metrics),
		billing.WithMaxBodyBytes(cfg.WebhookMaxBodyBytes),
	}
	if len(deps.Backend.EventTypes) > 0 {
		ingestorOpts = append(ingestorOpts, billing.WithEventTypes(deps.Backend.EventTypes...))
	}
	if deps.Backend.SignatureHeader != "" {
		ingestorOpts = append(ingestorOpts, billing.WithSignatureHeader(deps.Backend.SignatureHeader))
	}
	ingestor := billing.NewIngestor(deps.Backend.Verifier, dispatcher, ingestorOpts...)

	return &Service{
		Resolver:   resolver,
		Syncer:     syncer,
		Ingestor:   ingestor,
		Dispatcher: dispatcher,
		logger:     log,
	}
}

// Close waits for queued resyncs until ctx expires.
func (s *Service) Close(ctx context.Context) error {
	return s.Dispatcher.Close(ctx)
}
