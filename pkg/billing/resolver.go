package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Resolver is the read path invoked whenever a request needs to know an
// organization's plan or status. It serves snapshots cache-aside and falls
// back to the Syncer on a miss.
type Resolver struct {
	store             Store
	syncer            *Syncer
	cache             snapshotCache
	logger            *slog.Logger
	metrics           *Metrics
	lastKnownFallback bool
}

// NewResolver creates a Resolver.
// Panics if store or syncer is nil; a nil cache disables caching.
func NewResolver(store Store, syncer *Syncer, cache Cache, opts ...ResolverOption) *Resolver {
	if store == nil {
		panic("billing: Store is required")
	}
	if syncer == nil {
		panic("billing: Syncer is required")
	}
	if cache == nil {
		cache = NoOpCache{}
	}

	o := &resolverOptions{
		logger:    slog.Default(),
		keyPrefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Resolver{
		store:             store,
		syncer:            syncer,
		cache:             snapshotCache{cache: cache, keys: keys{prefix: o.keyPrefix}},
		logger:            o.logger.With(logger.Component("billing.resolver")),
		metrics:           o.metrics,
		lastKnownFallback: o.lastKnownFallback,
	}
}

// Resolve returns the organization's current snapshot. It never fails;
// any error downgrades the result to None and is logged.
func (r *Resolver) Resolve(ctx context.Context, organizationID string) Snapshot {
	snap := r.resolve(ctx, organizationID)
	r.metrics.resolved(snap.Kind())
	return snap
}

func (r *Resolver) resolve(ctx context.Context, organizationID string) Snapshot {
	log := r.logger.With(logger.OrganizationID(organizationID))

	org, err := r.store.FindOrganization(ctx, organizationID)
	if err != nil {
		if !errors.Is(err, ErrOrganizationNotFound) {
			log.ErrorContext(ctx, "failed to load organization billing record", logger.Error(err))
		}
		return None()
	}

	// Opting out of billing outranks anything cached or reported upstream.
	if org.OptedOutOfBilling {
		return SelfServe()
	}

	customerID := org.BillingCustomerID
	if customerID == "" {
		cached, found, err := r.cache.getCustomerID(ctx, organizationID)
		if err != nil {
			r.metrics.cacheLookup("organization", "error")
			log.WarnContext(ctx, "failed to read customer mapping from cache", logger.Error(err))
			return None()
		}
		if !found {
			r.metrics.cacheLookup("organization", "miss")
			return None()
		}
		r.metrics.cacheLookup("organization", "hit")
		customerID = cached

		if err := r.cache.setCustomerID(ctx, organizationID, customerID); err != nil {
			log.DebugContext(ctx, "failed to warm customer mapping", logger.Error(err))
		}
	}
	log = log.With(logger.CustomerID(customerID))

	snap, found, err := r.cache.getSnapshot(ctx, customerID)
	switch {
	case err != nil:
		// A broken cache degrades to the sync path rather than failing the read.
		r.metrics.cacheLookup("snapshot", "error")
		log.WarnContext(ctx, "failed to read snapshot from cache", logger.Error(err))
	case found:
		r.metrics.cacheLookup("snapshot", "hit")
		return snap
	default:
		r.metrics.cacheLookup("snapshot", "miss")
	}

	snap, err = r.syncer.Refresh(ctx, customerID)
	if err != nil {
		if r.lastKnownFallback && org.LastKnownSnapshot != nil && isUpstreamFailure(err) {
			log.WarnContext(ctx, "serving last known billing snapshot", logger.Error(err))
			return *org.LastKnownSnapshot
		}
		return None()
	}
	return snap
}

// Invalidate drops the cached snapshot for the organization so the next
// Resolve resyncs from the provider. It is a no-op for organizations without
// a billing customer.
func (r *Resolver) Invalidate(ctx context.Context, organizationID string) error {
	org, err := r.store.FindOrganization(ctx, organizationID)
	if err != nil {
		return err
	}

	customerID := org.BillingCustomerID
	if customerID == "" {
		cached, found, err := r.cache.getCustomerID(ctx, organizationID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		customerID = cached
	}

	if err := r.cache.deleteSnapshot(ctx, customerID); err != nil {
		return errors.Join(ErrCacheUnavailable, err)
	}

	r.logger.DebugContext(ctx, "billing snapshot invalidated",
		logger.OrganizationID(organizationID),
		logger.CustomerID(customerID))
	return nil
}

func isUpstreamFailure(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrUpstreamMalformed)
}
