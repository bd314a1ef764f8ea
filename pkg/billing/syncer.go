package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Syncer is the single writer of subscription snapshots. It re-fetches the
// full authoritative state from the provider and republishes it to the
// cache and the durable store.
type Syncer struct {
	store    Store
	provider Provider
	cache    snapshotCache
	logger   *slog.Logger
	metrics  *Metrics
	flights  singleflight.Group
}

// NewSyncer creates a Syncer.
// Panics if store or provider is nil; a nil cache disables caching.
func NewSyncer(store Store, provider Provider, cache Cache, opts ...SyncerOption) *Syncer {
	if store == nil {
		panic("billing: Store is required")
	}
	if provider == nil {
		panic("billing: Provider is required")
	}
	if cache == nil {
		cache = NoOpCache{}
	}

	o := &syncerOptions{
		logger:    slog.Default(),
		keyPrefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Syncer{
		store:    store,
		provider: provider,
		cache:    snapshotCache{cache: cache, keys: keys{prefix: o.keyPrefix}},
		logger:   o.logger.With(logger.Component("billing.syncer")),
		metrics:  o.metrics,
	}
}

// Sync refreshes the snapshot for customerID and returns it.
// It never fails: every error path yields None.
func (s *Syncer) Sync(ctx context.Context, customerID string) Snapshot {
	snap, _ := s.Refresh(ctx, customerID)
	return snap
}

// Refresh is Sync with the failure reason exposed. On error the returned
// snapshot is None and nothing was cached.
//
// Concurrent refreshes for the same customer share one upstream fetch.
// The shared fetch runs detached from any caller's cancellation and always
// completes; a caller whose ctx ends first stops waiting and gets ctx.Err.
func (s *Syncer) Refresh(ctx context.Context, customerID string) (Snapshot, error) {
	if customerID == "" {
		return None(), ErrUnknownCustomer
	}

	ch := s.flights.DoChan(customerID, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), customerID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return None(), res.Err
		}
		return res.Val.(Snapshot), nil
	case <-ctx.Done():
		return None(), ctx.Err()
	}
}

func (s *Syncer) refresh(ctx context.Context, customerID string) (snap Snapshot, err error) {
	started := time.Now()
	log := s.logger.With(logger.CustomerID(customerID))

	defer func() {
		if r := recover(); r != nil {
			snap, err = None(), fmt.Errorf("%w: panic during sync: %v", ErrUpstreamMalformed, r)
		}
		switch {
		case err == nil && snap.IsActive():
			s.metrics.synced("active", started)
		case err == nil:
			s.metrics.synced("none", started)
		case errors.Is(err, ErrUnknownCustomer):
			s.metrics.synced("unknown_customer", started)
		default:
			log.ErrorContext(ctx, "billing sync failed", logger.Error(err))
			s.metrics.synced("error", started)
		}
	}()

	org, err := s.store.FindOrganizationByCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			log.WarnContext(ctx, "provider customer is not linked to an organization")
			return None(), ErrUnknownCustomer
		}
		return None(), errors.Join(ErrPersistenceFailure, err)
	}
	log = log.With(logger.OrganizationID(org.ID))

	subs, err := s.provider.ListSubscriptions(ctx, ListSubscriptionsParams{
		CustomerID: customerID,
		Limit:      1,
	})
	if err != nil {
		return None(), errors.Join(ErrUpstreamUnavailable, err)
	}

	if len(subs) == 0 {
		s.publish(ctx, log, org.ID, customerID, None())
		return None(), nil
	}

	sub := subs[0]
	if len(sub.Items) == 0 {
		log.WarnContext(ctx, "provider subscription has no line items, treating as no subscription",
			logger.SubscriptionID(sub.ID))
		s.publish(ctx, log, org.ID, customerID, None())
		return None(), nil
	}

	details := Subscription{
		ID:                 sub.ID,
		Status:             ParseStatus(sub.Status),
		PriceID:            sub.Items[0].PriceID,
		CurrentPeriodStart: sub.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:   sub.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		PaymentMethod:      sub.PaymentMethod,
	}

	// Pricing detail is cosmetic; the subscription's existence and status are not.
	if details.PriceID != "" {
		price, err := s.provider.GetPrice(ctx, details.PriceID)
		if err != nil {
			log.WarnContext(ctx, "failed to fetch price detail, continuing without it",
				slog.String("price_id", details.PriceID), logger.Error(err))
		} else if price != nil {
			details.Price = &Price{
				Nickname:   price.Nickname,
				UnitAmount: price.UnitAmount,
				Currency:   price.Currency,
				Interval:   price.Interval,
			}
			details.Product = price.Product
		}
	}

	if !details.Status.Known() {
		log.InfoContext(ctx, "provider reported an unrecognized subscription status",
			slog.String("status", details.Status.String()))
	}

	snap = Active(details)
	s.publish(ctx, log, org.ID, customerID, snap)
	return snap, nil
}

// publish writes the cache first, then the durable store. Neither failure
// changes the snapshot handed back to the caller.
func (s *Syncer) publish(ctx context.Context, log *slog.Logger, organizationID, customerID string, snap Snapshot) {
	if err := s.cache.setSnapshot(ctx, customerID, snap); err != nil {
		log.DebugContext(ctx, "failed to cache billing snapshot", logger.Error(err))
	}

	state := BillingState{SubscriptionType: snap.SubscriptionType()}
	if snap.IsActive() {
		state.Snapshot = &snap
	}
	if err := s.store.UpdateBillingState(ctx, organizationID, state); err != nil {
		log.ErrorContext(ctx, "failed to persist billing snapshot",
			logger.Error(errors.Join(ErrPersistenceFailure, err)))
	}
}
