// Package billing keeps a per-organization subscription snapshot readable
// with low latency while the upstream billing provider stays the source of
// truth.
//
// The package is built from four pieces:
//
//   - Resolver: the cache-aside read path. Resolve never fails; store, cache
//     or provider trouble degrades the answer to None.
//   - Syncer: the only writer of snapshots. It re-reads the provider's full
//     state for a customer and republishes it to the cache and the store.
//     Concurrent refreshes of one customer share a single upstream call.
//   - Ingestor: the webhook endpoint. It verifies the signature, filters
//     event types, acknowledges immediately and schedules a resync.
//   - Dispatcher: runs scheduled resyncs in the background with bounded
//     retries and exponential backoff.
//
// Snapshot is a tagged union with three variants: None, SelfServe and the
// provider variant built by Active. Organizations that opted out of billing
// always resolve to SelfServe before any cache or provider access.
//
// # Usage
//
//	provider, _ := billing.NewStripeProvider(billing.StripeConfig{SecretKey: key})
//	verifier, _ := billing.NewStripeVerifier(webhookSecret)
//
//	syncer := billing.NewSyncer(store, provider, cache)
//	resolver := billing.NewResolver(store, syncer, cache)
//	dispatcher := billing.NewDispatcher(syncer)
//	defer dispatcher.Close(context.Background())
//
//	mux.Handle("POST /webhooks/billing", billing.NewIngestor(verifier, dispatcher))
//
//	snap := resolver.Resolve(ctx, organizationID)
//	if sub, ok := snap.Subscription(); ok && sub.Status.IsEntitled() {
//		// paid features
//	}
//
// Cache keys are "<prefix>:customer:<customer id>" for snapshots and
// "<prefix>:org:<organization id>" for the organization to customer mapping.
// The Syncer and the Resolver must share the same prefix.
package billing
