// Package billingsvc assembles the billing synchronization components into a
// service: a PostgreSQL organization store, the provider selected by
// configuration, the resolver, syncer, webhook ingestor and resync
// dispatcher, and a chi router exposing them over HTTP.
//
// Routes:
//
//	POST /webhooks/billing                                 provider webhooks
//	GET  /organizations/{organizationID}/billing           resolved snapshot
//	POST /organizations/{organizationID}/billing/invalidate drop cached snapshot
//	GET  /healthz                                          liveness
//	GET  /readyz                                           readiness
//	GET  /metrics                                          Prometheus
//
// The store expects an organizations table with the columns id,
// billing_customer_id, opted_out_of_billing, subscription_type and
// billing_snapshot (jsonb). Schema migrations are managed elsewhere.
package billingsvc
