package billing

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/queue"
)

// SyncerOption configures a Syncer.
type SyncerOption func(*syncerOptions)

type syncerOptions struct {
	logger    *slog.Logger
	metrics   *Metrics
	keyPrefix string
}

func WithSyncerLogger(l *slog.Logger) SyncerOption {
	return func(o *syncerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithSyncerMetrics(m *Metrics) SyncerOption {
	return func(o *syncerOptions) { o.metrics = m }
}

// WithSyncerKeyPrefix must match the prefix given to the Resolver.
func WithSyncerKeyPrefix(prefix string) SyncerOption {
	return func(o *syncerOptions) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// ResolverOption configures a Resolver.
type ResolverOption func(*resolverOptions)

type resolverOptions struct {
	logger            *slog.Logger
	metrics           *Metrics
	keyPrefix         string
	lastKnownFallback bool
}

func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(o *resolverOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(o *resolverOptions) { o.metrics = m }
}

func WithResolverKeyPrefix(prefix string) ResolverOption {
	return func(o *resolverOptions) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithLastKnownFallback serves the durable store's denormalized snapshot
// when the provider cannot be reached, instead of degrading to None.
func WithLastKnownFallback() ResolverOption {
	return func(o *resolverOptions) { o.lastKnownFallback = true }
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*ingestorOptions)

type ingestorOptions struct {
	logger          *slog.Logger
	metrics         *Metrics
	eventTypes      map[string]struct{}
	signatureHeader string
	maxBodyBytes    int64
}

func WithIngestorLogger(l *slog.Logger) IngestorOption {
	return func(o *ingestorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithIngestorMetrics(m *Metrics) IngestorOption {
	return func(o *ingestorOptions) { o.metrics = m }
}

// WithEventTypes replaces the allow-list of event types that trigger a resync.
func WithEventTypes(types ...string) IngestorOption {
	return func(o *ingestorOptions) {
		if len(types) == 0 {
			return
		}
		o.eventTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			o.eventTypes[t] = struct{}{}
		}
	}
}

// WithSignatureHeader sets the request header ServeHTTP reads the signature from.
func WithSignatureHeader(name string) IngestorOption {
	return func(o *ingestorOptions) {
		if name != "" {
			o.signatureHeader = name
		}
	}
}

// WithMaxBodyBytes caps the webhook payload size accepted by ServeHTTP.
func WithMaxBodyBytes(n int64) IngestorOption {
	return func(o *ingestorOptions) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	logger       *slog.Logger
	metrics      *Metrics
	backoff      queue.BackoffStrategy
	maxAttempts  int
	concurrency  int
	queueSize    int
	pollInterval time.Duration
}

func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(o *dispatcherOptions) { o.metrics = m }
}

// WithBackoff sets the delay schedule between retries of a failed resync.
func WithBackoff(b queue.BackoffStrategy) DispatcherOption {
	return func(o *dispatcherOptions) {
		if b != nil {
			o.backoff = b
		}
	}
}

// WithMaxAttempts bounds how many times one resync runs, including the
// first try. The queue caps retries at 10.
func WithMaxAttempts(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithConcurrency(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithQueueSize sets how many resyncs may wait to run, retries included,
// before Dispatch starts dropping new ones.
func WithQueueSize(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithPollInterval sets how often delayed retries are checked for.
// New resyncs start immediately regardless.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}
