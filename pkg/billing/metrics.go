package billing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "billing"

// Metrics holds Prometheus instrumentation for the read path, the sync
// engine and webhook ingestion. A nil *Metrics records nothing.
type Metrics struct {
	cacheLookups  *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	syncs         *prometheus.CounterVec
	syncDuration  prometheus.Histogram
	webhookEvents *prometheus.CounterVec
	resyncRetries prometheus.Counter
	resyncDropped prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// Panics on duplicate registration, like prometheus.MustRegister.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_lookups_total",
				Help:      "Fast cache lookups by key type and result",
			},
			[]string{"key", "result"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "resolutions_total",
				Help:      "Resolved snapshots by variant",
			},
			[]string{"kind"},
		),
		syncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "syncs_total",
				Help:      "Sync engine runs by outcome",
			},
			[]string{"outcome"},
		),
		syncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "sync_duration_seconds",
				Help:      "Latency of upstream refreshes",
				Buckets:   prometheus.DefBuckets,
			},
		),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
		resyncRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "resync_retries_total",
				Help:      "Deferred resync attempts that were retried",
			},
		),
		resyncDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "resync_dropped_total",
				Help:      "Deferred resyncs dropped after exhausting retries",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.cacheLookups,
			m.resolutions,
			m.syncs,
			m.syncDuration,
			m.webhookEvents,
			m.resyncRetries,
			m.resyncDropped,
		)
	}

	return m
}

func (m *Metrics) cacheLookup(key, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(key, result).Inc()
}

func (m *Metrics) resolved(kind Kind) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) synced(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) webhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) resyncRetried() {
	if m == nil {
		return
	}
	m.resyncRetries.Inc()
}

func (m *Metrics) resyncGaveUp() {
	if m == nil {
		return
	}
	m.resyncDropped.Inc()
}
