package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HubMetrics collectors describing subscription hub activity
type HubMetrics struct {
	// Subscribers number of currently registered subscribers
	Subscribers prometheus.Gauge
	// Published total values accepted for distribution
	Published prometheus.Counter
	// Delivered total per-subscriber enqueues which succeeded
	Delivered prometheus.Counter
	// Dropped total per-subscriber enqueues rejected on a full queue
	Dropped prometheus.Counter
	// Stale total values discarded by the sequence guard
	Stale prometheus.Counter
}

// StoreMetrics collectors describing series store activity
type StoreMetrics struct {
	// Queries total queries served, partitioned by operation
	Queries *prometheus.CounterVec
	// QueryDuration query latency in seconds, partitioned by operation
	QueryDuration *prometheus.HistogramVec
	// SamplesReturned total samples emitted by queries
	SamplesReturned prometheus.Counter
}

// PollerMetrics collectors describing snapshot poller activity
type PollerMetrics struct {
	// Polls total polling cycles executed
	Polls prometheus.Counter
	// Changes total value changes detected and forwarded
	Changes prometheus.Counter
}

// Metrics contains all platform-level metric collectors
type Metrics struct {
	Hub    HubMetrics
	Store  StoreMetrics
	Poller PollerMetrics
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		Hub: HubMetrics{
			Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "serieshub",
				Subsystem: "hub",
				Name:      "subscribers",
				Help:      "Number of currently registered subscribers",
			}),
			Published: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "serieshub",
				Subsystem: "hub",
				Name:      "published_total",
				Help:      "Total number of values accepted for distribution",
			}),
			Delivered: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "serieshub",
				Subsystem: "hub",
				Name:      "delivered_total",
				Help:      "Total number of successful per-subscriber deliveries",
			}),
			Dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "serieshub",
				Subsystem: "hub",
				Name:      "dropped_total",
				Help:      "Total number of deliveries rejected on a full subscriber queue",
			}),
			Stale: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "serieshub",
				Subsystem: "hub",
				Name:      "stale_total",
				Help:      "Total number of values discarded by the sequence guard",
			}),
		},
		Store: StoreMetrics{
			Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "serieshub",
				Subsystem: "store",
				Name:      "queries_total",
				Help:      "Total number of series store queries",
			}, []string{"operation"}),
			QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "serieshub",
				Subsystem: "store",
				Name:      "query_duration_seconds",
				Help:      "Series store query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			SamplesReturned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "serieshub",
				Subsystem: "store",
				Name:      "samples_returned_total",
				Help:      "Total number of samples emitted by store queries",
			}),
		},
		Poller: PollerMetrics{
			Polls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "serieshub",
				Subsystem: "poller",
				Name:      "polls_total",
				Help:      "Total number of polling cycles executed",
			}),
			Changes: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "serieshub",
				Subsystem: "poller",
				Name:      "changes_total",
				Help:      "Total number of value changes detected and forwarded",
			}),
		},
	}
}

// Register registers all collectors with the given registry
func (m *Metrics) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.Hub.Subscribers,
		m.Hub.Published,
		m.Hub.Delivered,
		m.Hub.Dropped,
		m.Hub.Stale,
		m.Store.Queries,
		m.Store.QueryDuration,
		m.Store.SamplesReturned,
		m.Poller.Polls,
		m.Poller.Changes,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
