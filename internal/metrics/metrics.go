// Package metrics exposes Prometheus instrumentation for the harvester.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	Dispatches      *prometheus.CounterVec
	WebhookRequests *prometheus.CounterVec
	IngestItems     *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	PollerCycles    prometheus.Counter
	QueueDepth      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_dispatches_total",
			Help: "Provider dispatch attempts by outcome.",
		}, []string{"platform", "outcome"}),
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_webhook_requests_total",
			Help: "Webhook callbacks by response status.",
		}, []string{"status"}),
		IngestItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_ingest_items_total",
			Help: "Ingested payload items by result.",
		}, []string{"result"}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_ingest_duration_seconds",
			Help:    "Time spent ingesting one payload.",
			Buckets: prometheus.DefBuckets,
		}),
		PollerCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_poller_cycles_total",
			Help: "Completed reconciliation passes.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_webhook_queue_depth",
			Help: "Deliveries waiting in the webhook queue.",
		}),
		registry: registry,
	}
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
