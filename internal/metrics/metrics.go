package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion paths
const (
	PathWebhook = "webhook"
	PathSync    = "sync"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	WebhookRequests *prometheus.CounterVec
	EventsIngested  *prometheus.CounterVec
	SyncRuns        *prometheus.CounterVec
	SyncDuration    prometheus.Histogram
	Watermark       prometheus.Gauge
}

// NewMetrics registers the metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_tracker_webhook_requests_total",
			Help: "Webhook deliveries by result status",
		}, []string{"status"}),
		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_tracker_events_ingested_total",
			Help: "Events seen per ingestion path and outcome (created, duplicate, skipped)",
		}, []string{"path", "outcome"}),
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_tracker_sync_runs_total",
			Help: "Polling sync runs by result",
		}, []string{"result"}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engagement_tracker_sync_duration_seconds",
			Help:    "Time spent in a polling sync run",
			Buckets: prometheus.DefBuckets,
		}),
		Watermark: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engagement_tracker_sync_watermark_timestamp_seconds",
			Help: "Unix time of the persisted sync watermark",
		}),
	}
}
