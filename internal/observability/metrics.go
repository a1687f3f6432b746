// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "lightning_lens"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	EventsReceived  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	FeedReconnects  prometheus.Counter
	EventsArchived  prometheus.Counter
	ArchiveFailures prometheus.Counter

	// Learning metrics
	BufferSize       prometheus.Gauge
	EventCount       prometheus.Gauge
	RetrainsTotal    *prometheus.CounterVec
	RetrainDuration  prometheus.Histogram
	RetrainCoalesced prometheus.Counter
	LearningRate     prometheus.Gauge
	ModelScore       prometheus.Gauge
	ModelVersion     prometheus.Gauge

	// Recommendation metrics
	RecommendationsGenerated prometheus.Counter
	RecommendationsSkipped   *prometheus.CounterVec

	// Snapshot metrics
	SnapshotsTotal *prometheus.CounterVec

	// Delivery metrics
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	HTTPRateLimited prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRetrain  prometheus.Gauge
	LastSuccessfulSnapshot prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_received_total",
			Help:      "Total number of telemetry events accepted by kind",
		}, []string{"kind"}),
		EventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_rejected_total",
			Help:      "Total number of telemetry messages rejected by reason",
		}, []string{"reason"}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "feed_reconnects_total",
			Help:      "Total number of telemetry feed reconnect attempts",
		}),
		EventsArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_archived_total",
			Help:      "Total number of telemetry events written to the archive",
		}),
		ArchiveFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "archive_failures_total",
			Help:      "Total number of failed telemetry archive writes",
		}),

		BufferSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "buffer_size",
			Help:      "Current number of events in the event buffer",
		}),
		EventCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "event_count",
			Help:      "Number of events ever added to the buffer",
		}),
		RetrainsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "retrains_total",
			Help:      "Total number of retrains by status",
		}, []string{"status"}),
		RetrainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "retrain_duration_seconds",
			Help:      "Duration of a feature extraction plus model fit",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		RetrainCoalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "retrains_coalesced_total",
			Help:      "Pending retrain batches replaced by a newer batch",
		}),
		LearningRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "learning_rate",
			Help:      "Current adaptive learning rate",
		}),
		ModelScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "model_score",
			Help:      "Most recent 1/(1+MAE) evaluation score",
		}),
		ModelVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "model_version",
			Help:      "Version of the live model, 0 while unfitted",
		}),

		RecommendationsGenerated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "generated_total",
			Help:      "Total number of recommendations emitted",
		}),
		RecommendationsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "skipped_total",
			Help:      "Channels skipped during recommendation by reason",
		}, []string{"reason"}),

		SnapshotsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "saves_total",
			Help:      "Total number of snapshot attempts by status",
		}, []string{"status"}),

		DeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "deliveries_total",
			Help:      "Recommendation batch deliveries by sink and status",
		}, []string{"sink", "status"}),
		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "duration_seconds",
			Help:      "Recommendation batch delivery latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
		HTTPRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulRetrain: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_retrain_timestamp",
			Help:      "Unix timestamp of the last successful retrain",
		}),
		LastSuccessfulSnapshot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_snapshot_timestamp",
			Help:      "Unix timestamp of the last successful snapshot",
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var (
	mu             sync.RWMutex
	defaultMetrics = NewMetrics("")
)

// Configure replaces the default metrics with a fresh set under namespace.
// Call it once at startup, before any Record helper runs.
func Configure(namespace string) {
	m := NewMetrics(namespace)
	mu.Lock()
	defaultMetrics = m
	mu.Unlock()
}

// Default returns the metrics used by the Record helpers.
func Default() *Metrics {
	mu.RLock()
	defer mu.RUnlock()
	return defaultMetrics
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Default().registry, promhttp.HandlerOpts{})
}

// RecordEventReceived increments the accepted events counter.
func RecordEventReceived(kind string) {
	Default().EventsReceived.WithLabelValues(kind).Inc()
}

// RecordEventRejected records a telemetry message that could not be used.
func RecordEventRejected(reason string) {
	Default().EventsRejected.WithLabelValues(reason).Inc()
}

// RecordFeedReconnect increments the feed reconnect counter.
func RecordFeedReconnect() {
	Default().FeedReconnects.Inc()
}

// RecordArchive records a telemetry archive write of n events.
func RecordArchive(n int, err error) {
	if err != nil {
		Default().ArchiveFailures.Inc()
		return
	}
	Default().EventsArchived.Add(float64(n))
}

// UpdateBuffer updates the buffer gauges.
func UpdateBuffer(size int, eventCount int64) {
	m := Default()
	m.BufferSize.Set(float64(size))
	m.EventCount.Set(float64(eventCount))
}

// RecordRetrain records a finished retrain.
func RecordRetrain(status string, d time.Duration) {
	m := Default()
	m.RetrainsTotal.WithLabelValues(status).Inc()
	m.RetrainDuration.Observe(d.Seconds())
	if status == "success" {
		m.LastSuccessfulRetrain.SetToCurrentTime()
	}
}

// RecordRetrainCoalesced counts a pending batch replaced before it ran.
func RecordRetrainCoalesced() {
	Default().RetrainCoalesced.Inc()
}

// UpdateModel updates the model gauges.
func UpdateModel(version int64, learningRate, score float64) {
	m := Default()
	m.ModelVersion.Set(float64(version))
	m.LearningRate.Set(learningRate)
	m.ModelScore.Set(score)
}

// RecordRecommendations counts emitted recommendations.
func RecordRecommendations(n int) {
	Default().RecommendationsGenerated.Add(float64(n))
}

// RecordRecommendationSkipped counts a channel left out of a recommendation run.
func RecordRecommendationSkipped(reason string) {
	Default().RecommendationsSkipped.WithLabelValues(reason).Inc()
}

// RecordSnapshot records a snapshot attempt.
func RecordSnapshot(err error) {
	m := Default()
	if err != nil {
		m.SnapshotsTotal.WithLabelValues("error").Inc()
		return
	}
	m.SnapshotsTotal.WithLabelValues("success").Inc()
	m.LastSuccessfulSnapshot.SetToCurrentTime()
}

// RecordDelivery records one sink delivery.
func RecordDelivery(sink string, d time.Duration, err error) {
	m := Default()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DeliveriesTotal.WithLabelValues(sink, status).Inc()
	m.DeliveryDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, d time.Duration) {
	m := Default()
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited() {
	Default().HTTPRateLimited.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, d time.Duration, err error) {
	m := Default()
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
