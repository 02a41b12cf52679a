// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tomlkit_schema"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Network metrics
	FetchTotal        *prometheus.CounterVec
	FetchLatency      prometheus.Histogram
	RedirectsFollowed prometheus.Counter

	// Catalog metrics
	CatalogLoads *prometheus.CounterVec

	// Schema metrics
	SchemaDownloads   *prometheus.CounterVec
	SchemaResolutions *prometheus.CounterVec
	StaleFallbacks    prometheus.Counter

	// Cache metrics
	CacheLookups *prometheus.CounterVec
	CacheWrites  *prometheus.CounterVec
	CacheEvicted prometheus.Counter

	// Validation metrics
	ValidationsTotal     *prometheus.CounterVec
	ValidationsInFlight  prometheus.Gauge
	ValidationDuration   prometheus.Histogram
	DiagnosticsPublished *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   prometheus.Counter
	KafkaPublishErrors  prometheus.Counter
	KafkaPublishLatency prometheus.Histogram

	// gRPC metrics
	StreamsTotal  prometheus.Counter
	StreamsActive prometheus.Gauge
	UnaryCalls    *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Network metrics
		FetchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_fetch_total",
			Help:      "Total number of outbound HTTP fetches by result",
		}, []string{"result"}),
		FetchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_fetch_latency_seconds",
			Help:      "Latency of outbound HTTP fetches including redirects",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		RedirectsFollowed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_redirects_followed_total",
			Help:      "Total number of HTTP redirects followed",
		}),

		// Catalog metrics
		CatalogLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_loads_total",
			Help:      "Total number of schema catalog load attempts by result",
		}, []string{"result"}),

		// Schema metrics
		SchemaDownloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_downloads_total",
			Help:      "Total number of schema downloads by result",
		}, []string{"result"}),
		SchemaResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_resolutions_total",
			Help:      "Total number of schema resolutions by origin",
		}, []string{"origin"}),
		StaleFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_stale_fallbacks_total",
			Help:      "Total number of times stale cached content was served after a failed refresh",
		}),

		// Cache metrics
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of schema cache lookups by result",
		}, []string{"result"}),
		CacheWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Total number of schema cache writes by result",
		}, []string{"result"}),
		CacheEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evicted_total",
			Help:      "Total number of cache files removed by the eviction sweep",
		}),

		// Validation metrics
		ValidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Total number of validation tasks by outcome",
		}, []string{"outcome"}),
		ValidationsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validations_in_flight",
			Help:      "Number of validation tasks currently running",
		}),
		ValidationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Duration of validation tasks in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		DiagnosticsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_published_total",
			Help:      "Total number of diagnostics published by severity",
		}, []string{"severity"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}),
		KafkaPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}),
		KafkaPublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		// gRPC metrics
		StreamsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_streams_total",
			Help:      "Total number of gRPC streams started",
		}),
		StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_active",
			Help:      "Number of currently active gRPC streams",
		}),
		UnaryCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_unary_calls_total",
			Help:      "Total number of gRPC unary calls by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordFetch records a completed outbound fetch.
func (m *Metrics) RecordFetch(result string, latencySeconds float64) {
	m.FetchTotal.WithLabelValues(result).Inc()
	m.FetchLatency.Observe(latencySeconds)
}

// RecordRedirect records a followed redirect.
func (m *Metrics) RecordRedirect() {
	m.RedirectsFollowed.Inc()
}

// RecordCatalogLoad records a catalog load attempt.
func (m *Metrics) RecordCatalogLoad(result string) {
	m.CatalogLoads.WithLabelValues(result).Inc()
}

// RecordSchemaDownload records a schema download attempt.
func (m *Metrics) RecordSchemaDownload(err error) {
	if err != nil {
		m.SchemaDownloads.WithLabelValues("error").Inc()
		return
	}
	m.SchemaDownloads.WithLabelValues("ok").Inc()
}

// RecordResolution records where a resolved schema came from ("none" when absent).
func (m *Metrics) RecordResolution(origin string) {
	m.SchemaResolutions.WithLabelValues(origin).Inc()
}

// RecordStaleFallback records serving stale content after a failed refresh.
func (m *Metrics) RecordStaleFallback() {
	m.StaleFallbacks.Inc()
}

// RecordCacheLookup records a cache lookup: fresh, stale, miss or error.
func (m *Metrics) RecordCacheLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheWrite records a cache write attempt.
func (m *Metrics) RecordCacheWrite(err error) {
	if err != nil {
		m.CacheWrites.WithLabelValues("error").Inc()
		return
	}
	m.CacheWrites.WithLabelValues("ok").Inc()
}

// RecordEvicted records cache files removed by a sweep.
func (m *Metrics) RecordEvicted(n int) {
	m.CacheEvicted.Add(float64(n))
}

// RecordValidationStart records a validation task starting.
func (m *Metrics) RecordValidationStart() {
	m.ValidationsInFlight.Inc()
}

// RecordValidationEnd records a validation task ending with the given outcome.
func (m *Metrics) RecordValidationEnd(outcome string, durationSeconds float64) {
	m.ValidationsInFlight.Dec()
	m.ValidationDuration.Observe(durationSeconds)
	m.ValidationsTotal.WithLabelValues(outcome).Inc()
}

// RecordValidationSkipped records a trigger that never started a task.
func (m *Metrics) RecordValidationSkipped(outcome string) {
	m.ValidationsTotal.WithLabelValues(outcome).Inc()
}

// RecordDiagnostic records one published diagnostic.
func (m *Metrics) RecordDiagnostic(severity string) {
	m.DiagnosticsPublished.WithLabelValues(severity).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(err error, latencySeconds float64) {
	m.KafkaPublishTotal.Inc()
	m.KafkaPublishLatency.Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.Inc()
	}
}

// RecordStreamStart records a new gRPC stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a gRPC stream ending.
func (m *Metrics) RecordStreamEnd() {
	m.StreamsActive.Dec()
}

// RecordUnaryCall records a completed gRPC unary call.
func (m *Metrics) RecordUnaryCall(method, code string) {
	m.UnaryCalls.WithLabelValues(method, code).Inc()
}
