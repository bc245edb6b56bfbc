package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	// Prometheus metrics
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheErrors        *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	cacheHitRate       *prometheus.GaugeVec
	cacheKeys          *prometheus.GaugeVec
	cacheMemoryBytes   *prometheus.GaugeVec
	decisions          *prometheus.CounterVec
	grpcRequests       *prometheus.CounterVec
	grpcDuration       *prometheus.HistogramVec
	grpcErrors         *prometheus.CounterVec
}

// NewPrometheusExporter creates a new Prometheus exporter registered with
// the default registry.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return NewPrometheusExporterWith(collector, prometheus.DefaultRegisterer)
}

// NewPrometheusExporterWith registers the metrics with reg.
func NewPrometheusExporterWith(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	factory := promauto.With(reg)
	return &PrometheusExporter{
		collector: collector,
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "restree_cache_hits_total",
			Help: "Total number of cache hits per region",
		}, []string{"region"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "restree_cache_misses_total",
			Help: "Total number of cache misses per region",
		}, []string{"region"}),
		cacheErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "restree_cache_errors_total",
			Help: "Total number of failed cache backend calls per region",
		}, []string{"region"}),
		cacheInvalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "restree_cache_invalidations_total",
			Help: "Total number of region invalidations",
		}, []string{"region"}),
		cacheHitRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "restree_cache_hit_rate",
			Help: "Current cache hit rate (0.0 to 1.0)",
		}, []string{"region"}),
		cacheKeys: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "restree_cache_keys_current",
			Help: "Current number of keys in an in-process cache region",
		}, []string{"region"}),
		cacheMemoryBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "restree_cache_memory_bytes",
			Help: "Current memory usage of an in-process cache region in bytes",
		}, []string{"region"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "restree_decisions_total",
			Help: "Total number of authorization decisions by effect",
		}, []string{"effect"}),
		grpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restree_grpc_requests_total",
				Help: "Total number of gRPC requests",
			},
			[]string{"method"},
		),
		grpcDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restree_grpc_request_duration_seconds",
				Help:    "Duration of gRPC requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"method"},
		),
		grpcErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restree_grpc_errors_total",
				Help: "Total number of gRPC errors",
			},
			[]string{"method"},
		),
	}
}

// Update updates Gauge metrics from the collector.
// Counters are updated as events happen, so only update gauges here.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	for _, region := range e.collector.Regions() {
		m := e.collector.GetCacheMetrics(region)
		e.cacheHitRate.WithLabelValues(region).Set(m.HitRate)
		e.cacheKeys.WithLabelValues(region).Set(float64(m.KeysCurrent))
		e.cacheMemoryBytes.WithLabelValues(region).Set(float64(m.MemoryBytes))
	}
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(method string) {
	e.grpcRequests.WithLabelValues(method).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(method string, durationSeconds float64) {
	e.grpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordError records an error in Prometheus.
func (e *PrometheusExporter) RecordError(method string) {
	e.grpcErrors.WithLabelValues(method).Inc()
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(region string) {
	e.cacheHits.WithLabelValues(region).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss(region string) {
	e.cacheMisses.WithLabelValues(region).Inc()
}

// RecordCacheError records a failed cache backend call.
func (e *PrometheusExporter) RecordCacheError(region string) {
	e.cacheErrors.WithLabelValues(region).Inc()
}

// RecordInvalidation records a region invalidation.
func (e *PrometheusExporter) RecordInvalidation(region string) {
	e.cacheInvalidations.WithLabelValues(region).Inc()
}

// RecordDecision records an authorization decision.
func (e *PrometheusExporter) RecordDecision(effect string) {
	e.decisions.WithLabelValues(effect).Inc()
}
