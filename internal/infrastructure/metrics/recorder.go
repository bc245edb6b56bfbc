package metrics

// Recorder forwards domain events to the collector and, when set, to the
// Prometheus exporter. It satisfies the observer interfaces of the cache
// regions and of the authorization decider.
type Recorder struct {
	collector *Collector
	exporter  *PrometheusExporter
}

// NewRecorder creates a recorder; exporter may be nil
func NewRecorder(collector *Collector, exporter *PrometheusExporter) *Recorder {
	return &Recorder{collector: collector, exporter: exporter}
}

// CacheHit records a cache hit in a region
func (r *Recorder) CacheHit(region string) {
	r.collector.RecordCacheHit(region)
	if r.exporter != nil {
		r.exporter.RecordCacheHit(region)
	}
}

// CacheMiss records a cache miss in a region
func (r *Recorder) CacheMiss(region string) {
	r.collector.RecordCacheMiss(region)
	if r.exporter != nil {
		r.exporter.RecordCacheMiss(region)
	}
}

// CacheError records a failed backend call in a region
func (r *Recorder) CacheError(region string) {
	r.collector.RecordCacheError(region)
	if r.exporter != nil {
		r.exporter.RecordCacheError(region)
	}
}

// RegionInvalidated records that a region was cleared
func (r *Recorder) RegionInvalidated(region string) {
	r.collector.RecordInvalidation(region)
	if r.exporter != nil {
		r.exporter.RecordInvalidation(region)
	}
}

// Decision records an authorization outcome
func (r *Recorder) Decision(effect string) {
	r.collector.RecordDecision(effect)
	if r.exporter != nil {
		r.exporter.RecordDecision(effect)
	}
}
