package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/restree/pkg/cache"
	"github.com/asakaida/restree/pkg/cache/memorycache"
)

// Collector collects and aggregates metrics for the application.
type Collector struct {
	// API metrics
	apiRequests sync.Map // map[string]*uint64 - method -> count
	apiErrors   sync.Map // map[string]*uint64 - method -> error count
	apiDuration sync.Map // map[string]*durationValue - method -> total duration in seconds

	// Cache region metrics
	cacheHits          sync.Map // region -> count
	cacheMisses        sync.Map // region -> count
	cacheErrors        sync.Map // region -> count
	cacheInvalidations sync.Map // region -> count

	// Authorization decisions
	decisions sync.Map // effect -> count

	// Region backends (optional, for querying backend-specific metrics)
	mu     sync.RWMutex
	caches map[string]cache.Cache
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds cache performance metrics of one region.
type CacheMetrics struct {
	Hits          uint64
	Misses        uint64
	Errors        uint64
	Invalidations uint64
	HitRate       float64
	KeysCurrent   int64
	MemoryBytes   int64
	Evictions     uint64
}

// APIMetrics holds API request metrics.
type APIMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{caches: make(map[string]cache.Cache)}
}

// SetCache registers the backend of a cache region.
func (c *Collector) SetCache(region string, backend cache.Cache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caches[region] = backend
}

// Regions returns the names of the registered cache regions.
func (c *Collector) Regions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.caches))
	for name := range c.caches {
		names = append(names, name)
	}
	return names
}

// RecordRequest records an API request.
func (c *Collector) RecordRequest(method string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.apiRequests, method), 1)
}

// RecordError records an API error.
func (c *Collector) RecordError(method string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.apiErrors, method), 1)
}

// RecordDuration records the duration of an API call in seconds.
func (c *Collector) RecordDuration(method string, durationSeconds float64) {
	val, _ := c.apiDuration.LoadOrStore(method, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// RecordCacheHit records a cache hit in a region.
func (c *Collector) RecordCacheHit(region string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.cacheHits, region), 1)
}

// RecordCacheMiss records a cache miss in a region.
func (c *Collector) RecordCacheMiss(region string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.cacheMisses, region), 1)
}

// RecordCacheError records a failed backend call in a region.
func (c *Collector) RecordCacheError(region string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.cacheErrors, region), 1)
}

// RecordInvalidation records that a region was cleared.
func (c *Collector) RecordInvalidation(region string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.cacheInvalidations, region), 1)
}

// RecordDecision records an authorization outcome ("Allow" or "Deny").
func (c *Collector) RecordDecision(effect string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.decisions, effect), 1)
}

// GetCacheMetrics returns current metrics of a cache region.
func (c *Collector) GetCacheMetrics(region string) *CacheMetrics {
	result := &CacheMetrics{
		Hits:          c.load(&c.cacheHits, region),
		Misses:        c.load(&c.cacheMisses, region),
		Errors:        c.load(&c.cacheErrors, region),
		Invalidations: c.load(&c.cacheInvalidations, region),
	}
	if total := result.Hits + result.Misses; total > 0 {
		result.HitRate = float64(result.Hits) / float64(total)
	}

	c.mu.RLock()
	backend := c.caches[region]
	c.mu.RUnlock()
	if backend == nil {
		return result
	}

	if m := backend.Metrics(); m != nil {
		result.Evictions = m.KeysEvicted
	}

	// Get current keys and memory if available
	if memCache, ok := backend.(*memorycache.Cache); ok {
		result.KeysCurrent = int64(memCache.Len())
		result.MemoryBytes = memCache.Size()
	}

	return result
}

// GetDecisionCounts returns the number of decisions per effect.
func (c *Collector) GetDecisionCounts() map[string]uint64 {
	result := make(map[string]uint64)
	c.decisions.Range(func(key, value interface{}) bool {
		result[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})
	return result
}

// GetAPIMetrics returns current API metrics.
func (c *Collector) GetAPIMetrics() *APIMetrics {
	result := &APIMetrics{
		RequestCounts:        make(map[string]uint64),
		ErrorCounts:          make(map[string]uint64),
		TotalDurationSeconds: make(map[string]float64),
	}

	// Collect request counts
	c.apiRequests.Range(func(key, value interface{}) bool {
		result.RequestCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	// Collect error counts
	c.apiErrors.Range(func(key, value interface{}) bool {
		result.ErrorCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	// Collect duration totals
	c.apiDuration.Range(func(key, value interface{}) bool {
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[key.(string)] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	return result
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}

func (c *Collector) load(m *sync.Map, key string) uint64 {
	val, ok := m.Load(key)
	if !ok {
		return 0
	}
	return atomic.LoadUint64(val.(*uint64))
}
