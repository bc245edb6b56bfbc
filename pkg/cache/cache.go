// Package cache defines the backend contract shared by the cache regions.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by backends used after Close
var ErrClosed = errors.New("cache closed")

// Cache is the interface of a cache backend.
// It provides Get, Set, and Delete operations with TTL support.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns the value and true if found. A backend failure is returned as
	// an error; callers treat it like a miss.
	Get(ctx context.Context, key string) (interface{}, bool, error)

	// Set stores a value in cache with TTL. A zero TTL uses the backend default.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries from cache.
	Clear(ctx context.Context) error

	// Close releases resources held by the cache.
	Close() error

	// Metrics returns cache statistics.
	Metrics() *Metrics
}

// Metrics holds cache performance statistics.
type Metrics struct {
	// Hits is the number of cache hits
	Hits uint64

	// Misses is the number of cache misses
	Misses uint64

	// Errors is the number of failed backend calls
	Errors uint64

	// KeysAdded is the number of keys added to cache
	KeysAdded uint64

	// KeysEvicted is the number of keys evicted from cache
	KeysEvicted uint64
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0.0
	}
	return float64(m.Hits) / float64(total)
}
