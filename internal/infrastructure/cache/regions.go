// Package cache provides the named cache regions used by the resource and
// permission services, plus cross-worker invalidation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/asakaida/restree/pkg/cache"
)

// Region names
const (
	RegionDefault  = "default"
	RegionLongTerm = "auth_long_term"
)

// Key builds a composite cache key "kind:ident:aspect",
// e.g. Key("resource", "root", "None") or Key("resource", 42, "acl").
func Key(kind string, ident, aspect interface{}) string {
	return fmt.Sprintf("%s:%v:%v", kind, ident, aspect)
}

// Observer receives cache events; metrics.Recorder implements it
type Observer interface {
	CacheHit(region string)
	CacheMiss(region string)
	CacheError(region string)
	RegionInvalidated(region string)
}

// Publisher broadcasts a region invalidation to other workers
type Publisher interface {
	Publish(ctx context.Context, region string) error
}

type region struct {
	backend cache.Cache
	ttl     time.Duration
	gen     uint64 // bumped before every clear
}

// Regions holds the named cache regions. A nil *Regions is valid and
// disables caching: every lookup goes to the loader.
type Regions struct {
	mu        sync.RWMutex
	regions   map[string]*region
	timeout   time.Duration
	logger    logrus.FieldLogger
	observer  Observer
	publisher Publisher
}

// NewRegions creates an empty set of regions. timeout bounds every backend call.
func NewRegions(timeout time.Duration, logger logrus.FieldLogger) *Regions {
	return &Regions{
		regions: make(map[string]*region),
		timeout: timeout,
		logger:  logger,
	}
}

// Add registers a region backed by backend with the given TTL
func (r *Regions) Add(name string, backend cache.Cache, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions[name] = &region{backend: backend, ttl: ttl}
}

// SetObserver sets the receiver of cache events
func (r *Regions) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// SetPublisher sets the broadcaster used after local invalidation
func (r *Regions) SetPublisher(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = p
}

// Names returns the registered region names, sorted
func (r *Regions) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.regions))
	for name := range r.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Backend returns the backend of a region
func (r *Regions) Backend(name string) (cache.Cache, bool) {
	reg := r.lookup(name)
	if reg == nil {
		return nil, false
	}
	return reg.backend, true
}

func (r *Regions) lookup(name string) *region {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.regions[name]
}

func (r *Regions) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return ctx, func() {}
}

func (r *Regions) notify(fn func(Observer)) {
	r.mu.RLock()
	o := r.observer
	r.mu.RUnlock()
	if o != nil {
		fn(o)
	}
}

// GetOrLoad returns the cached value of key in the named region, or calls
// loader and stores its result. Backend errors count as a miss and are
// logged, never returned. Values read from external backends arrive as JSON
// and are decoded into T. Cached values are shared between callers and must
// not be modified.
func GetOrLoad[T any](ctx context.Context, r *Regions, name, key string, loader func(context.Context) (T, error)) (T, error) {
	reg := r.lookup(name)
	if reg == nil {
		return loader(ctx)
	}

	if v, ok := r.get(ctx, name, reg, key); ok {
		if typed, ok := decode[T](v); ok {
			r.notify(func(o Observer) { o.CacheHit(name) })
			return typed, nil
		}
		r.logger.WithFields(logrus.Fields{"region": name, "key": key}).
			Warnf("cached value has unexpected type %T, reloading", v)
	}
	r.notify(func(o Observer) { o.CacheMiss(name) })

	gen := atomic.LoadUint64(&reg.gen)
	value, err := loader(ctx)
	if err != nil {
		return value, err
	}
	if atomic.LoadUint64(&reg.gen) != gen {
		// The region was cleared while loading; value may predate the change.
		return value, nil
	}

	bctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := reg.backend.Set(bctx, key, value, reg.ttl); err != nil {
		r.notify(func(o Observer) { o.CacheError(name) })
		r.logger.WithError(err).WithFields(logrus.Fields{"region": name, "key": key}).
			Warn("cache store failed")
		return value, nil
	}
	// A clear that started between the check above and Set may have run first.
	if atomic.LoadUint64(&reg.gen) != gen {
		if err := reg.backend.Delete(bctx, key); err != nil {
			r.notify(func(o Observer) { o.CacheError(name) })
			r.logger.WithError(err).WithFields(logrus.Fields{"region": name, "key": key}).
				Warn("failed to drop value loaded before invalidation")
		}
	}
	return value, nil
}

func (r *Regions) get(ctx context.Context, name string, reg *region, key string) (interface{}, bool) {
	bctx, cancel := r.withTimeout(ctx)
	defer cancel()

	v, found, err := reg.backend.Get(bctx, key)
	if err != nil {
		r.notify(func(o Observer) { o.CacheError(name) })
		r.logger.WithError(err).WithFields(logrus.Fields{"region": name, "key": key}).
			Warn("cache read failed, treating as miss")
		return nil, false
	}
	return v, found
}

func decode[T any](v interface{}) (T, bool) {
	var zero T
	switch raw := v.(type) {
	case T:
		return raw, true
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return zero, false
		}
		return out, true
	case []byte:
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return zero, false
		}
		return out, true
	}
	return zero, false
}

// Delete removes a single key from a region
func (r *Regions) Delete(ctx context.Context, name, key string) {
	reg := r.lookup(name)
	if reg == nil {
		return
	}
	bctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := reg.backend.Delete(bctx, key); err != nil {
		r.notify(func(o Observer) { o.CacheError(name) })
		r.logger.WithError(err).WithFields(logrus.Fields{"region": name, "key": key}).
			Warn("cache delete failed")
	}
}

// InvalidateRegion clears a region in this worker and broadcasts the
// invalidation to the others. The broadcast is sent even when the local
// clear fails. An unknown region is a no-op.
func (r *Regions) InvalidateRegion(ctx context.Context, name string) error {
	if r.lookup(name) == nil {
		return nil
	}
	localErr := r.InvalidateLocal(ctx, name)

	r.mu.RLock()
	p := r.publisher
	r.mu.RUnlock()
	if p != nil {
		if err := p.Publish(ctx, name); err != nil {
			r.logger.WithError(err).WithField("region", name).Warn("failed to broadcast cache invalidation")
		}
	}
	return localErr
}

// InvalidateAll invalidates every region, continuing past failures
func (r *Regions) InvalidateAll(ctx context.Context) error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.InvalidateRegion(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InvalidateLocal clears a region in this worker only
func (r *Regions) InvalidateLocal(ctx context.Context, name string) error {
	reg := r.lookup(name)
	if reg == nil {
		return nil
	}
	atomic.AddUint64(&reg.gen, 1)
	bctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := reg.backend.Clear(bctx); err != nil {
		r.notify(func(o Observer) { o.CacheError(name) })
		return fmt.Errorf("failed to invalidate cache region %s: %w", name, err)
	}
	r.notify(func(o Observer) { o.RegionInvalidated(name) })
	r.logger.WithField("region", name).Debug("cache region invalidated")
	return nil
}

// Close closes every backend
func (r *Regions) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, reg := range r.regions {
		if err := reg.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
