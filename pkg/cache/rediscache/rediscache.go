// Package rediscache is the shared cache backend on Redis.
// Values are stored JSON encoded under a key prefix; Get hands back the raw
// JSON and leaves decoding to the caller.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/asakaida/restree/pkg/cache"
)

const scanBatch = 500

// Config holds configuration for the redis cache
type Config struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string // Namespace of every key, e.g. "restree:auth_long_term:"
	DefaultTTL time.Duration
}

// Cache implements cache.Cache on Redis
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool // Close closes the client

	hits    uint64
	misses  uint64
	errs    uint64
	added   uint64
	evicted uint64
}

var _ cache.Cache = (*Cache)(nil)

// New connects to Redis with the given configuration
func New(config *Config) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	c := NewWithClient(client, config.Prefix, config.DefaultTTL)
	c.owned = true
	return c
}

// NewWithClient shares an existing client; several regions can use one
// connection pool with different prefixes.
func NewWithClient(client *redis.Client, prefix string, defaultTTL time.Duration) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
		ttl:    defaultTTL,
	}
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the stored JSON as json.RawMessage
func (c *Cache) Get(ctx context.Context, key string) (interface{}, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		atomic.AddUint64(&c.misses, 1)
		return nil, false, nil
	}
	if err != nil {
		atomic.AddUint64(&c.errs, 1)
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	atomic.AddUint64(&c.hits, 1)
	return json.RawMessage(data), true, nil
}

// Set stores the JSON encoding of value
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		atomic.AddUint64(&c.errs, 1)
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	atomic.AddUint64(&c.added, 1)
	return nil
}

// Delete removes a value
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		atomic.AddUint64(&c.errs, 1)
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear removes every key below the prefix with SCAN + DEL
func (c *Cache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		atomic.AddUint64(&c.evicted, uint64(n))
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				atomic.AddUint64(&c.errs, 1)
				return fmt.Errorf("redis clear %s: %w", c.prefix, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		atomic.AddUint64(&c.errs, 1)
		return fmt.Errorf("redis scan %s: %w", c.prefix, err)
	}
	if err := flush(); err != nil {
		atomic.AddUint64(&c.errs, 1)
		return fmt.Errorf("redis clear %s: %w", c.prefix, err)
	}
	return nil
}

// Close closes the client when this cache created it
func (c *Cache) Close() error {
	if c.owned {
		return c.client.Close()
	}
	return nil
}

// Metrics returns cache statistics
func (c *Cache) Metrics() *cache.Metrics {
	return &cache.Metrics{
		Hits:        atomic.LoadUint64(&c.hits),
		Misses:      atomic.LoadUint64(&c.misses),
		Errors:      atomic.LoadUint64(&c.errs),
		KeysAdded:   atomic.LoadUint64(&c.added),
		KeysEvicted: atomic.LoadUint64(&c.evicted),
	}
}
