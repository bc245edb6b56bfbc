package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/restree/internal/bootstrap"
	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/infrastructure/cache"
	"github.com/asakaida/restree/internal/infrastructure/config"
	"github.com/asakaida/restree/internal/infrastructure/logging"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: config.StoreDriverMemory, Timeout: time.Second},
		Cache: config.CacheConfig{
			Enabled:        true,
			Backend:        config.CacheBackendMemory,
			MaxMemoryBytes: 1 << 20,
			Metrics:        true,
			DefaultTTL:     time.Minute,
			LongTermTTL:    time.Hour,
			Timeout:        100 * time.Millisecond,
			Notify:         true,
		},
	}
}

func seedAndDecide(t *testing.T, a *App) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, bootstrap.Apply(ctx, a.BootstrapDeps(), bootstrap.DefaultSeed()))

	help, err := a.Tree.Traverse(ctx, bootstrap.NodeNameRoot, []string{bootstrap.NodeNameHelp})
	require.NoError(t, err)

	root, err := a.Principal.Resolve(ctx, entities.ByName("root"))
	require.NoError(t, err)
	assert.Contains(t, root.Keys(), entities.GroupKey(entities.EveryoneRID))

	for i := 0; i < 2; i++ {
		d, err := a.Decider.Decide(ctx, root, help.ID, entities.PermWrite)
		require.NoError(t, err)
		assert.True(t, d.Allowed())
	}

	d, err := a.Decider.Decide(ctx, a.Principal.Anonymous(), help.ID, entities.PermVisit)
	require.NoError(t, err)
	assert.False(t, d.Allowed())
}

func TestNew_MemoryStoreMemoryCache(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), logging.Discard(), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Postgres)
	assert.Equal(t, []string{cache.RegionLongTerm, cache.RegionDefault}, a.Regions.Names())

	seedAndDecide(t, a)

	m := a.Collector.GetCacheMetrics(cache.RegionDefault)
	require.NotNil(t, m)
	assert.Greater(t, m.Hits, uint64(0))
	assert.Equal(t, uint64(3), a.Collector.GetDecisionCounts()["Allow"]+a.Collector.GetDecisionCounts()["Deny"])
}

func TestNew_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "restree:"}

	a, err := New(context.Background(), cfg, logging.Discard(), Options{})
	require.NoError(t, err)
	defer a.Close()

	seedAndDecide(t, a)

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, k := range keys {
		assert.Regexp(t, `^restree:(default|auth_long_term):`, k)
	}
}

func TestNew_CacheDisabled(t *testing.T) {
	cfg := memoryConfig()
	cfg.Cache.Enabled = false

	a, err := New(context.Background(), cfg, logging.Discard(), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Regions)
	seedAndDecide(t, a)
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Driver = "sqlite"
	_, err := New(context.Background(), cfg, logging.Discard(), Options{})
	assert.Error(t, err)
}
