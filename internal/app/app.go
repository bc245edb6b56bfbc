// Package app assembles stores, cache regions and services from the
// configuration. The server and the CLI share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/asakaida/restree/internal/bootstrap"
	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/infrastructure/cache"
	"github.com/asakaida/restree/internal/infrastructure/config"
	"github.com/asakaida/restree/internal/infrastructure/database"
	"github.com/asakaida/restree/internal/infrastructure/metrics"
	"github.com/asakaida/restree/internal/repositories"
	"github.com/asakaida/restree/internal/repositories/memory"
	"github.com/asakaida/restree/internal/repositories/postgres"
	"github.com/asakaida/restree/internal/services/authorization"
	"github.com/asakaida/restree/internal/services/permtree"
	"github.com/asakaida/restree/internal/services/restree"
	pkgcache "github.com/asakaida/restree/pkg/cache"
	"github.com/asakaida/restree/pkg/cache/memorycache"
	"github.com/asakaida/restree/pkg/cache/rediscache"
)

// App holds the assembled components
type App struct {
	Config *config.Config
	Logger logrus.FieldLogger

	Postgres    *database.Postgres // nil for the memory driver
	Permissions repositories.PermissionRepository
	Resources   repositories.ResourceRepository
	Aces        repositories.AceRepository
	Principals  repositories.PrincipalRepository

	Regions    *cache.Regions // nil when caching is disabled
	PermTree   *permtree.Tree
	Tree       *restree.Service
	Resolver   *authorization.Resolver
	Decider    *authorization.Decider
	Principal  *authorization.PrincipalResolver
	Collector  *metrics.Collector
	listener   *cache.InvalidationListener
	redis      *redis.Client
	closeFuncs []func() error
}

// Options adjust what New wires
type Options struct {
	// Listen starts the LISTEN/NOTIFY invalidation listener (server only)
	Listen bool
	// Collector receives in-process counters; a fresh one is created when nil
	Collector *metrics.Collector
	// Exporter receives cache and decision metrics; may be nil
	Exporter *metrics.PrometheusExporter
}

// New builds the application from the configuration
func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Collector: opts.Collector}
	if a.Collector == nil {
		a.Collector = metrics.NewCollector()
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}
	if err := a.openCache(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	a.PermTree = permtree.New(a.Permissions, a.Regions)
	a.Tree = restree.NewService(a.Resources, a.Aces, a.Principals, a.PermTree, a.Regions, logger)
	a.Resolver = authorization.NewResolver(a.Aces, a.PermTree, a.Regions)
	a.Decider = authorization.NewDecider(a.Tree, a.Resolver, cfg.Store.Timeout, logger)
	a.Decider.SetObserver(metrics.NewRecorder(a.Collector, opts.Exporter))
	a.Principal = authorization.NewPrincipalResolver(a.Principals).WithImplicitGroups(entities.EveryoneRID)

	return a, nil
}

func (a *App) openStore() error {
	switch a.Config.Store.Driver {
	case config.StoreDriverMemory:
		s := memory.NewStore()
		a.Permissions = s.Permissions()
		a.Resources = s.Resources()
		a.Aces = s.Aces()
		a.Principals = s.Principals()
		a.Logger.Warn("using the in-memory store; data is lost on exit")
		return nil
	case config.StoreDriverPostgres:
		pg, err := database.NewPostgres(&a.Config.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.Postgres = pg
		a.closeFuncs = append(a.closeFuncs, pg.Close)
		a.Permissions = postgres.NewPostgresPermissionRepository(pg.DB)
		a.Resources = postgres.NewPostgresResourceRepository(pg.DB)
		a.Aces = postgres.NewPostgresAceRepository(pg.DB)
		a.Principals = postgres.NewPostgresPrincipalRepository(pg.DB)
		a.Logger.WithFields(logrus.Fields{
			"host":     a.Config.Database.Host,
			"port":     a.Config.Database.Port,
			"database": a.Config.Database.Database,
		}).Info("connected to database")
		return nil
	}
	return fmt.Errorf("unknown store driver '%s'", a.Config.Store.Driver)
}

func (a *App) openCache(ctx context.Context, opts Options) error {
	cc := a.Config.Cache
	if !cc.Enabled {
		a.Logger.Info("cache disabled")
		return nil
	}

	ttls := map[string]time.Duration{
		cache.RegionDefault:  cc.DefaultTTL,
		cache.RegionLongTerm: cc.LongTermTTL,
	}
	a.Regions = cache.NewRegions(cc.Timeout, a.Logger)

	if cc.Backend == config.CacheBackendRedis {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		a.closeFuncs = append(a.closeFuncs, a.redis.Close)

		pctx, cancel := context.WithTimeout(ctx, cc.Timeout*5)
		defer cancel()
		if err := a.redis.Ping(pctx).Err(); err != nil {
			a.Logger.WithError(err).Warn("redis unreachable, cache reads will fall through to the store")
		}
	}

	for name, ttl := range ttls {
		var backend pkgcache.Cache
		if a.redis != nil {
			backend = rediscache.NewWithClient(a.redis, a.Config.Redis.KeyPrefix+name+":", ttl)
		} else {
			mc, err := memorycache.New(&memorycache.Config{
				MaxSizeBytes:  cc.MaxMemoryBytes / int64(len(ttls)),
				DefaultTTL:    ttl,
				EnableMetrics: cc.Metrics,
			})
			if err != nil {
				return fmt.Errorf("failed to create cache region %s: %w", name, err)
			}
			backend = mc
		}
		a.Regions.Add(name, backend, ttl)
		a.Collector.SetCache(name, backend)
	}
	a.Regions.SetObserver(metrics.NewRecorder(a.Collector, opts.Exporter))

	// Cross-worker invalidation needs PostgreSQL
	if cc.Notify && a.Postgres != nil {
		a.Regions.SetPublisher(cache.NewPgPublisher(a.Postgres.DB))
		if opts.Listen {
			a.listener = cache.NewInvalidationListener(a.Regions, a.Postgres.DSN(), a.Logger)
			if err := a.listener.Start(); err != nil {
				return fmt.Errorf("failed to start cache invalidation listener: %w", err)
			}
			a.closeFuncs = append(a.closeFuncs, a.listener.Stop)
			a.Logger.WithField("channel", cache.InvalidationChannel).Info("listening for cache invalidations")
		}
	}

	a.Logger.WithFields(logrus.Fields{
		"backend":       cc.Backend,
		"default_ttl":   cc.DefaultTTL,
		"long_term_ttl": cc.LongTermTTL,
	}).Info("cache regions ready")
	return nil
}

// BootstrapDeps returns the dependencies of bootstrap.Apply
func (a *App) BootstrapDeps() bootstrap.Deps {
	return bootstrap.Deps{
		Permissions: a.Permissions,
		Principals:  a.Principals,
		Tree:        a.Tree,
		Regions:     a.Regions,
		Logger:      a.Logger,
	}
}

// Close releases connections in reverse order of acquisition
func (a *App) Close() error {
	var firstErr error
	if err := a.Regions.Close(); err != nil {
		firstErr = err
	}
	for i := len(a.closeFuncs) - 1; i >= 0; i-- {
		if err := a.closeFuncs[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closeFuncs = nil
	return firstErr
}
