package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/auction"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/budget"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/cache"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/config"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/database"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/events"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/index"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/ledger"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/metrics"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/middleware"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/repository"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/scheduler"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/scoring"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/service"
)

// app holds every wired component of one engine instance
type app struct {
	cfg     config.Config
	logger  log.Logger
	metrics *metrics.Metrics

	db     *database.DB
	pool   *pgxpool.Pool
	redis  *redis.Client
	repo   repository.Repository
	ledger ledger.Ledger

	products  *cache.HybridCache
	index     *index.BidIndex
	budget    *budget.Manager
	bus       *cache.InvalidationBus
	ad        service.AdService
	lifecycle service.LifecycleService
	scheduler *scheduler.Scheduler

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, logger log.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.NewPrometheusMetrics()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	pricing, err := cfg.Auction.Pricing()
	if err != nil {
		return nil, err
	}

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}
	if err := a.openLedger(); err != nil {
		return nil, err
	}

	a.products = cache.NewHybridCache(cache.CacheConfig{
		DefaultTTL:      cfg.Index.ProductCacheTTL,
		MemoryCacheSize: cfg.Index.ProductCacheSize,
		EnableMemory:    true,
	}, a.redisClient())
	a.closers = append(a.closers, a.products.Close)
	catalog := cache.NewCachedCatalog(a.repo, a.products, cfg.Index.ProductCacheTTL, logger)

	registry := models.NewTargetRegistry()
	a.index = index.New(a.repo, catalog, registry, logger)

	notifier := budget.MultiNotifier{budget.NewLogNotifier(logger)}
	if a.redis != nil {
		notifier = append(notifier, budget.NewRedisNotifier(a.redis, cfg.Alerts.Channel))
		a.bus = cache.NewInvalidationBus(a.redis, cfg.Index.InvalidationChannel)
	}

	calendar := ledger.NewCalendar(loc)
	a.budget = budget.NewManager(budget.Config{
		Ledger:    a.ledger,
		Campaigns: a.index,
		Store:     a.repo,
		View:      a.index,
		Notifier:  notifier,
		Recorder:  a.metrics,
		Calendar:  calendar,
		MinCharge: pricing.MinCharge,
		Logger:    logger,
	})

	engine := auction.NewEngine(a.index, scoring.NewScorer(registry), a.budget, auction.Rules{
		MinIncrement: pricing.MinIncrement,
		ReservePrice: pricing.ReservePrice,
		DefaultSlots: cfg.Auction.DefaultSlots,
		MaxSlots:     cfg.Auction.MaxSlots,
	}, a.metrics, logger)
	ingestor := events.NewIngestor(a.budget, a.index, a.repo, a.metrics, logger)
	reconciler := events.NewReconciler(a.budget, a.repo, calendar, cfg.Scheduler.ReconcileBatchSize, a.metrics, logger)

	a.ad = middleware.NewLoggingMiddleware(logger)(service.NewAdService(engine, ingestor))

	var publisher service.Publisher
	if a.bus != nil {
		publisher = a.bus
	}
	limits := models.BidLimits{Min: pricing.MinBid, Max: pricing.MaxBid}
	a.lifecycle = middleware.NewLifecycleLoggingMiddleware(logger)(
		service.NewLifecycleService(a.repo, a.index, a.budget, publisher, registry, limits, logger),
	)

	var purger scheduler.Purger
	if pl, ok := a.ledger.(*ledger.PostgresLedger); ok {
		purger = pl
	}
	a.scheduler = scheduler.New(scheduler.Config{
		RefreshInterval: cfg.Index.RefreshInterval,
		DayResetCron:    cfg.Scheduler.DayResetCron,
		ReconcileCron:   cfg.Scheduler.ReconcileCron,
		Location:        loc,
		Index:           a.index,
		Budget:          a.budget,
		Sweeper:         reconciler,
		Purger:          purger,
		Recorder:        a.metrics,
		Logger:          logger,
	})

	return a, nil
}

// openStores connects Postgres and Redis when enabled. Without Postgres the
// engine runs on the in-memory sample catalog.
func (a *app) openStores(ctx context.Context) error {
	if a.cfg.Database.Enabled {
		db, cleanup, err := database.Initialize(a.cfg.Database)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, cleanup)
		a.repo = repository.NewInstrumentedRepository(repository.NewPostgresRepository(db), a.metrics)
		level.Info(a.logger).Log("msg", "database connected", "host", a.cfg.Database.Host, "db", a.cfg.Database.DBName, "migrations", a.cfg.Database.RunMigrations)
	} else {
		a.repo = repository.NewInstrumentedRepository(repository.NewSampleRepository(), a.metrics)
		level.Warn(a.logger).Log("msg", "database disabled, serving the in-memory sample catalog")
	}

	if a.cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.Redis.Addr, err)
		}
		a.redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		level.Info(a.logger).Log("msg", "redis connected", "addr", a.cfg.Redis.Addr)
	}

	if a.cfg.Ledger.Backend == config.LedgerPostgres {
		pool, err := database.NewPool(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
	}
	return nil
}

func (a *app) openLedger() error {
	switch a.cfg.Ledger.Backend {
	case config.LedgerRedis:
		a.ledger = ledger.NewRedisLedger(a.redis, a.cfg.Ledger.KeyPrefix, a.cfg.Ledger.Timeout)
	case config.LedgerPostgres:
		a.ledger = ledger.NewPostgresLedger(a.pool, a.cfg.Ledger.Timeout)
	case config.LedgerMemory:
		ml := ledger.NewMemoryLedger()
		a.closers = append(a.closers, func() { _ = ml.Close() })
		a.ledger = ml
		level.Warn(a.logger).Log("msg", "in-memory ledger: budgets are enforced per instance only")
	default:
		return fmt.Errorf("unknown ledger backend %q", a.cfg.Ledger.Backend)
	}
	return nil
}

// redisClient returns nil as an interface when Redis is disabled
func (a *app) redisClient() redis.UniversalClient {
	if a.redis == nil {
		return nil
	}
	return a.redis
}

// start builds the first index snapshot, subscribes to invalidations and
// starts the background jobs. A failed first build is fatal: auctions on an
// empty index would silently return nothing.
func (a *app) start(ctx context.Context) error {
	if err := a.scheduler.RefreshIndex(ctx); err != nil {
		return fmt.Errorf("failed to build bid index: %w", err)
	}

	if a.bus != nil {
		closeFn, err := a.bus.Subscribe(ctx, a.onInvalidation(ctx))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = closeFn() })
	}

	return a.scheduler.Start(ctx)
}

// onInvalidation applies a change announced by another instance
func (a *app) onInvalidation(ctx context.Context) func(cache.Invalidation) {
	return func(inv cache.Invalidation) {
		var err error
		switch inv.Kind {
		case cache.InvalidateProduct:
			err = a.products.Invalidate(ctx, inv.ID)
		case cache.InvalidateAll:
			if err = a.products.InvalidateAll(ctx); err == nil {
				err = a.scheduler.RefreshIndex(ctx)
			}
		default:
			err = a.scheduler.RefreshIndex(ctx)
		}
		if err != nil {
			level.Warn(a.logger).Log("msg", "invalidation not applied", "kind", inv.Kind, "id", inv.ID, "err", err)
		}
	}
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
