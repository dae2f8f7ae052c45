// Package bootstrap wires the reader service together from its
// configuration and runs it until shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/jonesrussell/north-cloud/reader/internal/api"
	"github.com/jonesrussell/north-cloud/reader/internal/catalog"
	"github.com/jonesrussell/north-cloud/reader/internal/chunker"
	"github.com/jonesrussell/north-cloud/reader/internal/config"
	"github.com/jonesrussell/north-cloud/reader/internal/database"
	"github.com/jonesrussell/north-cloud/reader/internal/events"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/querycache"
	"github.com/jonesrussell/north-cloud/reader/internal/repository"
	"github.com/jonesrussell/north-cloud/reader/internal/retry"
	"github.com/jonesrussell/north-cloud/reader/internal/server"
	"github.com/jonesrussell/north-cloud/reader/internal/session"
	"github.com/jonesrussell/north-cloud/reader/internal/sse"
	"github.com/jonesrussell/north-cloud/reader/internal/view"
	"github.com/jonesrussell/north-cloud/reader/internal/window"
)

const (
	ServiceName = "reader"
	tracerName  = "github.com/jonesrussell/north-cloud/reader"
)

// App is the assembled service.
type App struct {
	cfg      *config.Config
	log      logger.Logger
	instance string

	db       *sqlx.DB
	redis    *redis.Client
	consumer *events.Consumer

	registry *prometheus.Registry
	cache    *querycache.Cache
	catalog  *catalog.Service
	broker   *sse.Broker
	views    *view.Manager
	server   *server.Server
}

// New connects the configured backends and builds every component. On
// error, whatever was already opened is closed.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, version string) (app *App, err error) {
	a := &App{
		cfg:      cfg,
		log:      log.With(logger.String("service", ServiceName), logger.String("version", version)),
		instance: events.NewInstanceID(),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			if closeErr := a.Close(); closeErr != nil {
				a.log.Warn("Cleanup after failed start", logger.Error(closeErr))
			}
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	var publisher *events.Publisher
	if cfg.Redis.Enabled {
		a.redis, err = events.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		publisher = events.NewPublisher(a.redis, cfg.Redis.Stream, cfg.Redis.MaxLen, a.instance, a.log)
	}

	a.cache = querycache.New(
		querycache.WithLogger(a.log),
		querycache.WithMetrics(querycache.NewMetrics(a.registry)),
		querycache.WithTracer(otel.Tracer(tracerName)),
		querycache.WithDefaults(querycache.Defaults{
			querycache.KindPage:      cfg.Cache.PageStaleTime,
			querycache.KindSummaries: cfg.Cache.SummariesStaleTime,
			querycache.KindItem:      cfg.Cache.ItemStaleTime,
		}),
	)
	a.broker = sse.NewBroker(a.log)

	a.catalog, err = catalog.NewService(catalog.ServiceDeps{
		Store:    store,
		Cache:    a.cache,
		Events:   publisher,
		Notifier: a.broker,
		Retry: retry.Config{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
		},
		Logger: a.log,
	})
	if err != nil {
		return nil, err
	}

	if a.redis != nil {
		a.consumer = events.NewConsumer(a.redis, cfg.Redis.Stream, a.instance, a.catalog.ApplyEvent, a.log)
	}

	a.views, err = view.NewManager(a.catalog, view.ManagerConfig{
		IdleTTL:         cfg.Views.IdleTTL,
		JanitorInterval: cfg.Views.JanitorInterval,
		MaxViews:        cfg.Views.MaxViews,
		PageLimit:       cfg.Views.PageLimit,
		Window: window.Config{
			ItemExtent:      cfg.Window.ItemExtent,
			ContainerExtent: cfg.Window.ContainerExtent,
			OverscanCount:   cfg.Window.Overscan,
		},
		Chunker: chunker.Config{
			ChunkSize:    cfg.Chunker.ChunkSize,
			ShowProgress: cfg.Chunker.ShowProgress,
			BatchSize:    cfg.Chunker.BatchSize,
			TickInterval: cfg.Chunker.TickInterval,
		},
	}, a.log)
	if err != nil {
		return nil, err
	}

	var sessions *session.Manager
	if cfg.Auth.Enabled() {
		sessions, err = session.NewManager(cfg.Auth)
		if err != nil {
			return nil, err
		}
	} else {
		a.log.Warn("Admin credentials not configured, admin routes disabled")
	}

	handler, err := api.NewHandler(api.Deps{
		Catalog:  a.catalog,
		Views:    a.views,
		Sessions: sessions,
		Broker:   a.broker,
		Gatherer: a.registry,
		Logger:   a.log,
	})
	if err != nil {
		return nil, err
	}

	b := server.NewBuilder(ServiceName, cfg.Server).
		WithLogger(a.log).
		WithVersion(version).
		WithDebug(cfg.Debug).
		WithCheck("catalog", true, a.catalog.Ping).
		WithRoutes(handler.Register).
		OnShutdown(a.broker.Stop).
		OnShutdown(a.views.CloseAll)
	if a.redis != nil {
		b.WithCheck("redis", false, func(ctx context.Context) error { return a.redis.Ping(ctx).Err() })
	}
	a.server = b.Build()
	return a, nil
}

func (a *App) openStore(ctx context.Context) (catalog.Store, error) {
	if a.cfg.Database.Driver == config.DriverMemory {
		a.log.Warn("Using in-memory catalog store; posts are lost on restart")
		return repository.NewMemoryStore(), nil
	}

	if a.cfg.Database.MigrateOnStart {
		if err := Migrate(a.cfg.Database, a.log); err != nil {
			return nil, err
		}
	}
	db, err := database.Connect(ctx, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.db = db
	return repository.NewPostRepository(db, a.log), nil
}

// Run serves until ctx ends. Background workers stop with the server.
func (a *App) Run(ctx context.Context) error {
	a.broker.Start(ctx)
	if err := a.consumer.Start(ctx); err != nil {
		return fmt.Errorf("start event consumer: %w", err)
	}
	defer a.consumer.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.cache.Run(gctx, a.cfg.Cache.JanitorInterval, a.cfg.Cache.MaxIdle)
		return nil
	})
	g.Go(func() error {
		a.views.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return a.server.Run(gctx)
	})

	a.log.Info("Reader started",
		logger.String("instance", a.instance),
		logger.String("address", a.cfg.Server.Address()),
		logger.String("store", a.cfg.Database.Driver),
		logger.Bool("events", a.redis != nil),
	)
	err := g.Wait()
	a.broker.Stop()
	return err
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// Migrate applies every pending migration.
func Migrate(cfg config.DatabaseConfig, log logger.Logger) (err error) {
	m, err := database.NewMigrator(cfg, log)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer func() {
		err = errors.Join(err, m.Close())
	}()
	return m.Up()
}
