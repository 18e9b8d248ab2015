// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	catalogmem "github.com/JakeFAU/catalog-crawler/internal/catalog/memory"
	"github.com/JakeFAU/catalog-crawler/internal/catalog/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/control"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-crawler/internal/queue"
	queuemem "github.com/JakeFAU/catalog-crawler/internal/queue/memory"
	queueredis "github.com/JakeFAU/catalog-crawler/internal/queue/redis"
	"github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
	"github.com/JakeFAU/catalog-crawler/internal/vendors"
	"github.com/JakeFAU/catalog-crawler/internal/vendors/selector"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// App holds the shared, long-lived services. It is built once per command
// and closed by the root command's post-run hook.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	manager *dispatcher.Manager
	server  *api.Server

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

type options struct {
	registerer prometheus.Registerer
}

// Option customizes New.
type Option func(*options)

// WithRegisterer registers the progress collectors on reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New builds every service named by cfg. It fails fast if a backend cannot be
// reached and releases whatever it already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx, o); err != nil {
		if cerr := a.Close(context.Background()); cerr != nil {
			logger.Warn("cleanup after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	a.logger.Info("initializing application services",
		zap.String("queue", a.cfg.Queue.Backend),
		zap.String("catalog", a.cfg.Catalog.Backend),
		zap.String("archive", a.cfg.Archive.Backend),
	)
	ids := uuid.New()

	var redisClient *redis.Client
	if a.cfg.Queue.Backend == config.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.onClose("redis", func(context.Context) error { return redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Addr, err)
		}
	}

	bus, err := a.buildBus(redisClient)
	if err != nil {
		return err
	}
	announcer := queue.NewAnnouncer(bus, a.logger.Named("control"))

	var store crawler.QueueStore
	if redisClient != nil {
		store, err = queueredis.New(redisClient, queueredis.Config{Prefix: a.cfg.Redis.KeyPrefix}, announcer, a.logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("init redis queue: %w", err)
		}
	} else {
		store = queuemem.NewStore(announcer)
	}

	catalog, err := a.buildCatalog(ctx, ids)
	if err != nil {
		return err
	}
	archive, err := a.buildArchive(ctx)
	if err != nil {
		return err
	}
	hub, err := a.buildHub(ctx, o.registerer)
	if err != nil {
		return err
	}
	registry, err := a.buildRegistry()
	if err != nil {
		return err
	}

	deps := dispatcher.Deps{
		Store:    store,
		Bus:      bus,
		Registry: registry,
		Catalog:  catalog,
		Sink:     hub,
		Clock:    system.New(),
		IDs:      ids,
	}
	if archive != nil {
		deps.Archive = archive
		deps.Hasher = sha256.New()
	}
	a.manager, err = dispatcher.New(deps, dispatcher.Config{
		WorkersPerVendor: a.cfg.Manager.WorkersPerVendor,
		WakeSchedule:     a.cfg.Manager.WakeSchedule,
		HeadSize:         a.cfg.Manager.HeadSize,
		Worker: worker.Config{
			Freshness:     a.cfg.Catalog.Freshness,
			ArchivePrefix: a.cfg.Archive.Prefix,
		},
	}, a.logger.Named("manager"))
	if err != nil {
		return fmt.Errorf("init worker manager: %w", err)
	}
	a.server = api.NewServer(a.manager, a.cfg, a.logger.Named("api"))
	a.logger.Info("application services initialized", zap.Strings("vendors", registry.Vendors()))
	return nil
}

func (a *App) buildBus(client *redis.Client) (control.Bus, error) {
	if a.cfg.Control.Backend != config.BackendRedis {
		return control.NewMemoryBus(), nil
	}
	if client == nil {
		return nil, errors.New("redis control channel needs a redis client")
	}
	bus, err := control.NewRedisBus(client, a.cfg.Control.Channel, a.logger.Named("control"))
	if err != nil {
		return nil, fmt.Errorf("init control channel: %w", err)
	}
	return bus, nil
}

func (a *App) buildCatalog(ctx context.Context, ids crawler.IDGenerator) (crawler.CatalogStore, error) {
	if a.cfg.Catalog.Backend != config.BackendPostgres {
		a.logger.Warn("using in-memory catalog; entries are lost on restart")
		return catalogmem.NewStore(), nil
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	}, ids)
	if err != nil {
		return nil, fmt.Errorf("init postgres catalog: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		store.Close()
		return nil
	})
	if a.cfg.Catalog.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (a *App) buildArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) buildHub(ctx context.Context, reg prometheus.Registerer) (*progress.Hub, error) {
	var hubSinks []progress.Sink
	if a.cfg.Progress.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger.Named("progress")))
	}
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks = append(hubSinks, promSink)

	if a.cfg.PubSub.TopicName != "" {
		publisher, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.onClose("pubsub", func(context.Context) error { return publisher.Close() })
		pubSink, err := sinks.NewPublisherSink(publisher, a.cfg.PubSub.TopicName)
		if err != nil {
			return nil, err
		}
		hubSinks = append(hubSinks, pubSink)
	}

	hub := progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("progress"),
	}, hubSinks...)
	// Registered after the publisher so it drains before the client closes.
	a.onClose("progress", hub.Close)
	return hub, nil
}

func (a *App) buildRegistry() (*vendor.Registry, error) {
	registry := vendor.NewRegistry()
	for _, vc := range a.cfg.Vendors {
		limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.HTTP.RatePerSecond, Burst: a.cfg.HTTP.Burst})
		factory, err := selector.NewFactory(vc, limiter, a.logger.Named("vendor").With(zap.String("vendor", vc.Vendor)))
		if err != nil {
			return nil, fmt.Errorf("init vendor %s: %w", vc.Vendor, err)
		}
		if err := registry.Register(vc.Vendor, factory); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Manager returns the worker manager. It is not started; call Init or Run.
func (a *App) Manager() *dispatcher.Manager { return a.manager }

// HTTPServer returns an admin server listening on server.port.
func (a *App) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Close releases services in reverse order of creation and returns every
// failure joined.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
