// Package app initializes and holds long-lived pipeline services, acting as a dependency
// injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-pipeline/internal/clock/system"
	"github.com/JakeFAU/crawl-pipeline/internal/config"
	collyfetcher "github.com/JakeFAU/crawl-pipeline/internal/fetcher/colly"
	"github.com/JakeFAU/crawl-pipeline/internal/handlers/fetch"
	"github.com/JakeFAU/crawl-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/crawl-pipeline/internal/host"
	pubsubnotify "github.com/JakeFAU/crawl-pipeline/internal/notify/pubsub"
	"github.com/JakeFAU/crawl-pipeline/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-pipeline/internal/pool"
	"github.com/JakeFAU/crawl-pipeline/internal/registry"
	pgregistry "github.com/JakeFAU/crawl-pipeline/internal/registry/postgres"
	"github.com/JakeFAU/crawl-pipeline/internal/stats"
	"github.com/JakeFAU/crawl-pipeline/internal/storage"
	"github.com/JakeFAU/crawl-pipeline/internal/storage/gcs"
	"github.com/JakeFAU/crawl-pipeline/internal/storage/local"
	blobmemory "github.com/JakeFAU/crawl-pipeline/internal/storage/memory"
	"github.com/JakeFAU/crawl-pipeline/internal/store"
	storememory "github.com/JakeFAU/crawl-pipeline/internal/store/memory"
	redisstore "github.com/JakeFAU/crawl-pipeline/internal/store/redis"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
	"github.com/JakeFAU/crawl-pipeline/internal/telemetry"
	"github.com/JakeFAU/crawl-pipeline/internal/worker"
)

const tracerShutdownTimeout = 5 * time.Second

// App holds the shared services of one pipeline process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	env       worker.Env
	instances *registry.Store
	closers   []func() error
}

// New builds every service named by cfg. It fails fast when a backend cannot be
// reached; anything already opened is closed before returning the error.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		})
	}

	clock := system.New()
	keys := store.Keyspace{Prefix: cfg.Store.KeyPrefix}

	s, err := a.openStore(ctx, clock)
	if err != nil {
		return nil, err
	}
	a.instances = registry.NewStore(s, keys)

	reg, err := a.openRegistry(ctx)
	if err != nil {
		return nil, err
	}

	notifier, err := a.openNotifier(ctx)
	if err != nil {
		return nil, err
	}

	blobs, err := a.openBlobStore(ctx)
	if err != nil {
		return nil, err
	}

	handlers := task.NewRegistry()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	handlers.Register(fetch.FuncName, fetch.New(fetcher, blobs, fetch.Config{
		Prefix:      cfg.Fetch.Blob.Prefix,
		ContentType: cfg.Fetch.Blob.ContentType,
		Politeness:  ratelimit.New(ratelimit.Config{HostRPS: cfg.Fetch.HostRPS, HostBurst: cfg.Fetch.HostBurst}),
	}, logger))

	hostIP := cfg.Worker.HostIP
	if hostIP == "" {
		hostIP = host.LocalIP()
	}

	running := pool.NewRunning(s, keys)
	a.env = worker.Env{
		Store:         s,
		Pending:       pool.NewPending(s, keys, running),
		Running:       running,
		CrawlErrors:   pool.NewCrawlErrors(s, keys),
		ProcessErrors: pool.NewProcessErrors(s, keys),
		Warnings:      pool.NewWarnings(s, keys, sha256.New()),
		Unknown:       pool.NewUnknownErrors(s, keys, notifier, logger),
		Instances:     stats.NewInstance(s, keys, clock),
		Cluster:       stats.NewCluster(s, keys, clock),
		Registry:      reg,
		Handler:       handlers,
		Clock:         clock,
		HostIP:        hostIP,
		Logger:        logger,
	}

	logger.Info("pipeline services initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("registry", cfg.Registry.Backend),
		zap.String("blob", cfg.Fetch.Blob.Backend),
		zap.Bool("notify", notifier != nil),
		zap.Bool("tracing", cfg.Tracing.Enabled),
		zap.String("trace_exporter", cfg.Tracing.Exporter),
		zap.String("host", hostIP),
		zap.Strings("handlers", handlers.Names()),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context, clock *system.Clock) (store.Store, error) {
	var s store.Store
	switch a.cfg.Store.Backend {
	case config.StoreMemory:
		a.logger.Warn("using in-memory store; state is lost on exit and not shared between processes")
		s = storememory.New(clock)
	case config.StoreRedis:
		rs, err := redisstore.New(ctx, redisstore.Config{
			Addr:     a.cfg.Store.Addr,
			Password: a.cfg.Store.Password,
			DB:       a.cfg.Store.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		s = rs
	default:
		return nil, fmt.Errorf("unknown store backend: %s", a.cfg.Store.Backend)
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

func (a *App) openRegistry(ctx context.Context) (registry.Registry, error) {
	switch a.cfg.Registry.Backend {
	case config.RegistryStatic:
		return registry.Static(a.cfg.Registry.IDs), nil
	case config.RegistryStore:
		return a.instances, nil
	case config.RegistryPostgres:
		pg, err := pgregistry.New(ctx, pgregistry.Config{DSN: a.cfg.Registry.DSN, Table: a.cfg.Registry.Table})
		if err != nil {
			return nil, fmt.Errorf("open postgres registry: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown registry backend: %s", a.cfg.Registry.Backend)
	}
}

func (a *App) openNotifier(ctx context.Context) (pool.Notifier, error) {
	if !a.cfg.Notify.Enabled() {
		return nil, nil
	}
	n, err := pubsubnotify.New(ctx, a.cfg.Notify.ProjectID, a.cfg.Notify.TopicName)
	if err != nil {
		return nil, fmt.Errorf("open fault notifier: %w", err)
	}
	a.closers = append(a.closers, n.Close)
	return n, nil
}

func (a *App) openBlobStore(ctx context.Context) (storage.BlobStore, error) {
	blob := a.cfg.Fetch.Blob
	switch blob.Backend {
	case config.BlobMemory:
		return blobmemory.NewBlobStore(), nil
	case config.BlobLocal:
		bs, err := local.New(local.Config{BaseDir: blob.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local blob store: %w", err)
		}
		return bs, nil
	case config.BlobGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		bs, err := gcs.New(client, gcs.Config{Bucket: blob.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("open gcs blob store: %w", err)
		}
		a.closers = append(a.closers, bs.Close)
		return bs, nil
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", blob.Backend)
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Env returns the worker environment shared by every worker and the ops server.
func (a *App) Env() worker.Env {
	return a.env
}

// Instances returns the store-backed running-instance registry. It is writable
// regardless of which registry the workers poll.
func (a *App) Instances() *registry.Store {
	return a.instances
}

// ThreadPrefix returns the worker name prefix, defaulting to the host address.
func (a *App) ThreadPrefix() string {
	if p := strings.TrimSpace(a.cfg.Worker.ThreadPrefix); p != "" {
		return p
	}
	return a.env.HostIP
}

// Close shuts down services in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
