// Package server builds the application graph and runs its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ytcrawler/internal/api"
	"github.com/JakeFAU/ytcrawler/internal/audit"
	"github.com/JakeFAU/ytcrawler/internal/channel"
	"github.com/JakeFAU/ytcrawler/internal/clock"
	"github.com/JakeFAU/ytcrawler/internal/config"
	"github.com/JakeFAU/ytcrawler/internal/crawler"
	"github.com/JakeFAU/ytcrawler/internal/fetcher/youtube"
	sha256hash "github.com/JakeFAU/ytcrawler/internal/hash/sha256"
	"github.com/JakeFAU/ytcrawler/internal/id/uuid"
	"github.com/JakeFAU/ytcrawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/ytcrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/ytcrawler/internal/quota"
	"github.com/JakeFAU/ytcrawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/ytcrawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ytcrawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/ytcrawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/ytcrawler/internal/storage/postgres"
	"github.com/JakeFAU/ytcrawler/internal/telemetry"
	"github.com/JakeFAU/ytcrawler/internal/worker"
)

const (
	userAgent = "ytcrawler/0.1"
	version   = "0.1.0"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     crawler.Store
	gcs       *gcsstorage.BlobStore
	pubsub    *gcppublisher.Publisher
	quota     *quota.Service
	channels  *channel.Service
	worker    *worker.Worker
	apiServer *api.Server
	scheduler *scheduler.Scheduler
	tracing   *sdktrace.TracerProvider
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
			app = nil
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("pubsub_enabled", cfg.PubSub.Enabled),
		zap.Bool("schedule_enabled", cfg.Schedule.Enabled),
	)

	if cfg.Telemetry.Enabled {
		app.tracing, err = telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     version,
			LogSpans:    cfg.Telemetry.LogSpans,
		}, logger)
		if err != nil {
			return app, fmt.Errorf("tracing init failed: %w", err)
		}
	}
	if app.store, err = setupStore(ctx, cfg, logger); err != nil {
		return app, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		return app, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return app, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.YouTube.RequestsPerSecond,
		DefaultBurst: cfg.YouTube.Burst,
	})
	retryBase, retryMax := cfg.RetryBackoff()
	source, err := youtube.New(ctx, youtube.Config{
		BaseURL:    cfg.YouTube.BaseURL,
		Timeout:    cfg.YouTubeTimeout(),
		MaxResults: int64(cfg.YouTube.MaxResults),
		MaxRetries: cfg.YouTube.MaxRetries,
		RetryBase:  retryBase,
		RetryMax:   retryMax,
		UserAgent:  userAgent,
	}, limiter, logger.Named("youtube"))
	if err != nil {
		return app, fmt.Errorf("youtube client init failed: %w", err)
	}

	clk := clock.System{}
	app.quota = quota.NewService(app.store, quota.NewTracker(cfg.QuotaRules()), clk, cfg.YouTube.APIKey, logger.Named("quota"))
	recorder := audit.NewRecorder(app.store, clk, logger)
	app.channels = channel.NewService(app.store, source, app.quota, recorder, clk, logger)
	app.worker = worker.New(worker.Dependencies{
		Source:    source,
		Store:     app.store,
		Quota:     app.quota,
		Audit:     recorder,
		Archive:   archive,
		Publisher: publisher,
		Clock:     clk,
		IDs:       uuid.New(),
		Hasher:    sha256hash.New(),
	}, worker.Config{
		StartYear:     cfg.Backfill.StartYear,
		ArchivePrefix: cfg.Archive.Prefix,
		Topic:         cfg.PubSub.TopicName,
	}, logger)

	app.apiServer = api.NewServer(api.Dependencies{
		Channels: app.channels,
		Crawler:  app.worker,
		Quota:    app.quota,
		Logs:     app.store,
		Ready:    app.store,
	}, cfg, logger)

	if cfg.Schedule.Enabled {
		app.scheduler, err = scheduler.New([]scheduler.Job{
			{Name: string(crawler.ModeIncremental), Interval: cfg.IncrementalInterval(), Run: app.worker.RunIncremental},
			{Name: string(crawler.ModeBackfill), Interval: cfg.BackfillInterval(), Run: app.worker.RunBackfill},
		}, logger)
		if err != nil {
			return app, fmt.Errorf("scheduler init failed: %w", err)
		}
	}
	return app, nil
}

func setupStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Store, error) {
	if cfg.Storage.Backend != config.BackendPostgres {
		logger.Warn("using in-memory store; data is lost on exit")
		return memorystorage.NewStore(), nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnMaxLifetime(),
		ConnectRetries:  cfg.DB.ConnectRetries,
		Migrate:         cfg.DB.Migrate,
	}, logger.Named("postgres"))
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	logger.Info("postgres store initialized")
	return store, nil
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket}, a.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.gcs = store
		a.logger.Info("archiving raw pages to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving raw pages locally", zap.String("path", a.cfg.Archive.LocalDir))
		return store, nil
	case config.BackendMemory:
		a.logger.Info("archiving raw pages in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("Pub/Sub disabled, crawl notifications are not published")
		return nil, nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// Handler exposes the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Worker returns the crawl orchestrator.
func (a *App) Worker() *worker.Worker {
	return a.worker
}

// Channels returns the channel service.
func (a *App) Channels() *channel.Service {
	return a.channels
}

// Quota returns the quota service.
func (a *App) Quota() *quota.Service {
	return a.quota
}

// Run serves HTTP (and the scheduler, when enabled) until ctx is canceled or
// a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.Close()
	return err
}

// Close releases every backend.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcs = nil
	}
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
		a.tracing = nil
	}
}
