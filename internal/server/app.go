// Package server is the composition root: it builds every component from
// config and owns their lifecycles.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/api"
	"github.com/JakeFAU/anime-guide-crawler/internal/clock/system"
	"github.com/JakeFAU/anime-guide-crawler/internal/config"
	"github.com/JakeFAU/anime-guide-crawler/internal/fetch"
	"github.com/JakeFAU/anime-guide-crawler/internal/fetch/headless"
	"github.com/JakeFAU/anime-guide-crawler/internal/hash/sha256"
	"github.com/JakeFAU/anime-guide-crawler/internal/id/uuid"
	"github.com/JakeFAU/anime-guide-crawler/internal/logging"
	"github.com/JakeFAU/anime-guide-crawler/internal/metrics"
	"github.com/JakeFAU/anime-guide-crawler/internal/pipeline"
	"github.com/JakeFAU/anime-guide-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/anime-guide-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/anime-guide-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/anime-guide-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/anime-guide-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/anime-guide-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/anime-guide-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/anime-guide-crawler/internal/storage/postgres"
	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	runner    *pipeline.Runner
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	http      *http.Server

	pgStore         *pgstore.AnimeStore
	renderer        *headless.Renderer
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
}

// Build connects to Postgres and assembles the application.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	pg, err := pgstore.NewAnimeStore(ctx, cfg.PostgresConfig())
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	if cfg.DB.AutoMigrate {
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("schema migration failed: %w", err)
		}
		logger.Info("database schema ensured")
	}

	app, err := assemble(ctx, cfg, logger, pg)
	if err != nil {
		pg.Close()
		return nil, err
	}
	app.pgStore = pg
	return app, nil
}

// assemble wires everything above the repository.
func assemble(ctx context.Context, cfg config.Config, logger *zap.Logger, repo store.Repository) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	fetcher, err := fetch.New(
		cfg.FetchClientConfig(),
		fetch.WithLimiter(ratelimit.New(cfg.RateLimitConfig())),
		fetch.WithLogger(logging.Component(logger, "fetch")),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch client init failed: %w", err)
	}

	opts := []pipeline.Option{pipeline.WithLogger(logging.Component(logger, "pipeline"))}

	if cfg.Headless.Enabled {
		app.renderer, err = headless.NewChromedp(cfg.HeadlessRendererConfig())
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		opts = append(opts, pipeline.WithRenderer(app.renderer))
		logger.Info("headless calendar fallback enabled")
	}

	archive, err := app.setupArchive(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if archive != nil {
		opts = append(opts, pipeline.WithArchive(archive, sha256.New()))
	}

	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if publisher != nil {
		opts = append(opts, pipeline.WithPublisher(publisher))
	}

	crawler, err := pipeline.New(repo, fetcher, system.New(loc), cfg.PipelineConfig(), opts...)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("crawler init failed: %w", err)
	}
	ids := uuid.NewUUIDGenerator()
	app.runner, err = pipeline.NewRunner(crawler, ids)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("runner init failed: %w", err)
	}

	app.scheduler, err = scheduler.New(app.runner, cfg.SchedulerConfig(loc), logging.Component(logger, "scheduler"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	app.apiServer = api.NewServer(repo, app.runner, api.Config{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		IDs:            ids,
	}, logging.Component(logger, "api"))

	app.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           app.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("application built",
		zap.Int("port", cfg.Server.Port),
		zap.String("timezone", loc.String()),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
	)
	return app, nil
}

func (a *App) setupArchive(ctx context.Context) (pipeline.Archive, error) {
	switch a.cfg.Archive.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving pages locally", zap.String("path", a.cfg.Archive.LocalDir))
		return blobs, nil
	case "memory":
		a.logger.Info("archiving pages in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("page archive disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (pipeline.Publisher, error) {
	switch a.cfg.Publisher.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubPublisher = gcppublisher.New(client.Publisher(a.cfg.Publisher.TopicName))
		a.logger.Info("publishing run summaries to Pub/Sub",
			zap.String("project", a.cfg.Publisher.ProjectID),
			zap.String("topic", a.cfg.Publisher.TopicName),
		)
		return a.pubsubPublisher, nil
	case "memory":
		a.logger.Info("publishing run summaries in memory")
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

// Handler exposes the query API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Runner exposes the crawl runner.
func (a *App) Runner() *pipeline.Runner {
	return a.runner
}

// Run starts the scheduler and HTTP server and blocks until ctx is canceled
// or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.scheduler.Start()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	a.scheduler.Shutdown()
	a.apiServer.StopRuns()

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases external clients. It is safe to call more than once.
func (a *App) Close() {
	a.closeInfrastructure()
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.renderer != nil {
		a.renderer.Close()
		a.renderer = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
}
