package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyloom/storyloom/internal/compose"
	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/database"
	"github.com/storyloom/storyloom/internal/database/migrations"
	"github.com/storyloom/storyloom/internal/ffmpeg"
	"github.com/storyloom/storyloom/internal/imagegen"
	"github.com/storyloom/storyloom/internal/llm"
	"github.com/storyloom/storyloom/internal/render"
	"github.com/storyloom/storyloom/internal/repository"
	"github.com/storyloom/storyloom/internal/scenecache"
	"github.com/storyloom/storyloom/internal/scheduler"
	"github.com/storyloom/storyloom/internal/service"
	"github.com/storyloom/storyloom/internal/storage"
	"github.com/storyloom/storyloom/internal/tts"
	"github.com/storyloom/storyloom/pkg/httpclient"
)

// app wires the full generation stack: both SQLite stores, the provider
// clients, the scene cache, the scheduler and the job service. Both the
// serve and render commands build one.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	workspace *storage.Workspace
	jobsDB    *database.DB
	cacheDB   *database.DB
	registry  *httpclient.Registry
	llm       *llm.Client
	detector  *ffmpeg.BinaryDetector
	cache     *scenecache.Cache
	jobs      repository.JobRepository
	scheduler *scheduler.Scheduler
	service   *service.JobService
}

// buildApp constructs and migrates everything up to a started scheduler.
// Callers own shutdown via closeApp.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	workspace := storage.NewWorkspace(cfg.Storage, logger)
	if err := workspace.Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrapping workspace: %w", err)
	}

	jobsDB, err := openStore(ctx, cfg.Storage.JobsDB(), migrations.JobStoreMigrations(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}
	cacheDB, err := openStore(ctx, cfg.Storage.SceneCacheDB(), migrations.SceneCacheMigrations(), logger)
	if err != nil {
		jobsDB.Close()
		return nil, fmt.Errorf("opening scene cache store: %w", err)
	}

	registry := httpclient.NewRegistry()

	llmHTTP := newProviderClient(cfg.LLM.Timeout, logger)
	registry.Register("llm", llmHTTP)
	llmClient := llm.NewClient(cfg.LLM, llmHTTP, logger)

	imageHTTP := newProviderClient(cfg.Image.AttemptTimeout, logger)
	registry.Register("image", imageHTTP)
	imageClient := imagegen.NewClient(cfg.Image, imageHTTP, logger)

	ttsHTTP := newProviderClient(cfg.TTS.RemoteTimeout, logger)
	registry.Register("tts", ttsHTTP)

	detector := ffmpeg.NewBinaryDetector().
		WithConfiguredPaths(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)

	synth := tts.NewSynthesizer(cfg.TTS, ttsHTTP, detector, logger)

	sceneRepo := repository.NewSceneCacheRepository(cacheDB.DB)
	cache := scenecache.New(sceneRepo, cfg.Storage.SceneCacheImagesDir(), cfg.SceneReuse.MaxEntries, logger).
		WithSelector(scenecache.NewLLMSelector(llmClient))
	if err := cache.EnsureBindings(ctx); err != nil {
		logger.Warn("scene cache binding backfill failed", "error", err)
	}

	resolver := imagegen.NewResolver(cache, imageClient, logger)

	fontFile := render.ResolveFontFile(cfg.Storage.SubtitleFontPath)
	renderer := render.NewRenderer(detector, fontFile, logger)
	compositor := compose.NewCompositor(detector, fontFile, logger)

	jobRepo := repository.NewJobRepository(jobsDB.DB)

	sched := scheduler.New(scheduler.Deps{
		Config:     cfg,
		Jobs:       jobRepo,
		Workspace:  workspace,
		Cache:      cache,
		LLM:        llmClient,
		Synth:      synth,
		Resolver:   resolver,
		Renderer:   renderer,
		Compositor: compositor,
		Logger:     logger,
	})
	if err := sched.Start(ctx); err != nil {
		jobsDB.Close()
		cacheDB.Close()
		return nil, fmt.Errorf("starting scheduler: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		workspace: workspace,
		jobsDB:    jobsDB,
		cacheDB:   cacheDB,
		registry:  registry,
		llm:       llmClient,
		detector:  detector,
		cache:     cache,
		jobs:      jobRepo,
		scheduler: sched,
		service:   service.NewJobService(jobRepo, workspace, sched, logger),
	}, nil
}

// closeApp stops the scheduler and closes both stores.
func (a *app) closeApp() {
	a.scheduler.Stop()
	if err := a.cacheDB.Close(); err != nil {
		a.logger.Warn("closing scene cache store", "error", err)
	}
	if err := a.jobsDB.Close(); err != nil {
		a.logger.Warn("closing job store", "error", err)
	}
}

// openStore opens one SQLite store and applies its migrations.
func openStore(ctx context.Context, path string, migs []migrations.Migration, logger *slog.Logger) (*database.DB, error) {
	db, err := database.New(path, logger, nil)
	if err != nil {
		return nil, err
	}

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migs)
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// newProviderClient builds a resilient outbound client for one upstream.
func newProviderClient(timeout time.Duration, logger *slog.Logger) *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.Logger = logger
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return httpclient.New(cfg)
}
