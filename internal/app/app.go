// Package app wires every component into a single explicitly-owned
// context. Per spec.md §9's REDESIGN FLAG against package-level
// singletons (the teacher's database.DB, asrengine.Default(), and
// friends), nothing here is a package global: App holds every dependency
// as a field, constructed in order and torn down in reverse.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"voxqueue/internal/api"
	"voxqueue/internal/config"
	"voxqueue/internal/dropzone"
	"voxqueue/internal/modelmanager"
	"voxqueue/internal/pipeline"
	"voxqueue/internal/pipeline/engine"
	"voxqueue/internal/processor"
	"voxqueue/internal/store"
	"voxqueue/internal/webhook"
	"voxqueue/pkg/logger"

	"github.com/gin-gonic/gin"
)

// App owns every long-lived component, constructed bottom-up: store,
// model manager, webhook dispatcher, pipeline runner, job processor,
// HTTP router, optional dropzone watcher.
type App struct {
	Config    *config.Config
	Store     *store.Store
	Models    *modelmanager.Manager
	Webhook   *webhook.Dispatcher
	Runner    *pipeline.Runner
	Processor *processor.Processor
	Router    *gin.Engine
	Dropzone  *dropzone.Watcher

	server *http.Server
}

// New constructs every component in dependency order. It does not start
// any background loop — call Start for that.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	eng := engine.NewCommandEngine(cfg.TranscribeCmd)
	models := modelmanager.New(eng, cfg.ModelName, cfg.IdleTimeout())

	hooks := webhook.New()

	fetcher := pipeline.NewExecFetcher(cfg.YtDLPPath)
	extractor := pipeline.NewFFmpegExtractor(cfg.FFmpegPath, "")
	renderer := pipeline.NewStandardRenderer()

	runner := pipeline.NewRunner(st, fetcher, extractor, renderer, models)
	proc := processor.New(st, runner, hooks, cfg.DataDir, 0)

	handler := api.NewHandler(st, proc, models, cfg)
	router := api.SetupRoutes(handler)

	a := &App{
		Config:    cfg,
		Store:     st,
		Models:    models,
		Webhook:   hooks,
		Runner:    runner,
		Processor: proc,
		Router:    router,
	}

	if cfg.DropzoneDir != "" {
		a.Dropzone = dropzone.New(cfg.DropzoneDir, cfg.DataDir, cfg.RetentionWindow(), proc)
	}

	return a, nil
}

// Start runs recovery, launches the processor's worker, starts the
// dropzone watcher if configured, and begins serving HTTP.
func (a *App) Start() error {
	if err := a.Processor.Start(); err != nil {
		return fmt.Errorf("app: start processor: %w", err)
	}

	if a.Dropzone != nil {
		if err := a.Dropzone.Start(); err != nil {
			logger.Warn("app: dropzone watcher failed to start", "error", err)
		}
	}

	a.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", a.Config.Host, a.Config.Port),
		Handler: a.Router,
	}

	logger.Startup("http_listen", fmt.Sprintf("voxqueue listening on %s", a.server.Addr))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// Shutdown tears every component down in reverse construction order,
// letting the in-flight HTTP request and pipeline stage finish first.
func (a *App) Shutdown(ctx context.Context) error {
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("app: http shutdown error", "error", err)
		}
	}

	if a.Dropzone != nil {
		a.Dropzone.Stop()
	}

	a.Processor.Stop()

	if err := a.Models.Unload(); err != nil {
		logger.Warn("app: model unload on shutdown failed", "error", err)
	}

	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("app: close store: %w", err)
	}
	return nil
}
