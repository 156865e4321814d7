package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/handlers"
	"github.com/ternarybob/continuum/internal/services/documents"
	"github.com/ternarybob/continuum/internal/services/gather"
	"github.com/ternarybob/continuum/internal/services/llm"
	"github.com/ternarybob/continuum/internal/services/refresh"
	"github.com/ternarybob/continuum/internal/services/scheduler"
	"github.com/ternarybob/continuum/internal/services/status"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Core services
	DocumentStore    *documents.Store
	GatherService    *gather.Service
	Providers        *llm.Providers
	RefreshService   *refresh.Service
	StatusService    *status.Service
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	RefreshHandler   *handlers.RefreshHandler
	StatusHandler    *handlers.StatusHandler
	SchedulerHandler *handlers.SchedulerHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initServices(); err != nil {
		app.cancelCtx()
		return nil, err
	}
	app.initHandlers()

	return app, nil
}

func (a *App) initServices() error {
	store, err := documents.NewStore(a.Config.Storage.ResearchDir, a.Config.Storage.IndexFile, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize document store: %w", err)
	}
	a.DocumentStore = store
	a.Logger.Info().
		Str("dir", a.Config.Storage.ResearchDir).
		Msg("Document store initialized")

	a.GatherService = gather.NewService(a.Config, a.Logger)

	providers, err := llm.NewProviders(a.ctx, a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize completion providers: %w", err)
	}
	a.Providers = providers

	a.RefreshService = refresh.NewService(a.Config, a.DocumentStore, a.GatherService, a.Providers, a.Logger)

	a.StatusService = status.NewService(a.Logger)
	a.RefreshService.SetReporter(a.StatusService)

	a.SchedulerService = scheduler.NewService(a.Config, a.RefreshService, a.Logger)
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.RefreshHandler = handlers.NewRefreshHandler(a.RefreshService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, a.SchedulerService, a.DocumentStore, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
}

// Close releases application resources in reverse dependency order.
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
