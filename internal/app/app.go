package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/handlers"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/queue"
	"github.com/ternarybob/eventjobs/internal/queue/workers"
	"github.com/ternarybob/eventjobs/internal/services/civic"
	"github.com/ternarybob/eventjobs/internal/services/events"
	"github.com/ternarybob/eventjobs/internal/services/geocode"
	"github.com/ternarybob/eventjobs/internal/services/llm"
	"github.com/ternarybob/eventjobs/internal/services/quota"
	"github.com/ternarybob/eventjobs/internal/services/scheduler"
	"github.com/ternarybob/eventjobs/internal/storage"
	"github.com/ternarybob/eventjobs/internal/streaming"
)

// App holds all application components and dependencies.
// Which components exist depends on Config.Server.Mode: the HTTP side is
// built for all and api, the worker side for all and worker.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Broker         *events.Service
	StorageManager interfaces.StorageManager
	Table          *models.JobTypeTable

	// Worker side
	Registry         *queue.Registry
	WorkerPool       *queue.WorkerPool
	SchedulerService interfaces.SchedulerService
	FlyerAnalyzer    interfaces.FlyerAnalyzer
	EmbeddingService interfaces.EmbeddingService
	Geocoder         interfaces.Geocoder
	QuotaService     *quota.Service
	CivicService     *civic.Service

	// HTTP side
	Streamer         *streaming.Streamer
	APIHandler       *handlers.APIHandler
	JobHandler       *handlers.JobHandler
	SchedulerHandler *handlers.SchedulerHandler
}

// New initializes the components for the configured run mode
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		Table:  models.DefaultJobTypeTable(),
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if app.RunsWorker() {
		if err := app.initServices(); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to initialize services: %w", err)
		}
		if err := app.initWorkers(); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to initialize workers: %w", err)
		}
	}

	if app.RunsAPI() {
		app.initHandlers()
	}

	logger.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Type).
		Bool("api", app.RunsAPI()).
		Bool("worker", app.RunsWorker()).
		Msg("Application initialized")

	return app, nil
}

// RunsAPI reports whether this process serves HTTP
func (a *App) RunsAPI() bool {
	return a.Config.Server.Mode != common.ModeWorker
}

// RunsWorker reports whether this process executes jobs
func (a *App) RunsWorker() bool {
	return a.Config.Server.Mode != common.ModeAPI
}

func (a *App) initStorage() error {
	a.Broker = events.NewService(a.Logger, a.Config.Stream.SubscriberBuffer, events.DefaultSendTimeout)

	manager, err := storage.NewStorageManager(a.Logger, a.Config, a.Broker, a.Table)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = manager

	a.Logger.Debug().
		Str("storage", a.Config.Storage.Type).
		Msg("Storage layer initialized")
	return nil
}

// initServices builds the external services the workers depend on.
// Missing credentials degrade the affected features instead of failing startup.
func (a *App) initServices() error {
	analyzer, err := llm.NewFlyerAnalyzer(a.Config, a.Logger)
	switch {
	case errors.Is(err, models.ErrServiceUnavailable):
		a.Logger.Warn().
			Str("provider", string(a.Config.LLM.DefaultProvider)).
			Msg("Flyer analysis unavailable: api key is not configured, flyer jobs will fail")
		a.FlyerAnalyzer = llm.NewUnavailableAnalyzer(string(a.Config.LLM.DefaultProvider), err)
	case err != nil:
		return err
	default:
		a.FlyerAnalyzer = analyzer
	}

	embeddings, err := llm.NewEmbeddingService(a.Config, a.Logger)
	if err != nil {
		return err
	}
	a.EmbeddingService = embeddings

	geocoder, err := geocode.NewService(&a.Config.Geocoding, a.Logger)
	switch {
	case errors.Is(err, models.ErrServiceUnavailable):
		a.Logger.Info().Msg("Geocoding disabled: api key is not configured")
	case err != nil:
		return err
	default:
		a.Geocoder = geocoder
	}

	a.QuotaService = quota.NewService(&a.Config.Quota, a.Logger)
	a.CivicService = civic.NewService(&a.Config.Civic, a.Logger)

	return nil
}

func (a *App) initWorkers() error {
	store := a.StorageManager.JobStore()
	eventRepo := a.StorageManager.EventRepository()

	a.Registry = queue.NewRegistry(store, a.Table, a.Logger)

	retention := common.ParseDuration(a.Config.Cleanup.Retention, 0)
	if err := a.Registry.RegisterAll(
		workers.NewFlyerWorker(a.Table, eventRepo, a.FlyerAnalyzer, a.Geocoder, a.EmbeddingService, a.QuotaService, a.Logger),
		workers.NewMultiEventFlyerWorker(a.Table, eventRepo, a.FlyerAnalyzer, a.Geocoder, a.EmbeddingService, a.QuotaService, a.Logger),
		workers.NewPrivateEventWorker(a.Table, eventRepo, a.Geocoder, a.EmbeddingService, a.Logger),
		workers.NewCivicEngagementWorker(a.Table, eventRepo, a.CivicService, a.FlyerAnalyzer, a.EmbeddingService, a.Logger),
		workers.NewCleanupWorker(a.Table, eventRepo, retention, a.Logger),
	); err != nil {
		return err
	}

	a.WorkerPool = queue.NewWorkerPool(a.Registry, queue.NewConfig(a.Config.Queue), a.Logger)

	sched := scheduler.NewService(a.Logger)
	if a.Config.Cleanup.Enabled {
		if err := sched.RegisterJob(
			scheduler.CleanupJobName,
			a.Config.Cleanup.Schedule,
			"Enqueue removal of events that have already ended",
			scheduler.NewCleanupTrigger(store, a.Config.Cleanup.BatchSize, a.Logger),
		); err != nil {
			return fmt.Errorf("failed to register cleanup schedule: %w", err)
		}
	}
	a.SchedulerService = sched

	return nil
}

func (a *App) initHandlers() {
	store := a.StorageManager.JobStore()

	a.Streamer = streaming.NewStreamer(store, streaming.Config{
		KeepaliveInterval: common.ParseDuration(a.Config.Stream.KeepaliveInterval, 0),
		CloseDelay:        common.ParseDuration(a.Config.Stream.CloseDelay, 0),
	}, a.Logger)

	writeTimeout := common.ParseDuration(a.Config.Stream.WriteTimeout, 0)
	a.JobHandler = handlers.NewJobHandler(store, a.Table, a.Streamer, writeTimeout, a.Logger)

	var pool handlers.PoolStats
	if a.WorkerPool != nil {
		pool = a.WorkerPool
	}
	a.APIHandler = handlers.NewAPIHandler(store, pool, a.Streamer, a.Config.Server.Mode, a.Logger)

	if a.SchedulerService != nil {
		a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
	}
}

// Start launches the worker pool and the scheduler. It is a no-op in api mode.
func (a *App) Start(ctx context.Context) error {
	if a.WorkerPool != nil {
		if err := a.WorkerPool.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker pool: %w", err)
		}
	}
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// Close stops background work and releases storage. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		}
	}

	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event broker")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
