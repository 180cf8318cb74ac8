package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/queue"
	"github.com/saraichinwag/data-machine-sub002/internal/services/chat"
	"github.com/saraichinwag/data-machine-sub002/internal/services/enginedata"
	"github.com/saraichinwag/data-machine-sub002/internal/services/events"
	"github.com/saraichinwag/data-machine-sub002/internal/services/flows"
	"github.com/saraichinwag/data-machine-sub002/internal/services/llm"
	"github.com/saraichinwag/data-machine-sub002/internal/services/packets"
	"github.com/saraichinwag/data-machine-sub002/internal/services/prompts"
	"github.com/saraichinwag/data-machine-sub002/internal/services/publish"
	"github.com/saraichinwag/data-machine-sub002/internal/services/recovery"
	"github.com/saraichinwag/data-machine-sub002/internal/services/scheduler"
	"github.com/saraichinwag/data-machine-sub002/internal/services/steps"
	"github.com/saraichinwag/data-machine-sub002/internal/services/tools"
	"github.com/saraichinwag/data-machine-sub002/internal/services/webfetch"
	"github.com/saraichinwag/data-machine-sub002/internal/storage"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Scheduling. Exactly one of SchedulerService and InlineScheduler is set.
	EventService     interfaces.EventService
	QueueManager     *queue.BadgerManager
	WorkerPool       *queue.WorkerPool
	SchedulerService *scheduler.Service
	InlineScheduler  *scheduler.InlineScheduler
	Scheduler        interfaces.TaskScheduler

	// Engine
	EngineData      *enginedata.Service
	PacketService   *packets.Service
	PromptQueue     *prompts.Queue
	StepTypes       *flows.StepTypeRegistry
	Controller      *flows.Controller
	HealthRecorder  *flows.HealthRecorder
	RecoveryService *recovery.Service

	// Content services
	Fetcher   *webfetch.Fetcher
	Publisher *publish.MarkdownPublisher

	// Agents
	ToolRegistry     *tools.Registry
	ToolExecutor     *tools.Executor
	ProviderFactory  *llm.ProviderFactory
	ConversationLoop *chat.ConversationLoop
	ChatService      *chat.Service
}

// New initializes the application with the durable queue scheduler
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	return build(cfg, logger, false)
}

// NewInline initializes the application with the inline scheduler, for
// one-shot runs that drive a flow to completion in the calling goroutine
func NewInline(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	return build(cfg, logger, true)
}

func build(cfg *common.Config, logger arbor.ILogger, inline bool) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	for _, token := range cfg.Engine.ExtraTerminalStatuses {
		models.RegisterTerminalStatus(token)
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initScheduler(inline); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.loadFlows(context.Background()); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to load flows: %w", err)
	}

	logger.Info().
		Bool("inline", inline).
		Strs("step_types", app.StepTypes.Names()).
		Int("tools", len(app.ToolRegistry.Names())).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initScheduler sets up events and the task scheduler. The durable scheduler
// shares the storage's Badger database for its queue.
func (a *App) initScheduler(inline bool) error {
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return err
	}

	if inline {
		a.InlineScheduler = scheduler.NewInlineScheduler(a.Logger)
		a.Scheduler = a.InlineScheduler
		return nil
	}

	// StorageManager.DB() returns *badgerhold.Store, the queue needs the underlying *badger.DB
	badgerStore, ok := a.StorageManager.DB().(*badgerhold.Store)
	if !ok {
		return fmt.Errorf("storage manager is not backed by BadgerDB (got %T)", a.StorageManager.DB())
	}

	queueConfig := queue.ConfigFromCommon(a.Config.Queue)
	queueMgr, err := queue.NewBadgerManager(
		badgerStore.Badger(),
		queueConfig.QueueName,
		queueConfig.VisibilityTimeout,
		queueConfig.MaxReceive,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}
	a.QueueManager = queueMgr
	a.WorkerPool = queue.NewWorkerPool(queueMgr, queueConfig, a.Logger)
	a.SchedulerService = scheduler.NewService(queueMgr, a.WorkerPool, a.Logger)
	a.Scheduler = a.SchedulerService

	a.Logger.Debug().
		Str("queue_name", queueConfig.QueueName).
		Int("concurrency", queueConfig.Concurrency).
		Dur("visibility_timeout", queueConfig.VisibilityTimeout).
		Msg("Queue scheduler initialized")
	return nil
}

// initServices initializes the engine, tools and agents in dependency order:
// engine data and packets, the controller over the step type registry, then
// tools and providers, and finally the step types that use them.
func (a *App) initServices() error {
	ctx := context.Background()

	a.EngineData = enginedata.NewService(a.StorageManager.JobStorage(), a.Logger)
	a.PacketService = packets.NewService(a.StorageManager.PacketStorage(), a.Logger)
	a.PromptQueue = prompts.NewQueue(a.StorageManager.FlowStorage(), a.EngineData, a.Logger)
	a.StepTypes = flows.NewStepTypeRegistry()

	a.Controller = flows.NewController(
		a.StorageManager,
		a.EngineData,
		a.PacketService,
		a.PromptQueue,
		a.Scheduler,
		a.EventService,
		a.StepTypes,
		a.Config.Engine,
		a.Logger,
	)
	a.Controller.RegisterActions()

	a.HealthRecorder = flows.NewHealthRecorder(a.StorageManager.FlowStorage(), a.Logger)
	if err := a.HealthRecorder.Subscribe(a.EventService); err != nil {
		return fmt.Errorf("failed to subscribe flow health recorder: %w", err)
	}

	a.RecoveryService = recovery.NewService(
		a.StorageManager.JobStorage(),
		a.Controller,
		a.PromptQueue,
		a.EventService,
		a.Config.Recovery,
		a.Logger,
	)
	if a.Config.Recovery.Enabled {
		if err := a.RecoveryService.RegisterSchedule(ctx, a.Scheduler, a.Config.Recovery.Interval); err != nil {
			return fmt.Errorf("failed to schedule recovery: %w", err)
		}
	}

	a.Fetcher = webfetch.NewFetcher(a.Config.Fetch, a.Logger)
	a.Publisher = publish.NewMarkdownPublisher(a.Config.Publish, a.Logger)

	a.ToolRegistry = tools.NewRegistry()
	if err := tools.RegisterBuiltins(a.ToolRegistry, tools.Dependencies{
		Engine:    a.EngineData,
		Fetcher:   a.Fetcher,
		Publisher: a.Publisher,
		Prompts:   a.PromptQueue,
		Flows:     a.StorageManager.FlowStorage(),
		Runner:    a.Controller,
		Logger:    a.Logger,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	a.ToolExecutor = tools.NewExecutor(a.ToolRegistry, a.Logger)

	a.ProviderFactory = llm.NewProviderFactory(&a.Config.Gemini, &a.Config.Claude, &a.Config.LLM, a.Logger)
	a.ConversationLoop = chat.NewConversationLoop(a.ProviderFactory, a.ToolExecutor, a.Logger)
	a.ChatService = chat.NewService(
		a.StorageManager.ChatSessionStorage(),
		a.ConversationLoop,
		a.ToolRegistry,
		chat.Options{
			Provider: string(a.Config.LLM.DefaultProvider),
			MaxTurns: a.Config.Engine.DefaultMaxTurns,
		},
		a.Logger,
	)

	if err := steps.RegisterBuiltins(a.StepTypes, steps.Dependencies{
		Processed:       a.StorageManager.ProcessedItemStorage(),
		Engine:          a.EngineData,
		Prompts:         a.PromptQueue,
		Loop:            a.ConversationLoop,
		Tools:           a.ToolRegistry,
		Fetcher:         a.Fetcher,
		DefaultMaxTurns: a.Config.Engine.DefaultMaxTurns,
		Logger:          a.Logger,
	}); err != nil {
		return err
	}

	if !a.ProviderFactory.IsConfigured(llm.ProviderGemini) && !a.ProviderFactory.IsConfigured(llm.ProviderClaude) {
		a.Logger.Warn().Msg("No AI provider API key configured - ai steps and chat will fail")
	}
	return nil
}

// loadFlows upserts flow definition files and registers their schedules
func (a *App) loadFlows(ctx context.Context) error {
	loaded, err := a.StorageManager.LoadFlowDefinitionsFromFiles(ctx, a.Config.Flows.DefinitionsDir)
	if err != nil {
		// Definition problems are logged per file; only directory errors land here
		a.Logger.Warn().Err(err).Msg("Failed to load flow definitions from files")
	}

	for _, flow := range loaded {
		config := flow.SchedulingConfig
		if config.IsOneTime() && config.Timestamp != nil && config.Timestamp.Before(time.Now()) {
			a.Logger.Debug().
				Int64("flow_id", flow.ID).
				Str("run_at", config.Timestamp.Format(time.RFC3339)).
				Msg("One-time schedule already passed, not rescheduling")
			continue
		}
		if err := a.Controller.Schedule(ctx, flow.ID, config); err != nil {
			a.Logger.Warn().Err(err).Int64("flow_id", flow.ID).Msg("Failed to schedule flow")
		}
	}

	return a.Controller.RestoreSchedules(ctx)
}

// Start begins queue consumption and cron ticking
func (a *App) Start(ctx context.Context) error {
	if a.SchedulerService == nil {
		return fmt.Errorf("application was built with the inline scheduler")
	}
	return a.SchedulerService.Start(ctx)
}

// RunFlowOnce runs a flow to completion on the inline scheduler and returns the finished job
func (a *App) RunFlowOnce(ctx context.Context, flowID int64) (*models.Job, error) {
	if a.InlineScheduler == nil {
		return nil, fmt.Errorf("application was built without the inline scheduler")
	}

	job, err := a.Controller.RunNow(ctx, flowID, models.JobSourceAPI)
	if err != nil {
		return nil, err
	}
	runErr := a.InlineScheduler.Run(ctx)

	finished, err := a.StorageManager.JobStorage().GetJob(ctx, job.ID)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	return finished, runErr
}

// Close stops background work and releases resources
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.ProviderFactory != nil {
		if err := a.ProviderFactory.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM providers")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue manager")
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
