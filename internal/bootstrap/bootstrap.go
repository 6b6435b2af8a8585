package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/intake-assistant/internal/config"
	"github.com/kirillkom/intake-assistant/internal/core/domain"
	"github.com/kirillkom/intake-assistant/internal/core/ports"
	"github.com/kirillkom/intake-assistant/internal/core/usecase"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/channel/whatsapp"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/extractor/document"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/llm/classify"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/repository/memory"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/repository/redis"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/storage/drive"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/intake-assistant/internal/observability/logging"
	"github.com/kirillkom/intake-assistant/internal/observability/metrics"
)

type Role string

const (
	// RoleAPI receives webhooks. Without NATS it also runs the workflow.
	RoleAPI Role = "api"
	// RoleWorker consumes events from NATS and runs the workflow.
	RoleWorker Role = "worker"
)

const (
	excerptMaxChars     = 4000
	folderInitTimeout   = 30 * time.Second
	dispatchDrainPeriod = 30 * time.Second
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Catalog domain.CategoryCatalog

	// Sink receives webhook events: the NATS queue when configured,
	// otherwise the in-process Dispatcher.
	Sink       ports.EventSink
	Queue      *nats.Queue
	Engine     *usecase.Engine
	Dispatcher *usecase.Dispatcher

	HTTPMetrics     *metrics.HTTPServerMetrics
	WorkflowMetrics *metrics.WorkflowMetrics

	closers []func(context.Context) error
}

func New(ctx context.Context, cfg config.Config, role Role) (*App, error) {
	logger, logCloser := logging.New(logging.Options{
		Service: string(role),
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	slog.SetDefault(logger)

	app := &App{Config: cfg, Logger: logger}
	app.onClose(func(context.Context) error { return logCloser.Close() })
	if err := app.init(ctx, role); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context, role Role) error {
	cfg := a.Config

	categories, err := cfg.Categories()
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	a.Catalog = domain.NewCategoryCatalog(categories, cfg.DefaultCategory)

	if role == RoleAPI {
		a.HTTPMetrics = metrics.NewHTTPServerMetrics(string(role))
		a.WorkflowMetrics = metrics.NewWorkflowMetrics(string(role), a.HTTPMetrics.Registry())
	} else {
		a.WorkflowMetrics = metrics.NewWorkflowMetrics(string(role), nil)
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg),
		resilience.WithLogger(a.Logger),
		resilience.WithStateObserver(a.WorkflowMetrics.ObserveBreakerState),
	)

	if cfg.NATSURL != "" {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             a.Logger,
		})
		if err != nil {
			return fmt.Errorf("init event queue: %w", err)
		}
		a.Queue = queue
		a.onClose(func(context.Context) error { queue.Close(); return nil })
	} else if role == RoleWorker {
		return errors.New("worker requires NATS_URL")
	}

	// The api only publishes when a worker consumes the queue.
	if role == RoleAPI && a.Queue != nil {
		a.Sink = a.Queue
		return nil
	}

	if err := a.buildWorkflow(ctx, executor); err != nil {
		return err
	}
	a.Sink = a.Dispatcher
	return nil
}

func (a *App) buildWorkflow(ctx context.Context, executor *resilience.Executor) error {
	cfg := a.Config

	location, err := cfg.ArchiveLocation()
	if err != nil {
		return err
	}

	store, err := a.sessionStore(ctx)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}

	model, err := classifierModel(cfg, executor)
	if err != nil {
		return fmt.Errorf("init classifier: %w", err)
	}
	classifier := classify.New(model, a.Catalog, document.NewExtractor(excerptMaxChars), a.Logger)

	archive, rootFolderID, err := archiveStorage(ctx, cfg, executor)
	if err != nil {
		return fmt.Errorf("init archive storage: %w", err)
	}
	a.ensureCategoryFolders(ctx, archive, rootFolderID)

	staging, err := localfs.New(cfg.StagingPath)
	if err != nil {
		return fmt.Errorf("init staging storage: %w", err)
	}

	channel := whatsapp.New(whatsapp.Options{
		Token:         cfg.WhatsAppToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		APIVersion:    cfg.WhatsAppAPIVersion,
		GraphURL:      cfg.WhatsAppGraphURL,
		MaxMediaBytes: cfg.MediaMaxBytes,
		Executor:      executor,
	})

	a.Engine = usecase.NewEngine(usecase.WorkflowDeps{
		Store:      store,
		Classifier: classifier,
		Storage:    archive,
		Messenger:  channel,
		Fetcher:    channel,
		Content:    staging,
		Catalog:    a.Catalog,
		Observer:   a.WorkflowMetrics,
		Logger:     a.Logger,
	}, usecase.WorkflowOptions{
		RootFolderID:          rootFolderID,
		SourceTag:             cfg.SourceTag,
		ConfidenceThreshold:   cfg.ConfidenceThreshold,
		ClassificationTimeout: seconds(cfg.ClassificationTimeoutSeconds),
		UploadTimeout:         seconds(cfg.UploadTimeoutSeconds),
		DownloadTimeout:       seconds(cfg.DownloadTimeoutSeconds),
		Location:              location,
	})

	a.Dispatcher = usecase.NewDispatcher(a.Engine, usecase.DispatcherOptions{
		MaxPending:   cfg.DispatchMaxPending,
		EventTimeout: seconds(cfg.EventTimeoutSeconds),
		Observer:     a.WorkflowMetrics,
		Logger:       a.Logger,
	})
	// Registered last so it runs first: queued events finish before the
	// stores and queue they use are closed.
	a.onClose(func(ctx context.Context) error {
		drainCtx, cancel := context.WithTimeout(ctx, dispatchDrainPeriod)
		defer cancel()
		return a.Dispatcher.Close(drainCtx)
	})
	return nil
}

func (a *App) sessionStore(ctx context.Context) (ports.SessionStore, error) {
	cfg := a.Config
	switch strings.ToLower(strings.TrimSpace(cfg.SessionStore)) {
	case "", "memory":
		return memory.NewSessionStore(0), nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.onClose(func(context.Context) error { return db.Close() })
		repo := postgres.NewSessionRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, nil
	case "redis":
		client, err := redis.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return client.Close() })
		return redis.NewSessionStore(client, seconds(cfg.SessionTTLSeconds)), nil
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORE %q", cfg.SessionStore)
	}
}

func classifierModel(cfg config.Config, executor *resilience.Executor) (classify.Model, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ClassifierProvider)) {
	case "", "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, gemini.ErrMissingAPIKey
		}
		return gemini.New(gemini.Options{
			Endpoint: cfg.GeminiVisionEndpoint,
			APIKey:   cfg.GeminiAPIKey,
			Executor: executor,
		}), nil
	case "ollama":
		return ollama.New(cfg.OllamaURL, cfg.OllamaVisionModel, executor), nil
	default:
		return nil, fmt.Errorf("unsupported CLASSIFIER_PROVIDER %q", cfg.ClassifierProvider)
	}
}

func archiveStorage(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.ArchiveStorage, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "", "drive":
		if strings.TrimSpace(cfg.DriveRootFolderID) == "" {
			return nil, "", errors.New("GOOGLE_DRIVE_ROOT_FOLDER_ID is required for the drive backend")
		}
		client, err := drive.New(ctx, drive.Options{
			KeyPath:      cfg.DriveKeyPath,
			RootFolderID: cfg.DriveRootFolderID,
			Executor:     executor,
		})
		if err != nil {
			return nil, "", err
		}
		return client, cfg.DriveRootFolderID, nil
	case "local":
		archive, err := localfs.NewArchive(cfg.LocalArchivePath)
		if err != nil {
			return nil, "", err
		}
		return archive, "", nil
	default:
		return nil, "", fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

// ensureCategoryFolders creates the category folders up front. Failures are
// logged only; uploads resolve their folder again anyway.
func (a *App) ensureCategoryFolders(ctx context.Context, archive ports.ArchiveStorage, rootFolderID string) {
	ctx, cancel := context.WithTimeout(ctx, folderInitTimeout)
	defer cancel()

	for _, name := range a.Catalog.Names() {
		folder := a.Catalog.FolderFor(name)
		if _, err := archive.ResolveOrCreateFolder(ctx, folder, rootFolderID); err != nil {
			a.Logger.Warn("category_folder_init_failed",
				slog.String("folder", folder),
				slog.String("error", err.Error()),
			)
		}
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        cfg.ResilienceRetryMaxAttempts,
		RetryInitialBackoff:     time.Duration(cfg.ResilienceRetryInitialBackoffMS) * time.Millisecond,
		RetryMaxBackoff:         time.Duration(cfg.ResilienceRetryMaxBackoffMS) * time.Millisecond,
		RetryMultiplier:         cfg.ResilienceRetryMultiplier,
		BreakerEnabled:          cfg.ResilienceBreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.ResilienceBreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.ResilienceBreakerFailureRatio,
		BreakerOpenTimeout:      time.Duration(cfg.ResilienceBreakerOpenTimeoutMS) * time.Millisecond,
		BreakerHalfOpenMaxCalls: uint32(max(cfg.ResilienceBreakerHalfOpenMaxCalls, 0)),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(max(n, 0)) * time.Second
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	ctx := context.Background()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Logger.Error("close_failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
