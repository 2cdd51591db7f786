package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/procflow/extractor/internal/config"
	"github.com/procflow/extractor/internal/core/ports"
	"github.com/procflow/extractor/internal/core/usecase"
	"github.com/procflow/extractor/internal/infrastructure/backend/layout"
	"github.com/procflow/extractor/internal/infrastructure/backend/tabular"
	"github.com/procflow/extractor/internal/infrastructure/backend/textllm"
	"github.com/procflow/extractor/internal/infrastructure/backend/vision"
	"github.com/procflow/extractor/internal/infrastructure/llm/ollama"
	"github.com/procflow/extractor/internal/infrastructure/queue/nats"
	"github.com/procflow/extractor/internal/infrastructure/repository/postgres"
	"github.com/procflow/extractor/internal/infrastructure/resilience"
	"github.com/procflow/extractor/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Queue ports.MessageQueue
	Store ports.DocumentStore

	SubmitUC *usecase.SubmitDocumentUseCase
	ResultUC *usecase.GetResultUseCase
	CancelUC *usecase.CancelDocumentUseCase

	closeFn func()
}

// New wires the shared application graph. The extraction use case is
// built separately per process (see NewExtractUseCase) because only the
// worker carries a cascade observer.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if cfg.CascadePath != "" {
		file, err := config.LoadCascadeFile(cfg.CascadePath)
		if err != nil {
			return nil, fmt.Errorf("load cascade config: %w", err)
		}
		cfg = file.Apply(cfg)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	executor := resilience.NewExecutor(resilience.DefaultConfig())
	store := postgres.NewDocumentStore(db, executor)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	return &App{
		Config: cfg,
		Queue:  queue,
		Store:  store,

		SubmitUC: usecase.NewSubmitDocumentUseCase(store, storage, queue),
		ResultUC: usecase.NewGetResultUseCase(store),
		CancelUC: usecase.NewCancelDocumentUseCase(store),

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

// NewExtractUseCase assembles the cost-ordered backend cascade for the
// worker process.
func (a *App) NewExtractUseCase(observer usecase.CascadeObserver) (*usecase.ExtractDocumentUseCase, error) {
	cfg := a.Config

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	ollamaClient := ollama.NewWithExecutor(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaVisionModel, executor)
	visionModel := ollama.NewVisionExtractor(ollamaClient)
	textModel := ollama.NewTextExtractor(ollamaClient)

	backends := []ports.ExtractionBackend{
		tabular.New(storage),
		layout.New(storage),
		vision.New(storage, visionModel, cfg.VisionMaxPages),
		textllm.New(storage, textModel),
	}

	cascade := usecase.CascadeConfig{
		DefaultDeadline:    time.Duration(cfg.DefaultDeadlineSeconds) * time.Second,
		EarlyExitThreshold: cfg.EarlyExitThreshold,
		MinConfidence:      cfg.MinConfidence,
	}
	if cfg.CascadePath != "" {
		file, err := config.LoadCascadeFile(cfg.CascadePath)
		if err != nil {
			return nil, fmt.Errorf("load cascade config: %w", err)
		}
		if len(file.BackendDeadlineSeconds) > 0 {
			cascade.Deadlines = make(map[string]time.Duration, len(file.BackendDeadlineSeconds))
			for backend, seconds := range file.BackendDeadlineSeconds {
				cascade.Deadlines[backend] = time.Duration(seconds) * time.Second
			}
		}
	}

	return usecase.NewExtractDocumentUseCase(a.Store, backends, cascade, observer), nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
