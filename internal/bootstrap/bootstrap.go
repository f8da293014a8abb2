// Package bootstrap wires configuration into the full dependency graph
// and owns shutdown ordering.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/contextkb/knowledge-server/internal/adapters/mcp"
	"github.com/contextkb/knowledge-server/internal/config"
	"github.com/contextkb/knowledge-server/internal/core/ports"
	"github.com/contextkb/knowledge-server/internal/core/usecase"
	"github.com/contextkb/knowledge-server/internal/infrastructure/chunking"
	"github.com/contextkb/knowledge-server/internal/infrastructure/embedding/ollama"
	"github.com/contextkb/knowledge-server/internal/infrastructure/events/nats"
	"github.com/contextkb/knowledge-server/internal/infrastructure/extractor"
	"github.com/contextkb/knowledge-server/internal/infrastructure/ocr"
	"github.com/contextkb/knowledge-server/internal/infrastructure/registry/postgres"
	"github.com/contextkb/knowledge-server/internal/infrastructure/resilience"
	"github.com/contextkb/knowledge-server/internal/infrastructure/scheduler"
	"github.com/contextkb/knowledge-server/internal/infrastructure/vector/qdrant"
	"github.com/contextkb/knowledge-server/internal/observability/logging"
	"github.com/contextkb/knowledge-server/internal/observability/metrics"
)

// App holds every long-lived component of the server process.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Metrics     *metrics.TaskMetrics
	Coordinator *usecase.Coordinator
	MCP         *mcpserver.MCPServer

	db           *sql.DB
	orchestrator *scheduler.Orchestrator
	events       *nats.Publisher
}

// New builds the dependency graph. Postgres must be reachable; NATS is
// optional and skipped when no URL is configured.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger(cfg.Server.Name, cfg.Server.LogLevel)
	taskMetrics := metrics.NewTaskMetrics(cfg.Server.Name)
	exec := resilience.NewExecutor(resilience.DefaultPolicy(), logger)

	db, err := postgres.OpenDB(cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	documents := postgres.NewDocumentRegistry(db)
	contexts := postgres.NewContextRegistry(db)
	if err := documents.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("document schema: %w", err)
	}
	if err := contexts.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("context schema: %w", err)
	}
	if err := contexts.EnsureDefault(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure default context: %w", err)
	}

	var events *nats.Publisher
	if cfg.Events.NATSURL != "" {
		events, err = nats.NewPublisher(cfg.Events.NATSURL, cfg.Events.Subject, nats.Options{Logger: logger})
		if err != nil {
			// events are best-effort, the server still works without them
			logger.Warn("nats unavailable, task events disabled", "url", cfg.Events.NATSURL, "error", err)
			events = nil
		}
	}

	orchestrator := scheduler.NewOrchestrator(scheduler.Options{
		Workers:       cfg.Processing.Workers,
		QueueCapacity: cfg.Processing.QueueCapacity,
		ServiceName:   cfg.Server.Name,
		Logger:        logger,
		Metrics:       taskMetrics,
		Events:        eventsOrNil(events),
	})

	coordinator := usecase.NewCoordinator(usecase.Deps{
		Documents: documents,
		Contexts:  contexts,
		Extractor: extractor.NewService(logger),
		OCR:       ocr.NewClient(cfg.OCR.URL, cfg.OCR.Language, exec),
		Embedder: ollama.NewEmbedder(ollama.Options{
			BaseURL:           cfg.Embedding.OllamaURL,
			Model:             cfg.Embedding.Model,
			BatchSize:         cfg.Embedding.BatchSize,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
			Executor:          exec,
		}),
		Chunker: chunking.NewSplitter(cfg.Chunking.Size, cfg.Chunking.Overlap),
		Store:   qdrant.NewRouter(cfg.Storage.QdrantURL, cfg.Storage.VectorSize, exec),
		Tasks:   orchestrator,
		Logger:  logger,
	}, usecase.Limits{
		MaxFileSizeBytes: cfg.MaxFileSizeBytes(),
		DefaultTopK:      cfg.Search.DefaultTopK,
		MaxTopK:          cfg.Search.MaxTopK,
		OCRLanguage:      cfg.OCR.Language,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Metrics:      taskMetrics,
		Coordinator:  coordinator,
		MCP:          mcp.NewServer(cfg.Server.Name, cfg.Server.Version, coordinator, logger),
		db:           db,
		orchestrator: orchestrator,
		events:       events,
	}, nil
}

// Close drains running tasks, then tears down connections in reverse
// dependency order.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.orchestrator != nil {
		if err := a.orchestrator.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// eventsOrNil avoids storing a typed nil in the interface field.
func eventsOrNil(p *nats.Publisher) ports.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}
