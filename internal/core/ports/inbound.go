package ports

import (
	"context"

	"github.com/contextkb/knowledge-server/internal/core/domain"
)

// TaskOrchestrator runs ingestion work as supervised background units under a
// bounded worker pool. Submission never blocks on execution.
type TaskOrchestrator interface {
	Submit(documentID string, work Work) (string, error)
	Status(taskID string) (domain.Task, error)
	Cancel(taskID string) error
}

// Work is one unit of ingestion. Implementations must check ctx between
// stages and report progress through the reporter.
type Work func(ctx context.Context, progress ProgressReporter) error

// ProgressReporter records monotonically non-decreasing progress at stage
// boundaries.
type ProgressReporter interface {
	Step(fraction float64, label string)
}

// AddRequest carries everything needed to ingest one file.
type AddRequest struct {
	Path     string
	Contexts []string
	ForceOCR bool
	Sync     bool
}

// AddResult reports either the queued task or, in sync mode, the finished
// document.
type AddResult struct {
	TaskID     string
	DocumentID string
	ChunkCount int
	Duplicate  bool
}

// KnowledgeService is the inbound contract consumed by the tool layer.
type KnowledgeService interface {
	AddDocument(ctx context.Context, req AddRequest) (*AddResult, error)
	Search(ctx context.Context, query, contextName string, topK int, minRelevance float64) ([]domain.SearchResult, error)
	RemoveDocument(ctx context.Context, documentID string) (int, error)
	ListDocuments(ctx context.Context, contextName string) ([]domain.Document, error)
	TaskStatus(ctx context.Context, taskID string) (domain.Task, error)
	Statistics(ctx context.Context) (*domain.Statistics, error)
	ClearContext(ctx context.Context, contextName string, confirm bool) (int, error)
	ClearAll(ctx context.Context, confirm bool) (int, error)

	CreateContext(ctx context.Context, name, description string) (*domain.Context, error)
	GetContext(ctx context.Context, name string) (*domain.Context, error)
	ListContexts(ctx context.Context) ([]domain.Context, error)
	DeleteContext(ctx context.Context, name string) error
}
