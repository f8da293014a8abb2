package ports

import (
	"context"

	"github.com/contextkb/knowledge-server/internal/core/domain"
)

// DocumentRegistry persists document state. It is the durable source of truth
// for which contexts a document belongs to.
type DocumentRegistry interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetBySourceHash(ctx context.Context, hash string) (*domain.Document, error)
	List(ctx context.Context, contextName string) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.ProcessingStatus, errMessage string) error
	SetResult(ctx context.Context, id string, method domain.ProcessingMethod, chunkCount int, status domain.ProcessingStatus) error
	SetContexts(ctx context.Context, id string, contexts []string) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int, error)
	ContextStats(ctx context.Context, contextName string) (documents int, chunks int, err error)
}

// ContextRegistry persists the set of named contexts. Names are stored
// normalized so case variants collide on the primary key.
type ContextRegistry interface {
	Create(ctx context.Context, c *domain.Context) error
	Get(ctx context.Context, name string) (*domain.Context, error)
	List(ctx context.Context) ([]domain.Context, error)
	Delete(ctx context.Context, name string) error
	EnsureDefault(ctx context.Context) error
}

// TextExtractor extracts plain text and format metadata from a source file.
type TextExtractor interface {
	Extract(ctx context.Context, path string, format domain.DocumentFormat) (string, map[string]string, error)
}

// OCRClient recognizes text in a document or image file. All results are
// accepted regardless of confidence.
type OCRClient interface {
	Recognize(ctx context.Context, path string, language string) (text string, confidence float64, err error)
}

// Embedder builds vectors for chunk text and queries. Vector dimensionality
// is fixed for the deployment's lifetime.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits text into retrievable segments.
type Chunker interface {
	Split(text string) []string
}

// VectorStore routes chunk writes, deletes, and queries to per-context
// collections. Deletes operate by document_id filter against the store itself,
// never against process-local caches.
type VectorStore interface {
	Upsert(ctx context.Context, contextName, documentID string, chunks []domain.Chunk) error
	DeleteDocument(ctx context.Context, documentID string, contexts []string) (int, error)
	Query(ctx context.Context, vector []float32, contextName string, topK int, minScore float64) ([]domain.SearchResult, error)
	FetchDocumentChunks(ctx context.Context, contextName, documentID string) ([]domain.Chunk, error)
	DropContext(ctx context.Context, contextName string) error
	ListCollections(ctx context.Context) ([]string, error)
}

// EventPublisher emits task lifecycle events for external observers.
// Publishing is fire-and-forget; failures must not affect task execution.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, task domain.Task) error
}
