// Package usecase coordinates ingestion, retrieval and lifecycle
// management across the registries, the vector store and the
// extraction collaborators.
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contextkb/knowledge-server/internal/core/domain"
	"github.com/contextkb/knowledge-server/internal/core/ports"
	"github.com/contextkb/knowledge-server/internal/core/quality"
)

type Limits struct {
	MaxFileSizeBytes int64
	DefaultTopK      int
	MaxTopK          int
	OCRLanguage      string
}

type Deps struct {
	Documents ports.DocumentRegistry
	Contexts  ports.ContextRegistry
	Extractor ports.TextExtractor
	OCR       ports.OCRClient
	Embedder  ports.Embedder
	Chunker   ports.Chunker
	Store     ports.VectorStore
	Tasks     ports.TaskOrchestrator
	Logger    *slog.Logger
}

type Coordinator struct {
	documents ports.DocumentRegistry
	contexts  ports.ContextRegistry
	extractor ports.TextExtractor
	ocr       ports.OCRClient
	embedder  ports.Embedder
	chunker   ports.Chunker
	store     ports.VectorStore
	tasks     ports.TaskOrchestrator
	logger    *slog.Logger
	limits    Limits
}

func NewCoordinator(deps Deps, limits Limits) *Coordinator {
	if limits.MaxFileSizeBytes <= 0 {
		limits.MaxFileSizeBytes = 100 << 20
	}
	if limits.DefaultTopK <= 0 {
		limits.DefaultTopK = 5
	}
	if limits.MaxTopK <= 0 {
		limits.MaxTopK = 50
	}
	if strings.TrimSpace(limits.OCRLanguage) == "" {
		limits.OCRLanguage = "eng"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		documents: deps.Documents,
		contexts:  deps.Contexts,
		extractor: deps.Extractor,
		ocr:       deps.OCR,
		embedder:  deps.Embedder,
		chunker:   deps.Chunker,
		store:     deps.Store,
		tasks:     deps.Tasks,
		logger:    logger,
		limits:    limits,
	}
}

// AddDocument validates the file, dedups by content hash and either
// schedules an ingestion task or, in sync mode, runs the pipeline
// inline.
func (c *Coordinator) AddDocument(ctx context.Context, req ports.AddRequest) (*ports.AddResult, error) {
	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrValidation, "knowledge.add",
			fmt.Errorf("file %s is not accessible: %w", req.Path, err))
	}
	if info.IsDir() {
		return nil, domain.WrapError(domain.ErrValidation, "knowledge.add",
			fmt.Errorf("%s is a directory", req.Path))
	}
	if info.Size() > c.limits.MaxFileSizeBytes {
		return nil, domain.WrapError(domain.ErrValidation, "knowledge.add",
			fmt.Errorf("file %s exceeds size limit (%d > %d bytes)", req.Path, info.Size(), c.limits.MaxFileSizeBytes))
	}

	format, err := domain.ParseFormat(req.Path)
	if err != nil {
		return nil, err
	}

	contextNames, err := c.resolveContexts(ctx, req.Contexts)
	if err != nil {
		return nil, err
	}

	hash, err := hashFile(req.Path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrValidation, "knowledge.add",
			fmt.Errorf("hash file %s: %w", req.Path, err))
	}

	if existing, err := c.documents.GetBySourceHash(ctx, hash); err == nil {
		return c.attachExisting(ctx, existing, contextNames)
	} else if !domain.IsKind(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:         uuid.NewString(),
		Filename:   filepath.Base(req.Path),
		FilePath:   req.Path,
		SourceHash: hash,
		Format:     format,
		SizeBytes:  info.Size(),
		Contexts:   contextNames,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.documents.Create(ctx, doc); err != nil {
		if domain.IsKind(err, domain.ErrDuplicate) {
			if existing, lookupErr := c.documents.GetBySourceHash(ctx, hash); lookupErr == nil {
				return c.attachExisting(ctx, existing, contextNames)
			}
		}
		return nil, err
	}

	if req.Sync {
		chunkCount, err := c.runPipeline(ctx, noopProgress{}, doc, contextNames, req.ForceOCR)
		if err != nil {
			return nil, err
		}
		return &ports.AddResult{DocumentID: doc.ID, ChunkCount: chunkCount}, nil
	}

	taskID, err := c.tasks.Submit(doc.ID, func(taskCtx context.Context, progress ports.ProgressReporter) error {
		_, err := c.runPipeline(taskCtx, progress, doc, contextNames, req.ForceOCR)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ports.AddResult{TaskID: taskID, DocumentID: doc.ID}, nil
}

// attachExisting reuses stored vectors to join an already-ingested
// document to newly requested contexts without re-extraction.
func (c *Coordinator) attachExisting(ctx context.Context, existing *domain.Document, requested []string) (*ports.AddResult, error) {
	var fresh []string
	for _, name := range requested {
		if !existing.InContext(name) {
			fresh = append(fresh, name)
		}
	}
	result := &ports.AddResult{
		DocumentID: existing.ID,
		ChunkCount: existing.ChunkCount,
		Duplicate:  true,
	}
	if len(fresh) == 0 {
		return result, nil
	}
	if len(existing.Contexts) == 0 {
		return nil, domain.WrapError(domain.ErrValidation, "knowledge.add",
			fmt.Errorf("document %s exists but belongs to no context, remove it before re-adding", existing.ID))
	}

	chunks, err := c.store.FetchDocumentChunks(ctx, existing.Contexts[0], existing.ID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrStore, "knowledge.add",
			fmt.Errorf("document %s has no stored chunks to copy", existing.ID))
	}

	for _, name := range fresh {
		scoped := make([]domain.Chunk, len(chunks))
		copy(scoped, chunks)
		for i := range scoped {
			scoped[i].Context = name
		}
		if err := c.store.Upsert(ctx, name, existing.ID, scoped); err != nil {
			return nil, err
		}
	}
	if err := c.documents.SetContexts(ctx, existing.ID, append(existing.Contexts, fresh...)); err != nil {
		return nil, err
	}
	c.logger.Info("document attached to contexts",
		"document_id", existing.ID, "contexts", fresh)
	return result, nil
}

// runPipeline executes extract → resolve strategy → chunk → embed →
// fan-out store write, reporting progress at each stage boundary.
func (c *Coordinator) runPipeline(ctx context.Context, progress ports.ProgressReporter, doc *domain.Document, contextNames []string, forceOCR bool) (int, error) {
	if err := c.documents.UpdateStatus(ctx, doc.ID, domain.StatusProcessing, ""); err != nil {
		return 0, err
	}

	text, _, err := c.extractor.Extract(ctx, doc.FilePath, doc.Format)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, c.markCancelled(doc, nil, err)
		}
		return 0, c.markFailed(doc, err)
	}
	progress.Step(0.25, "text extracted")
	if err := ctx.Err(); err != nil {
		return 0, c.markCancelled(doc, nil, err)
	}

	method, reason := quality.Resolve(doc.Format, text, forceOCR)
	if method == domain.MethodOCR || method == domain.MethodImageAnalysis {
		recognized, confidence, err := c.ocr.Recognize(ctx, doc.FilePath, c.limits.OCRLanguage)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return 0, c.markCancelled(doc, nil, err)
			}
			return 0, c.markFailed(doc, err)
		}
		text = recognized
		c.logger.Info("recognition finished",
			"document_id", doc.ID, "method", method, "reason", reason, "confidence", confidence)
		progress.Step(0.5, "recognition finished")
	} else {
		progress.Step(0.5, "recognition skipped")
	}
	if err := ctx.Err(); err != nil {
		return 0, c.markCancelled(doc, nil, err)
	}

	pieces := c.chunker.Split(text)
	progress.Step(0.75, "text chunked")
	if len(pieces) == 0 {
		// nothing retrievable came out, completed would break the
		// chunk-count invariant
		if err := c.documents.SetResult(ctx, doc.ID, method, 0, domain.StatusPartial); err != nil {
			return 0, err
		}
		progress.Step(1.0, "no retrievable text")
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, c.markCancelled(doc, nil, err)
	}

	vectors, err := c.embedder.Embed(ctx, pieces)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, c.markCancelled(doc, nil, err)
		}
		return 0, c.markFailed(doc, err)
	}
	if len(vectors) != len(pieces) {
		return 0, c.markFailed(doc, domain.WrapError(domain.ErrStore, "knowledge.ingest",
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(pieces))))
	}

	base := make([]domain.Chunk, len(pieces))
	for i := range pieces {
		base[i] = domain.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			Index:      i,
			Text:       pieces[i],
			Vector:     vectors[i],
		}
	}

	var written []string
	for _, name := range contextNames {
		if err := ctx.Err(); err != nil {
			return 0, c.markCancelled(doc, written, err)
		}
		scoped := make([]domain.Chunk, len(base))
		copy(scoped, base)
		for i := range scoped {
			scoped[i].ID = uuid.NewString()
			scoped[i].Context = name
		}
		if err := c.store.Upsert(ctx, name, doc.ID, scoped); err != nil {
			if errors.Is(err, context.Canceled) {
				return 0, c.markCancelled(doc, written, err)
			}
			c.rollback(doc.ID, written)
			return 0, c.markFailed(doc, err)
		}
		written = append(written, name)
	}

	if err := c.documents.SetResult(ctx, doc.ID, method, len(pieces), domain.StatusCompleted); err != nil {
		// the registry never acknowledged the chunks, so they must not
		// stay searchable
		c.rollback(doc.ID, written)
		return 0, c.markFailed(doc, err)
	}
	progress.Step(1.0, "chunks stored")
	c.logger.Info("document ingested",
		"document_id", doc.ID, "method", method, "chunks", len(pieces), "contexts", contextNames)
	return len(pieces), nil
}

// rollback erases the contexts written during a failed attempt so a
// FAILED add leaves zero chunks visible anywhere.
func (c *Coordinator) rollback(documentID string, written []string) {
	if len(written) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := c.store.DeleteDocument(ctx, documentID, written); err != nil {
		c.logger.Error("rollback failed, orphaned chunks possible",
			"document_id", documentID, "contexts", written, "error", err)
	}
}

func (c *Coordinator) markFailed(doc *domain.Document, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.documents.UpdateStatus(ctx, doc.ID, domain.StatusFailed, cause.Error()); err != nil {
		c.logger.Error("failed to record document failure", "document_id", doc.ID, "error", err)
	}
	return cause
}

// markCancelled keeps the contexts that were fully written before the
// cancel: the document ends up PARTIAL, naming them, instead of losing
// committed work.
func (c *Coordinator) markCancelled(doc *domain.Document, written []string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if len(written) == 0 {
		if err := c.documents.UpdateStatus(ctx, doc.ID, domain.StatusFailed, "ingestion cancelled"); err != nil {
			c.logger.Error("failed to record cancellation", "document_id", doc.ID, "error", err)
		}
		return cause
	}
	message := fmt.Sprintf("ingestion cancelled, contexts written: %s", strings.Join(written, ", "))
	if err := c.documents.UpdateStatus(ctx, doc.ID, domain.StatusPartial, message); err != nil {
		c.logger.Error("failed to record partial ingestion", "document_id", doc.ID, "error", err)
	}
	return cause
}

// resolveContexts normalizes, dedupes and auto-creates the requested
// contexts, defaulting to the built-in one.
func (c *Coordinator) resolveContexts(ctx context.Context, requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = []string{domain.DefaultContext}
	}

	seen := make(map[string]bool, len(requested))
	names := make([]string, 0, len(requested))
	for _, raw := range requested {
		name, err := domain.NormalizeContextName(raw)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)

		if _, err := c.contexts.Get(ctx, name); err == nil {
			continue
		} else if !domain.IsKind(err, domain.ErrNotFound) {
			return nil, err
		}
		if name == domain.DefaultContext {
			if err := c.contexts.EnsureDefault(ctx); err != nil {
				return nil, err
			}
			continue
		}
		now := time.Now().UTC()
		err = c.contexts.Create(ctx, &domain.Context{Name: name, CreatedAt: now, UpdatedAt: now})
		if err != nil && !domain.IsKind(err, domain.ErrDuplicate) {
			return nil, err
		}
	}
	return names, nil
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

type noopProgress struct{}

func (noopProgress) Step(float64, string) {}
