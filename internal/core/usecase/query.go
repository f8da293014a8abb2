package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/contextkb/knowledge-server/internal/core/domain"
)

// Search embeds the query and retrieves ranked chunks, scoped to one
// context or fanned out across all of them.
func (c *Coordinator) Search(ctx context.Context, query, contextName string, topK int, minRelevance float64) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "knowledge.search",
			fmt.Errorf("query cannot be empty"))
	}
	if topK <= 0 {
		topK = c.limits.DefaultTopK
	}
	if topK > c.limits.MaxTopK {
		topK = c.limits.MaxTopK
	}
	if minRelevance < 0 {
		minRelevance = 0
	}
	if minRelevance > 1 {
		minRelevance = 1
	}

	if contextName != "" {
		name, err := domain.NormalizeContextName(contextName)
		if err != nil {
			return nil, err
		}
		if _, err := c.contexts.Get(ctx, name); err != nil {
			return nil, err
		}
		contextName = name
	}

	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.store.Query(ctx, vector, contextName, topK, minRelevance)
}

// RemoveDocument deletes a document's chunks by store-side filter and
// then drops the registry row. Removal is idempotent: removing an
// unknown document reports zero chunks instead of failing.
func (c *Coordinator) RemoveDocument(ctx context.Context, documentID string) (int, error) {
	doc, err := c.documents.GetByID(ctx, documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			// the registry forgot it, sweep every collection anyway
			return c.store.DeleteDocument(ctx, documentID, nil)
		}
		return 0, err
	}

	removed, err := c.store.DeleteDocument(ctx, documentID, doc.Contexts)
	if err != nil {
		return removed, err
	}
	if err := c.documents.Delete(ctx, documentID); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return removed, err
	}
	c.logger.Info("document removed", "document_id", documentID, "chunks", removed)
	return removed, nil
}

func (c *Coordinator) ListDocuments(ctx context.Context, contextName string) ([]domain.Document, error) {
	if contextName != "" {
		name, err := domain.NormalizeContextName(contextName)
		if err != nil {
			return nil, err
		}
		if _, err := c.contexts.Get(ctx, name); err != nil {
			return nil, err
		}
		contextName = name
	}
	return c.documents.List(ctx, contextName)
}

func (c *Coordinator) TaskStatus(ctx context.Context, taskID string) (domain.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return domain.Task{}, domain.WrapError(domain.ErrValidation, "knowledge.task_status",
			fmt.Errorf("task id cannot be empty"))
	}
	return c.tasks.Status(taskID)
}

func (c *Coordinator) Statistics(ctx context.Context) (*domain.Statistics, error) {
	docs, err := c.documents.List(ctx, "")
	if err != nil {
		return nil, err
	}
	contexts, err := c.contexts.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &domain.Statistics{
		DocumentCount: len(docs),
		ContextCount:  len(contexts),
		ByStatus:      make(map[domain.ProcessingStatus]int),
		ByFormat:      make(map[domain.DocumentFormat]int),
	}
	for _, doc := range docs {
		stats.ChunkCount += doc.ChunkCount * maxInt(len(doc.Contexts), 1)
		stats.ByStatus[doc.Status]++
		stats.ByFormat[doc.Format]++
	}
	return stats, nil
}

// ClearContext removes every document from the named context and drops
// its collection. The context itself survives, empty.
func (c *Coordinator) ClearContext(ctx context.Context, contextName string, confirm bool) (int, error) {
	if !confirm {
		return 0, domain.WrapError(domain.ErrValidation, "knowledge.clear",
			fmt.Errorf("clearing context %q requires confirm=true", contextName))
	}
	name, err := domain.NormalizeContextName(contextName)
	if err != nil {
		return 0, err
	}
	if _, err := c.contexts.Get(ctx, name); err != nil {
		return 0, err
	}

	_, chunks, err := c.documents.ContextStats(ctx, name)
	if err != nil {
		return 0, err
	}

	docs, err := c.documents.List(ctx, name)
	if err != nil {
		return 0, err
	}
	for i := range docs {
		doc := &docs[i]
		remaining := withoutContext(doc.Contexts, name)
		if len(remaining) == 0 {
			if err := c.documents.Delete(ctx, doc.ID); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
				return 0, err
			}
			continue
		}
		if err := c.documents.SetContexts(ctx, doc.ID, remaining); err != nil {
			return 0, err
		}
	}

	if err := c.store.DropContext(ctx, name); err != nil {
		return 0, err
	}
	c.logger.Info("context cleared", "context", name, "chunks", chunks)
	return chunks, nil
}

// ClearAll wipes the entire knowledge base and recreates the default
// context.
func (c *Coordinator) ClearAll(ctx context.Context, confirm bool) (int, error) {
	if !confirm {
		return 0, domain.WrapError(domain.ErrValidation, "knowledge.clear",
			fmt.Errorf("clearing the whole knowledge base requires confirm=true"))
	}

	names, err := c.store.ListCollections(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, name := range names {
		_, chunks, err := c.documents.ContextStats(ctx, name)
		if err != nil {
			return 0, err
		}
		total += chunks
		if err := c.store.DropContext(ctx, name); err != nil {
			return 0, err
		}
	}

	if _, err := c.documents.DeleteAll(ctx); err != nil {
		return 0, err
	}

	contexts, err := c.contexts.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range contexts {
		if domain.IsReservedContext(entry.Name) {
			continue
		}
		if err := c.contexts.Delete(ctx, entry.Name); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
			return 0, err
		}
	}
	if err := c.contexts.EnsureDefault(ctx); err != nil {
		return 0, err
	}
	c.logger.Info("knowledge base cleared", "chunks", total)
	return total, nil
}

func withoutContext(contexts []string, name string) []string {
	out := make([]string, 0, len(contexts))
	for _, c := range contexts {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
