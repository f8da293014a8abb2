package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/contextkb/knowledge-server/internal/core/domain"
)

func (c *Coordinator) CreateContext(ctx context.Context, name, description string) (*domain.Context, error) {
	normalized, err := domain.NormalizeContextName(name)
	if err != nil {
		return nil, err
	}
	if domain.IsReservedContext(normalized) {
		return nil, domain.WrapError(domain.ErrReservedContext, "context.create",
			fmt.Errorf("context %q is built in and cannot be created", normalized))
	}

	now := time.Now().UTC()
	entry := &domain.Context{
		Name:        normalized,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.contexts.Create(ctx, entry); err != nil {
		return nil, err
	}
	c.logger.Info("context created", "context", normalized)
	return entry, nil
}

// GetContext returns the context together with live document and chunk
// counts from the registry.
func (c *Coordinator) GetContext(ctx context.Context, name string) (*domain.Context, error) {
	normalized, err := domain.NormalizeContextName(name)
	if err != nil {
		return nil, err
	}
	entry, err := c.contexts.Get(ctx, normalized)
	if err != nil {
		return nil, err
	}
	documents, chunks, err := c.documents.ContextStats(ctx, normalized)
	if err != nil {
		return nil, err
	}
	entry.DocumentCount = documents
	entry.ChunkCount = chunks
	return entry, nil
}

func (c *Coordinator) ListContexts(ctx context.Context) ([]domain.Context, error) {
	entries, err := c.contexts.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		documents, chunks, err := c.documents.ContextStats(ctx, entries[i].Name)
		if err != nil {
			return nil, err
		}
		entries[i].DocumentCount = documents
		entries[i].ChunkCount = chunks
	}
	return entries, nil
}

// DeleteContext drops the context's collection, detaches its documents
// and removes documents that would be left without any context.
func (c *Coordinator) DeleteContext(ctx context.Context, name string) error {
	normalized, err := domain.NormalizeContextName(name)
	if err != nil {
		return err
	}
	if domain.IsReservedContext(normalized) {
		return domain.WrapError(domain.ErrReservedContext, "context.delete",
			fmt.Errorf("context %q is built in and cannot be deleted", normalized))
	}
	if _, err := c.contexts.Get(ctx, normalized); err != nil {
		return err
	}

	docs, err := c.documents.List(ctx, normalized)
	if err != nil {
		return err
	}
	for i := range docs {
		doc := &docs[i]
		remaining := withoutContext(doc.Contexts, normalized)
		if len(remaining) == 0 {
			if err := c.documents.Delete(ctx, doc.ID); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
				return err
			}
			continue
		}
		if err := c.documents.SetContexts(ctx, doc.ID, remaining); err != nil {
			return err
		}
	}

	if err := c.store.DropContext(ctx, normalized); err != nil {
		return err
	}
	if err := c.contexts.Delete(ctx, normalized); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return err
	}
	c.logger.Info("context deleted", "context", normalized, "documents_detached", len(docs))
	return nil
}
