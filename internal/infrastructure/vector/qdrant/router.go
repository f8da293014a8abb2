// Package qdrant routes chunk writes, deletes and similarity queries to
// one Qdrant collection per knowledge context over the HTTP API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/contextkb/knowledge-server/internal/core/domain"
	"github.com/contextkb/knowledge-server/internal/infrastructure/resilience"
)

const (
	collectionPrefix = "context_"
	scrollPageSize   = 512
)

// CollectionName maps a normalized context name to its Qdrant collection.
func CollectionName(contextName string) string {
	return collectionPrefix + contextName
}

func contextFromCollection(collection string) (string, bool) {
	if !strings.HasPrefix(collection, collectionPrefix) {
		return "", false
	}
	return strings.TrimPrefix(collection, collectionPrefix), true
}

// Router implements ports.VectorStore. Every context gets an isolated
// collection so per-context removal is a collection-scoped filter
// delete against the store, never a process-local cache.
type Router struct {
	baseURL    string
	httpClient *http.Client
	vectorSize int
	exec       *resilience.Executor

	ensureMu sync.Mutex
	ensured  map[string]bool
}

func NewRouter(baseURL string, vectorSize int, exec *resilience.Executor) *Router {
	return &Router{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		vectorSize: vectorSize,
		exec:       exec,
		ensured:    make(map[string]bool),
	}
}

func (r *Router) Upsert(ctx context.Context, contextName, documentID string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		if len(chunks[i].Vector) == 0 {
			return domain.WrapError(domain.ErrStore, "qdrant.upsert",
				fmt.Errorf("chunk %d of document %s has no vector", i, documentID))
		}
	}

	collection := CollectionName(contextName)
	if err := r.ensureCollection(ctx, collection, len(chunks[0].Vector)); err != nil {
		return err
	}

	// drop any points an earlier attempt left behind so re-adding a
	// document never duplicates chunks
	if err := r.deletePoints(ctx, collection, documentID); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(chunks))
	for _, chunk := range chunks {
		points = append(points, point{
			ID:     chunk.ID,
			Vector: chunk.Vector,
			Payload: map[string]any{
				"doc_id":      documentID,
				"filename":    chunk.Filename,
				"chunk_index": chunk.Index,
				"text":        chunk.Text,
				"context":     contextName,
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", collection)
	return r.call(ctx, "qdrant.upsert", func(ctx context.Context) error {
		return r.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "qdrant.upsert")
	})
}

// DeleteDocument removes the document's points from the given contexts
// and reports how many points existed beforehand. A nil context list
// means every context collection present in the store, which makes
// removal work even when the registry has lost track of memberships.
func (r *Router) DeleteDocument(ctx context.Context, documentID string, contexts []string) (int, error) {
	if len(contexts) == 0 {
		names, err := r.ListCollections(ctx)
		if err != nil {
			return 0, err
		}
		contexts = names
	}

	removed := 0
	for _, contextName := range contexts {
		collection := CollectionName(contextName)
		count, err := r.countPoints(ctx, collection, documentID)
		if err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				continue
			}
			return removed, err
		}
		if count == 0 {
			continue
		}
		if err := r.deletePoints(ctx, collection, documentID); err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed += count
	}
	return removed, nil
}

// Query searches a single context, or fans out across every context
// collection when contextName is empty and merges results by score.
func (r *Router) Query(ctx context.Context, vector []float32, contextName string, topK int, minScore float64) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	contexts := []string{contextName}
	if contextName == "" {
		names, err := r.ListCollections(ctx)
		if err != nil {
			return nil, err
		}
		contexts = names
	}

	var merged []domain.SearchResult
	for _, name := range contexts {
		results, err := r.searchCollection(ctx, name, vector, topK, minScore)
		if err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		merged = append(merged, results...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// FetchDocumentChunks reads back a document's chunks with vectors so an
// existing document can join another context without re-embedding.
func (r *Router) FetchDocumentChunks(ctx context.Context, contextName, documentID string) ([]domain.Chunk, error) {
	collection := CollectionName(contextName)

	var chunks []domain.Chunk
	var offset any
	for {
		payload := map[string]any{
			"filter":       documentFilter(documentID),
			"limit":        scrollPageSize,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			payload["offset"] = offset
		}

		var out struct {
			Result struct {
				Points []struct {
					ID      string         `json:"id"`
					Vector  []float32      `json:"vector"`
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		path := fmt.Sprintf("/collections/%s/points/scroll", collection)
		err := r.call(ctx, "qdrant.scroll", func(ctx context.Context) error {
			return r.do(ctx, http.MethodPost, path, payload, &out, "qdrant.scroll")
		})
		if err != nil {
			return nil, err
		}

		for _, p := range out.Result.Points {
			chunks = append(chunks, domain.Chunk{
				ID:         p.ID,
				DocumentID: documentID,
				Filename:   payloadString(p.Payload, "filename"),
				Index:      payloadInt(p.Payload, "chunk_index"),
				Text:       payloadString(p.Payload, "text"),
				Vector:     p.Vector,
				Context:    contextName,
			})
		}
		if out.Result.NextPageOffset == nil || len(out.Result.Points) == 0 {
			break
		}
		offset = out.Result.NextPageOffset
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// DropContext deletes the context's collection. Dropping a context that
// never stored anything is not an error.
func (r *Router) DropContext(ctx context.Context, contextName string) error {
	collection := CollectionName(contextName)
	err := r.call(ctx, "qdrant.drop", func(ctx context.Context) error {
		return r.do(ctx, http.MethodDelete, "/collections/"+collection, nil, nil, "qdrant.drop")
	})
	if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return err
	}
	r.ensureMu.Lock()
	delete(r.ensured, collection)
	r.ensureMu.Unlock()
	return nil
}

// ListCollections returns the context names that currently have a
// collection in the store. Foreign collections are ignored.
func (r *Router) ListCollections(ctx context.Context) ([]string, error) {
	var out struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	err := r.call(ctx, "qdrant.collections", func(ctx context.Context) error {
		return r.do(ctx, http.MethodGet, "/collections", nil, &out, "qdrant.collections")
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(out.Result.Collections))
	for _, c := range out.Result.Collections {
		if name, ok := contextFromCollection(c.Name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *Router) searchCollection(ctx context.Context, contextName string, vector []float32, topK int, minScore float64) ([]domain.SearchResult, error) {
	payload := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if minScore > 0 {
		payload["score_threshold"] = minScore
	}

	var out struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", CollectionName(contextName))
	err := r.call(ctx, "qdrant.search", func(ctx context.Context) error {
		return r.do(ctx, http.MethodPost, path, payload, &out, "qdrant.search")
	})
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(out.Result))
	for _, hit := range out.Result {
		if hit.Score < minScore {
			continue
		}
		results = append(results, domain.SearchResult{
			ChunkID:    hit.ID,
			DocumentID: payloadString(hit.Payload, "doc_id"),
			Filename:   payloadString(hit.Payload, "filename"),
			Text:       payloadString(hit.Payload, "text"),
			Score:      hit.Score,
			Context:    contextName,
			Index:      payloadInt(hit.Payload, "chunk_index"),
		})
	}
	return results, nil
}

func (r *Router) countPoints(ctx context.Context, collection, documentID string) (int, error) {
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	payload := map[string]any{
		"filter": documentFilter(documentID),
		"exact":  true,
	}
	path := fmt.Sprintf("/collections/%s/points/count", collection)
	err := r.call(ctx, "qdrant.count", func(ctx context.Context) error {
		return r.do(ctx, http.MethodPost, path, payload, &out, "qdrant.count")
	})
	if err != nil {
		return 0, err
	}
	return out.Result.Count, nil
}

func (r *Router) deletePoints(ctx context.Context, collection, documentID string) error {
	payload := map[string]any{
		"filter": documentFilter(documentID),
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", collection)
	return r.call(ctx, "qdrant.delete", func(ctx context.Context) error {
		return r.do(ctx, http.MethodPost, path, payload, nil, "qdrant.delete")
	})
}

func (r *Router) ensureCollection(ctx context.Context, collection string, vectorSize int) error {
	r.ensureMu.Lock()
	if r.ensured[collection] {
		r.ensureMu.Unlock()
		return nil
	}
	r.ensureMu.Unlock()

	if r.vectorSize > 0 && vectorSize != r.vectorSize {
		return domain.WrapError(domain.ErrStore, "qdrant.ensure",
			fmt.Errorf("vector size %d does not match configured size %d", vectorSize, r.vectorSize))
	}

	payload := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := r.call(ctx, "qdrant.ensure", func(ctx context.Context) error {
		return r.do(ctx, http.MethodPut, "/collections/"+collection, payload, nil, "qdrant.ensure")
	})
	// 409 means another writer created it first
	if err != nil && !domain.IsKind(err, domain.ErrDuplicate) {
		return err
	}

	r.ensureMu.Lock()
	r.ensured[collection] = true
	r.ensureMu.Unlock()
	return nil
}

func (r *Router) call(ctx context.Context, dependency string, fn func(context.Context) error) error {
	if r.exec == nil {
		return fn(ctx)
	}
	return r.exec.Do(ctx, dependency, fn)
}

func (r *Router) do(ctx context.Context, method, path string, payload, out any, operation string) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return domain.WrapError(domain.ErrStore, operation, fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return domain.WrapError(domain.ErrStore, operation, fmt.Errorf("create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, operation, fmt.Errorf("qdrant request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(operation, resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.WrapError(domain.ErrStore, operation, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func statusError(operation string, resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(detail))
	err := fmt.Errorf("qdrant status %s", resp.Status)
	if msg != "" {
		err = fmt.Errorf("qdrant status %s: %s", resp.Status, msg)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.WrapError(domain.ErrNotFound, operation, err)
	case resp.StatusCode == http.StatusConflict:
		return domain.WrapError(domain.ErrDuplicate, operation, err)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.WrapError(domain.ErrTemporary, operation, err)
	default:
		return domain.WrapError(domain.ErrStore, operation, err)
	}
}

func documentFilter(documentID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{
				"key":   "doc_id",
				"match": map[string]any{"value": documentID},
			},
		},
	}
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
