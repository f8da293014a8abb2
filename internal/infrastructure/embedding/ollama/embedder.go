// Package ollama produces chunk and query embeddings through an Ollama
// instance.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/contextkb/knowledge-server/internal/core/domain"
	"github.com/contextkb/knowledge-server/internal/infrastructure/resilience"
)

const defaultBatchSize = 32

type Embedder struct {
	baseURL    string
	model      string
	batchSize  int
	httpClient *http.Client
	limiter    *rate.Limiter
	exec       *resilience.Executor

	// learned from the first successful batch, all later vectors
	// must match
	dimMu     sync.Mutex
	dimension int
}

type Options struct {
	BaseURL   string
	Model     string
	BatchSize int
	// RequestsPerSecond throttles calls so bulk ingestion cannot
	// starve interactive queries. Zero disables throttling.
	RequestsPerSecond float64
	Executor          *resilience.Executor
}

func NewEmbedder(opts Options) *Embedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Embedder{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		batchSize:  opts.BatchSize,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    limiter,
		exec:       opts.Executor,
	}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, domain.WrapError(domain.ErrStore, "ollama.embed_query",
			fmt.Errorf("expected 1 vector, got %d", len(vectors)))
	}
	return vectors[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var vectors [][]float32
	call := func(ctx context.Context) error {
		batch, err := e.postEmbed(ctx, texts)
		if err != nil {
			return err
		}
		vectors = batch
		return nil
	}
	if e.exec != nil {
		if err := e.exec.Do(ctx, "embedder", call); err != nil {
			return nil, err
		}
	} else if err := call(ctx); err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, domain.WrapError(domain.ErrStore, "ollama.embed",
			fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(vectors)))
	}
	e.dimMu.Lock()
	defer e.dimMu.Unlock()
	for i, vec := range vectors {
		if e.dimension == 0 {
			e.dimension = len(vec)
		}
		if len(vec) == 0 || len(vec) != e.dimension {
			return nil, domain.WrapError(domain.ErrStore, "ollama.embed",
				fmt.Errorf("vector %d has dimension %d, expected %d", i, len(vec), e.dimension))
		}
	}
	return vectors, nil
}

func (e *Embedder) postEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{
		"model": e.model,
		"input": texts,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStore, "ollama.embed", fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, domain.WrapError(domain.ErrStore, "ollama.embed", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "ollama.embed", fmt.Errorf("ollama request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("ollama status %s", resp.Status)
		if msg := strings.TrimSpace(string(detail)); msg != "" {
			err = fmt.Errorf("ollama status %s: %s", resp.Status, msg)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, domain.WrapError(domain.ErrTemporary, "ollama.embed", err)
		}
		return nil, domain.WrapError(domain.ErrStore, "ollama.embed", err)
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.WrapError(domain.ErrStore, "ollama.embed", fmt.Errorf("decode response: %w", err))
	}
	return out.Embeddings, nil
}
