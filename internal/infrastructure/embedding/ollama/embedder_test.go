package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/contextkb/knowledge-server/internal/core/domain"
)

func embedServer(t *testing.T, dimension int, batches *[][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if batches != nil {
			*batches = append(*batches, payload.Input)
		}
		vectors := make([][]float32, len(payload.Input))
		for i := range vectors {
			vec := make([]float32, dimension)
			vec[0] = float32(i + 1)
			vectors[i] = vec
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
}

func TestEmbedBatchesRequests(t *testing.T) {
	var batches [][]string
	srv := embedServer(t, 4, &batches)
	defer srv.Close()

	embedder := NewEmbedder(Options{BaseURL: srv.URL, Model: "nomic-embed-text", BatchSize: 2})
	texts := []string{"one", "two", "three", "four", "five"}
	vectors, err := embedder.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 5 {
		t.Fatalf("expected 5 vectors, got %d", len(vectors))
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d: %v", len(batches), batches)
	}
	if len(batches[0]) != 2 || len(batches[2]) != 1 {
		t.Fatalf("unexpected batch sizes: %v", batches)
	}
}

func TestEmbedRejectsDimensionDrift(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		dim := 4
		if calls > 1 {
			dim = 8
		}
		var payload struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		vectors := make([][]float32, len(payload.Input))
		for i := range vectors {
			vectors[i] = make([]float32, dim)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
	defer srv.Close()

	embedder := NewEmbedder(Options{BaseURL: srv.URL, Model: "m", BatchSize: 1})
	if _, err := embedder.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	_, err := embedder.Embed(context.Background(), []string{"b"})
	if !domain.IsKind(err, domain.ErrStore) {
		t.Fatalf("expected store error for dimension drift, got %v", err)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 2}}})
	}))
	defer srv.Close()

	embedder := NewEmbedder(Options{BaseURL: srv.URL, Model: "m", BatchSize: 8})
	_, err := embedder.Embed(context.Background(), []string{"a", "b"})
	if !domain.IsKind(err, domain.ErrStore) {
		t.Fatalf("expected store error for count mismatch, got %v", err)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	embedder := NewEmbedder(Options{BaseURL: srv.URL, Model: "m"})
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected 502 to map to temporary error, got %v", err)
	}
}

func TestEmbedQuerySingleVector(t *testing.T) {
	srv := embedServer(t, 4, nil)
	defer srv.Close()

	embedder := NewEmbedder(Options{BaseURL: srv.URL, Model: "m"})
	vec, err := embedder.EmbedQuery(context.Background(), "what changed last quarter?")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("vector dimension = %d, want 4", len(vec))
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	embedder := NewEmbedder(Options{BaseURL: "http://localhost:1", Model: "m"})
	vectors, err := embedder.Embed(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Fatalf("Embed(nil) = %v, %v; want nil, nil", vectors, err)
	}
}
