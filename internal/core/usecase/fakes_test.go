package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contextkb/knowledge-server/internal/core/domain"
	"github.com/contextkb/knowledge-server/internal/core/ports"
)

type fakeDocuments struct {
	mu           sync.Mutex
	docs         map[string]*domain.Document
	setResultErr error
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{docs: make(map[string]*domain.Document)}
}

func (f *fakeDocuments) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.docs {
		if existing.SourceHash == doc.SourceHash {
			return domain.WrapError(domain.ErrDuplicate, "document.create",
				fmt.Errorf("hash %s", doc.SourceHash))
		}
	}
	clone := *doc
	f.docs[doc.ID] = &clone
	return nil
}

func (f *fakeDocuments) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "document.get", fmt.Errorf("document %s", id))
	}
	clone := *doc
	return &clone, nil
}

func (f *fakeDocuments) GetBySourceHash(_ context.Context, hash string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.SourceHash == hash {
			clone := *doc
			return &clone, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "document.get_by_hash", fmt.Errorf("hash %s", hash))
}

func (f *fakeDocuments) List(_ context.Context, contextName string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, doc := range f.docs {
		if contextName == "" || doc.InContext(contextName) {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (f *fakeDocuments) UpdateStatus(_ context.Context, id string, status domain.ProcessingStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "document.update_status", fmt.Errorf("document %s", id))
	}
	doc.Status = status
	doc.Error = errMessage
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeDocuments) SetResult(_ context.Context, id string, method domain.ProcessingMethod, chunkCount int, status domain.ProcessingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setResultErr != nil {
		return f.setResultErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "document.set_result", fmt.Errorf("document %s", id))
	}
	doc.Method = method
	doc.ChunkCount = chunkCount
	doc.Status = status
	doc.Error = ""
	return nil
}

func (f *fakeDocuments) SetContexts(_ context.Context, id string, contexts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "document.set_contexts", fmt.Errorf("document %s", id))
	}
	doc.Contexts = append([]string(nil), contexts...)
	return nil
}

func (f *fakeDocuments) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "document.delete", fmt.Errorf("document %s", id))
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeDocuments) DeleteAll(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.docs)
	f.docs = make(map[string]*domain.Document)
	return n, nil
}

func (f *fakeDocuments) ContextStats(_ context.Context, contextName string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	documents, chunks := 0, 0
	for _, doc := range f.docs {
		if doc.InContext(contextName) {
			documents++
			chunks += doc.ChunkCount
		}
	}
	return documents, chunks, nil
}

type fakeContexts struct {
	mu      sync.Mutex
	entries map[string]*domain.Context
}

func newFakeContexts() *fakeContexts {
	f := &fakeContexts{entries: make(map[string]*domain.Context)}
	_ = f.EnsureDefault(context.Background())
	return f
}

func (f *fakeContexts) Create(_ context.Context, c *domain.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[c.Name]; ok {
		return domain.WrapError(domain.ErrDuplicate, "context.create", fmt.Errorf("context %q", c.Name))
	}
	clone := *c
	f.entries[c.Name] = &clone
	return nil
}

func (f *fakeContexts) Get(_ context.Context, name string) (*domain.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[name]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "context.get", fmt.Errorf("context %q", name))
	}
	clone := *entry
	return &clone, nil
}

func (f *fakeContexts) List(_ context.Context) ([]domain.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Context
	for _, entry := range f.entries {
		out = append(out, *entry)
	}
	return out, nil
}

func (f *fakeContexts) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[name]; !ok {
		return domain.WrapError(domain.ErrNotFound, "context.delete", fmt.Errorf("context %q", name))
	}
	delete(f.entries, name)
	return nil
}

func (f *fakeContexts) EnsureDefault(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[domain.DefaultContext]; !ok {
		now := time.Now().UTC()
		f.entries[domain.DefaultContext] = &domain.Context{Name: domain.DefaultContext, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, path string, format domain.DocumentFormat) (string, map[string]string, error) {
	f.calls++
	if f.err != nil {
		return "", nil, f.err
	}
	if format.IsImage() {
		return "", map[string]string{"format": string(format)}, nil
	}
	return f.text, map[string]string{"format": string(format)}, nil
}

type fakeOCR struct {
	text       string
	confidence float64
	err        error
	calls      int
}

func (f *fakeOCR) Recognize(_ context.Context, path, language string) (string, float64, error) {
	f.calls++
	if f.err != nil {
		return "", 0, f.err
	}
	return f.text, f.confidence, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// fakeChunker splits on blank lines so tests control chunk counts.
type fakeChunker struct{}

func (fakeChunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	for _, piece := range strings.Split(text, "\n\n") {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

type fakeStore struct {
	mu       sync.Mutex
	points   map[string]map[string][]domain.Chunk // context → doc → chunks
	failOn   map[string]error                     // context → upsert error
	onUpsert func(contextName string)             // called after a successful write
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		points: make(map[string]map[string][]domain.Chunk),
		failOn: make(map[string]error),
	}
}

func (f *fakeStore) Upsert(_ context.Context, contextName, documentID string, chunks []domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[contextName]; err != nil {
		return err
	}
	if f.points[contextName] == nil {
		f.points[contextName] = make(map[string][]domain.Chunk)
	}
	f.points[contextName][documentID] = append([]domain.Chunk(nil), chunks...)
	if f.onUpsert != nil {
		f.onUpsert(contextName)
	}
	return nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, documentID string, contexts []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if contexts == nil {
		for name := range f.points {
			contexts = append(contexts, name)
		}
	}
	removed := 0
	for _, name := range contexts {
		if docs, ok := f.points[name]; ok {
			removed += len(docs[documentID])
			delete(docs, documentID)
		}
	}
	return removed, nil
}

func (f *fakeStore) Query(_ context.Context, vector []float32, contextName string, topK int, minScore float64) ([]domain.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SearchResult
	for name, docs := range f.points {
		if contextName != "" && name != contextName {
			continue
		}
		for docID, chunks := range docs {
			for _, chunk := range chunks {
				out = append(out, domain.SearchResult{
					ChunkID:    chunk.ID,
					DocumentID: docID,
					Filename:   chunk.Filename,
					Text:       chunk.Text,
					Score:      1 - float64(chunk.Index)*0.01,
					Context:    name,
					Index:      chunk.Index,
				})
			}
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeStore) FetchDocumentChunks(_ context.Context, contextName, documentID string) ([]domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, ok := f.points[contextName]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "store.fetch", fmt.Errorf("context %q", contextName))
	}
	return append([]domain.Chunk(nil), docs[documentID]...), nil
}

func (f *fakeStore) DropContext(_ context.Context, contextName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.points, contextName)
	return nil
}

func (f *fakeStore) ListCollections(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.points {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeStore) chunkCount(contextName, documentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, ok := f.points[contextName]
	if !ok {
		return 0
	}
	return len(docs[documentID])
}

func (f *fakeStore) totalChunks(documentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, docs := range f.points {
		total += len(docs[documentID])
	}
	return total
}

// inlineRunner executes submitted work synchronously so pipeline
// outcomes are observable right after AddDocument returns.
type inlineRunner struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
}

func newInlineRunner() *inlineRunner {
	return &inlineRunner{tasks: make(map[string]domain.Task)}
}

func (r *inlineRunner) Submit(documentID string, work ports.Work) (string, error) {
	task := domain.Task{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Status:     domain.TaskRunning,
		StartedAt:  time.Now().UTC(),
	}
	err := work(context.Background(), noopProgress{})
	now := time.Now().UTC()
	task.CompletedAt = &now
	if err != nil {
		task.Status = domain.TaskFailed
		task.Error = err.Error()
	} else {
		task.Status = domain.TaskCompleted
		task.Progress = 1
	}
	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()
	return task.ID, nil
}

func (r *inlineRunner) Status(taskID string) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.WrapError(domain.ErrNotFound, "task.status", fmt.Errorf("task %s", taskID))
	}
	return task, nil
}

func (r *inlineRunner) Cancel(taskID string) error { return nil }
