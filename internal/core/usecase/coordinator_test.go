package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/contextkb/knowledge-server/internal/core/domain"
	"github.com/contextkb/knowledge-server/internal/core/ports"
)

type world struct {
	documents *fakeDocuments
	contexts  *fakeContexts
	extractor *fakeExtractor
	ocr       *fakeOCR
	embedder  *fakeEmbedder
	store     *fakeStore
	runner    *inlineRunner
	coord     *Coordinator
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		documents: newFakeDocuments(),
		contexts:  newFakeContexts(),
		extractor: &fakeExtractor{},
		ocr:       &fakeOCR{},
		embedder:  &fakeEmbedder{},
		store:     newFakeStore(),
		runner:    newInlineRunner(),
	}
	w.coord = NewCoordinator(Deps{
		Documents: w.documents,
		Contexts:  w.contexts,
		Extractor: w.extractor,
		OCR:       w.ocr,
		Embedder:  w.embedder,
		Chunker:   fakeChunker{},
		Store:     w.store,
		Tasks:     w.runner,
	}, Limits{})
	return w
}

func tempDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp doc: %v", err)
	}
	return path
}

func mustAdd(t *testing.T, w *world, req ports.AddRequest) *ports.AddResult {
	t.Helper()
	result, err := w.coord.AddDocument(context.Background(), req)
	if err != nil {
		t.Fatalf("AddDocument(%s): %v", req.Path, err)
	}
	return result
}

func TestAddShortExtractionFallsBackToOCR(t *testing.T) {
	w := newWorld(t)
	w.extractor.text = "scanned page, almost nothing came out" // 37 chars
	w.ocr.text = strings.Repeat("Recognized sentence from the scanner output. ", 6)
	w.ocr.confidence = 0.31

	path := tempDoc(t, "scan.pdf", "pdf bytes")
	result := mustAdd(t, w, ports.AddRequest{Path: path, Sync: true})

	if w.ocr.calls != 1 {
		t.Fatalf("expected exactly one OCR call, got %d", w.ocr.calls)
	}
	doc, err := w.documents.GetByID(context.Background(), result.DocumentID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if doc.Method != domain.MethodOCR {
		t.Fatalf("method = %s, want ocr", doc.Method)
	}
	if doc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", doc.Status)
	}
	if result.ChunkCount == 0 || w.store.chunkCount(domain.DefaultContext, doc.ID) == 0 {
		t.Fatalf("expected stored chunks, got %d", result.ChunkCount)
	}
}

func TestAddCleanTextSkipsOCR(t *testing.T) {
	w := newWorld(t)
	w.extractor.text = strings.Repeat("A perfectly clean paragraph of extracted text. ", 40)

	path := tempDoc(t, "page.html", "<html>…</html>")
	result := mustAdd(t, w, ports.AddRequest{Path: path, Sync: true})

	if w.ocr.calls != 0 {
		t.Fatalf("OCR must not run for clean extractions, got %d calls", w.ocr.calls)
	}
	doc, _ := w.documents.GetByID(context.Background(), result.DocumentID)
	if doc.Method != domain.MethodTextExtraction {
		t.Fatalf("method = %s, want text_extraction", doc.Method)
	}
}

func TestAddImageUsesRecognition(t *testing.T) {
	w := newWorld(t)
	w.ocr.text = "Text recognized inside the screenshot."

	path := tempDoc(t, "shot.png", "png bytes")
	result := mustAdd(t, w, ports.AddRequest{Path: path, Sync: true})

	if w.ocr.calls != 1 {
		t.Fatalf("expected one recognition call for image, got %d", w.ocr.calls)
	}
	doc, _ := w.documents.GetByID(context.Background(), result.DocumentID)
	if doc.Method != domain.MethodImageAnalysis {
		t.Fatalf("method = %s, want image_analysis", doc.Method)
	}
}

func TestAddImageWithNoTextIsPartial(t *testing.T) {
	w := newWorld(t)
	w.ocr.text = ""

	path := tempDoc(t, "blank.jpg", "jpg bytes")
	result := mustAdd(t, w, ports.AddRequest{Path: path, Sync: true})

	doc, _ := w.documents.GetByID(context.Background(), result.DocumentID)
	if doc.Status != domain.StatusPartial {
		t.Fatalf("status = %s, want partial for zero-chunk document", doc.Status)
	}
	if doc.ChunkCount != 0 || result.ChunkCount != 0 {
		t.Fatalf("expected zero chunks, got %d", doc.ChunkCount)
	}
}

func TestAddUnsupportedFormat(t *testing.T) {
	w := newWorld(t)
	path := tempDoc(t, "notes.txt", "plain text")
	_, err := w.coord.AddDocument(context.Background(), ports.AddRequest{Path: path, Sync: true})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddMissingFile(t *testing.T) {
	w := newWorld(t)
	_, err := w.coord.AddDocument(context.Background(), ports.AddRequest{Path: "/no/such/file.pdf"})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddOversizedFile(t *testing.T) {
	w := newWorld(t)
	w.coord.limits.MaxFileSizeBytes = 4

	path := tempDoc(t, "big.pdf", "more than four bytes")
	_, err := w.coord.AddDocument(context.Background(), ports.AddRequest{Path: path})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddAsyncReportsTask(t *testing.T) {
	w := newWorld(t)
	w.extractor.text = strings.Repeat("Async ingestion body text paragraph. ", 30)

	path := tempDoc(t, "async.pdf", "pdf bytes")
	result := mustAdd(t, w, ports.AddRequest{Path: path})
	if result.TaskID == "" {
		t.Fatalf("async add must return a task id")
	}
	task, err := w.coord.TaskStatus(context.Background(), result.TaskID)
	if err != nil {
		t.Fatalf("TaskStatus: %v", err)
	}
	if task.Status != domain.TaskCompleted {
		t.Fatalf("task status = %s, want completed", task.Status)
	}
}

func TestFailedFanOutLeavesZeroChunks(t *testing.T) {
	w := newWorld(t)
	w.extractor.text = strings.Repeat("Document body that chunks fine. ", 20)
	w.store.failOn["beta"] = errors.New("collection write refused")

	path := tempDoc(t, "doc.pdf", "pdf bytes")
	_, err := w.coord.AddDocument(context.Background(), ports.AddRequest{
		Path: path, Contexts: []string{"alpha", "beta"}, Sync: true,
	})
	if err == nil {
		t.Fatalf("expected fan-out failure")
	}

	docs, _ := w.documents.List(context.Background(), "")
	if len(docs) != 1 {
		t.Fatalf("expected the registry row to remain, got %d", len(docs))
	}
	if docs[0].Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", docs[0].Status)
	}
	if total := w.store.totalChunks(docs[0].ID); total != 0 {
		t.Fatalf("failed add left %d chunks visible", total)
	}
}

func TestFailedResultWriteRollsBackChunks(t *testing.T) {
	w := newWorld(t)
	w.extractor.text = strings.Repeat("Document body that chunks fine. ", 20)
	w.documents.setResultErr = errors.New("registry write refused")

	path := tempDoc(t, "doc.pdf", "pdf bytes")
	_, err := w.coord.AddDocument(context.Background(), ports.AddRequest{
		Path: path, Contexts: []string{"alpha"}, Sync: true,
	})
	if err == nil {
		t.Fatalf("expected error when the result cannot be recorded")
	}

	w.documents.setResultErr = nil
	docs, _ := w.documents.List(context.Background(), "")
	if len(docs) != 1 {
		t.Fatalf("expected the registry row to remain, got %d", len(docs))
	}
	if docs[0].Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", docs[0].Status)
	}
	if total := w.store.totalChunks(docs[0].ID); total != 0 {
		t.Fatalf("failed add left %d chunks visible", total)
	}
}

func TestCancelMidFanOutKeepsWrittenContexts(t *testing.T) {
	w := newWorld(t)
	w.extractor.text = strings.Repeat("Document body that chunks fine. ", 20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.store.onUpsert = func(contextName string) {
		if contextName == "alpha" {
			cancel()
		}
	}

	path := tempDoc(t, "doc.pdf", "pdf bytes")
	_, err := w.coord.AddDocument(ctx, ports.AddRequest{
		Path: path, Contexts: []string{"alpha", "beta"}, Sync: true,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	docs, _ := w.documents.List(context.Background(), "")
	if len(docs) != 1 {
		t.Fatalf("expected the registry row to remain, got %d", len(docs))
	}
	doc := docs[0]
	if doc.Status != domain.StatusPartial {
		t.Fatalf("status = %s, want partial", doc.Status)
	}
	if !strings.Contains(doc.Error, "alpha") {
		t.Fatalf("written context not recorded: %q", doc.Error)
	}
	if w.store.chunkCount("alpha", doc.ID) == 0 {
		t.Fatalf("committed context lost its chunks")
	}
	if w.store.chunkCount("beta", doc.ID) != 0 {
		t.Fatalf("cancelled context received chunks")
	}
}

func TestDuplicateAddReusesVectors(t *testing.T) {
	w := newWorld(t)
	w.extractor.text = strings.Repeat("Shared document content paragraph. ", 20)

	path := tempDoc(t, "shared.pdf", "same bytes")
	first := mustAdd(t, w, ports.AddRequest{Path: path, Contexts: []string{"alpha"}, Sync: true})
	embedCalls := w.embedder.calls

	second := mustAdd(t, w, ports.AddRequest{Path: path, Contexts: []string{"beta"}, Sync: true})
	if !second.Duplicate {
		t.Fatalf("expected duplicate result")
	}
	if second.DocumentID != first.DocumentID {
		t.Fatalf("duplicate got new document id")
	}
	if w.embedder.calls != embedCalls {
		t.Fatalf("duplicate add re-embedded: %d extra calls", w.embedder.calls-embedCalls)
	}
	if w.store.chunkCount("beta", first.DocumentID) == 0 {
		t.Fatalf("chunks were not copied into the new context")
	}
	doc, _ := w.documents.GetByID(context.Background(), first.DocumentID)
	if !doc.InContext("alpha") || !doc.InContext("beta") {
		t.Fatalf("contexts not merged: %v", doc.Contexts)
	}
}

func TestDuplicateAddSameContextIsNoOp(t *testing.T) {
	w := newWorld(t)
	w.extractor.text = strings.Repeat("Stable content. ", 20)

	path := tempDoc(t, "same.pdf", "bytes")
	first := mustAdd(t, w, ports.AddRequest{Path: path, Sync: true})
	before := w.store.chunkCount(domain.DefaultContext, first.DocumentID)

	second := mustAdd(t, w, ports.AddRequest{Path: path, Sync: true})
	if !second.Duplicate {
		t.Fatalf("expected duplicate result")
	}
	if got := w.store.chunkCount(domain.DefaultContext, first.DocumentID); got != before {
		t.Fatalf("chunk count changed on duplicate add: %d → %d", before, got)
	}
}

func TestContextAutoCreatedOnAdd(t *testing.T) {
	w := newWorld(t)
	w.extractor.text = strings.Repeat("Content. ", 30)

	path := tempDoc(t, "doc.pdf", "bytes")
	mustAdd(t, w, ports.AddRequest{Path: path, Contexts: []string{"Projects"}, Sync: true})

	// name is case-normalized before creation
	if _, err := w.contexts.Get(context.Background(), "projects"); err != nil {
		t.Fatalf("context was not auto-created: %v", err)
	}
}

func TestAddRejectsMalformedContextName(t *testing.T) {
	w := newWorld(t)
	path := tempDoc(t, "doc.pdf", "bytes")
	_, err := w.coord.AddDocument(context.Background(), ports.AddRequest{
		Path: path, Contexts: []string{"bad name!"},
	})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
