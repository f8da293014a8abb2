package chunking

import (
	"strings"
	"testing"
)

func TestSplitEmptyInput(t *testing.T) {
	s := NewSplitter(100, 20)
	if got := s.Split(""); got != nil {
		t.Fatalf("Split(\"\") = %v, want nil", got)
	}
	if got := s.Split("   \n\t "); got != nil {
		t.Fatalf("Split(whitespace) = %v, want nil", got)
	}
}

func TestSplitSingleShortSentence(t *testing.T) {
	s := NewSplitter(100, 20)
	got := s.Split("One small sentence.")
	if len(got) != 1 || got[0] != "One small sentence." {
		t.Fatalf("unexpected chunks: %v", got)
	}
}

func TestSplitOversizedSentenceEmittedWhole(t *testing.T) {
	s := NewSplitter(50, 10)
	long := strings.Repeat("word ", 30) + "end."
	got := s.Split(long)
	if len(got) != 1 {
		t.Fatalf("expected single oversized chunk, got %d: %v", len(got), got)
	}
	if len([]rune(got[0])) <= s.ChunkSize {
		t.Fatalf("expected chunk longer than size %d, got %d", s.ChunkSize, len(got[0]))
	}
}

func TestSplitRespectsSentenceBoundaries(t *testing.T) {
	s := NewSplitter(40, 0)
	text := "First sentence here. Second sentence here. Third sentence here."
	got := s.Split(text)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(got), got)
	}
	for _, chunk := range got {
		if !strings.HasSuffix(chunk, "here.") {
			t.Fatalf("chunk does not end on sentence boundary: %q", chunk)
		}
	}
}

func TestSplitOverlapPrefix(t *testing.T) {
	s := NewSplitter(40, 10)
	text := "First sentence here. Second sentence here."
	got := s.Split(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(got), got)
	}
	prev := []rune(got[0])
	wantPrefix := string(prev[len(prev)-10:])
	if !strings.HasPrefix(got[1], wantPrefix) {
		t.Fatalf("second chunk %q missing overlap prefix %q", got[1], wantPrefix)
	}
}

func TestSplitDeterministic(t *testing.T) {
	s := NewSplitter(80, 16)
	text := strings.Repeat("Some sentences repeat. Others do not! Is that a problem? ", 12)
	first := s.Split(text)
	second := s.Split(text)
	if len(first) != len(second) {
		t.Fatalf("chunk count not deterministic: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitRoundTrip(t *testing.T) {
	s := NewSplitter(60, 12)
	text := "Alpha bravo charlie delta. Echo foxtrot golf hotel india! Juliett kilo lima mike. November oscar papa? Quebec romeo sierra tango uniform."
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %v", chunks)
	}

	// Dropping each chunk's overlap prefix must reconstruct the
	// sentence-normalized input exactly.
	rebuilt := chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		overlap := s.Overlap
		if overlap > len(prev) {
			overlap = len(prev)
		}
		rebuilt += string([]rune(chunks[i])[overlap:])
	}

	want := strings.Join(splitSentences(text), " ")
	if rebuilt != want {
		t.Fatalf("round trip mismatch:\n got: %q\nwant: %q", rebuilt, want)
	}
}

func TestNewSplitterNormalizesParameters(t *testing.T) {
	s := NewSplitter(0, -5)
	if s.ChunkSize <= 0 || s.Overlap < 0 {
		t.Fatalf("unexpected normalized splitter: %+v", s)
	}
	s = NewSplitter(100, 150)
	if s.Overlap >= s.ChunkSize {
		t.Fatalf("overlap %d not reduced below chunk size %d", s.Overlap, s.ChunkSize)
	}
}

func TestSplitSentencesHandlesTerminatorRuns(t *testing.T) {
	got := splitSentences("Wait... Really?! Yes.")
	want := []string{"Wait...", "Really?!", "Yes."}
	if len(got) != len(want) {
		t.Fatalf("splitSentences = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
