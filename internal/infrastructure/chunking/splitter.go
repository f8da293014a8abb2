// Package chunking splits extracted text into overlapping, bounded-size
// segments along sentence boundaries.
package chunking

import (
	"strings"
	"unicode"
)

type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split greedily accumulates whole sentences into chunks of at most ChunkSize
// runes. Each new chunk re-includes the trailing Overlap runes of the previous
// one to preserve cross-boundary context. A single sentence longer than
// ChunkSize is emitted as its own oversized chunk rather than truncated.
// Empty input yields no chunks.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)
	var chunks []string
	var current []rune

	for _, sentence := range sentences {
		sent := []rune(sentence)
		if len(current) > 0 && len(current)+1+len(sent) > s.ChunkSize {
			chunks = append(chunks, string(current))
			current = tailRunes(current, s.Overlap)
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, sent...)
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}

// splitSentences breaks text at '.', '!' or '?' followed by whitespace.
// Whitespace runs between sentences collapse to single separators so the
// output is deterministic for any input spacing.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		// consume trailing terminators ("..." or "?!")
		for i+1 < len(runes) && isSentenceEnd(runes[i+1]) {
			i++
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		sentence := strings.TrimSpace(string(runes[start : i+1]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			i++
		}
		start = i + 1
	}
	if start < len(runes) {
		sentence := strings.TrimSpace(string(runes[start:]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func tailRunes(runes []rune, n int) []rune {
	if n <= 0 || len(runes) == 0 {
		return nil
	}
	if n >= len(runes) {
		n = len(runes)
	}
	tail := make([]rune, n)
	copy(tail, runes[len(runes)-n:])
	return tail
}
