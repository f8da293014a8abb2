package domain

// SearchResult is one retrieved chunk, tagged with the context it came from.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Context    string  `json:"context"`
	Index      int     `json:"chunk_index"`
}

// Statistics summarizes the knowledge base for the status tool.
type Statistics struct {
	DocumentCount int                      `json:"document_count"`
	ChunkCount    int                      `json:"chunk_count"`
	ContextCount  int                      `json:"context_count"`
	ByStatus      map[ProcessingStatus]int `json:"by_status"`
	ByFormat      map[DocumentFormat]int   `json:"by_format"`
}
