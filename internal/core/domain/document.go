package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type DocumentFormat string

const (
	FormatPDF  DocumentFormat = "pdf"
	FormatDOCX DocumentFormat = "docx"
	FormatPPTX DocumentFormat = "pptx"
	FormatXLSX DocumentFormat = "xlsx"
	FormatHTML DocumentFormat = "html"
	FormatJPG  DocumentFormat = "jpg"
	FormatPNG  DocumentFormat = "png"
	FormatSVG  DocumentFormat = "svg"
)

var formatsByExtension = map[string]DocumentFormat{
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".pptx": FormatPPTX,
	".xlsx": FormatXLSX,
	".html": FormatHTML,
	".htm":  FormatHTML,
	".jpg":  FormatJPG,
	".jpeg": FormatJPG,
	".png":  FormatPNG,
	".svg":  FormatSVG,
}

// ParseFormat maps a file path to a supported document format.
func ParseFormat(path string) (DocumentFormat, error) {
	ext := strings.ToLower(filepath.Ext(path))
	format, ok := formatsByExtension[ext]
	if !ok {
		return "", WrapError(ErrValidation, "parse format",
			fmt.Errorf("unsupported file format %q for %s", ext, path))
	}
	return format, nil
}

// IsImage reports whether the format carries no extractable text layer.
func (f DocumentFormat) IsImage() bool {
	return f == FormatJPG || f == FormatPNG || f == FormatSVG
}

type ProcessingMethod string

const (
	MethodTextExtraction ProcessingMethod = "text_extraction"
	MethodOCR            ProcessingMethod = "ocr"
	MethodImageAnalysis  ProcessingMethod = "image_analysis"
	MethodHybrid         ProcessingMethod = "hybrid"
)

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusPartial    ProcessingStatus = "partial"
)

type Document struct {
	ID         string           `json:"id"`
	Filename   string           `json:"filename"`
	FilePath   string           `json:"file_path"`
	SourceHash string           `json:"source_hash"`
	Format     DocumentFormat   `json:"format"`
	SizeBytes  int64            `json:"size_bytes"`
	Contexts   []string         `json:"contexts"`
	Method     ProcessingMethod `json:"processing_method,omitempty"`
	Status     ProcessingStatus `json:"status"`
	ChunkCount int              `json:"chunk_count"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// InContext reports whether the document is registered in the named context.
func (d *Document) InContext(name string) bool {
	for _, c := range d.Contexts {
		if c == name {
			return true
		}
	}
	return false
}

// Chunk is the unit of embedding and retrieval. A document's chunks are
// duplicated per context, not shared by reference.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector,omitempty"`
	Context    string    `json:"context"`
}
