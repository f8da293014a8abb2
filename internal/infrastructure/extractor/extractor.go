// Package extractor pulls plain text out of the supported document
// formats. Image formats yield no text layer and are routed to image
// analysis by the caller.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/contextkb/knowledge-server/internal/core/domain"
)

type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

func (s *Service) Extract(ctx context.Context, path string, format domain.DocumentFormat) (string, map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	metadata := map[string]string{"format": string(format)}

	switch format {
	case domain.FormatPDF:
		text, pages, err := extractPDF(path)
		if err != nil {
			return "", nil, domain.WrapError(domain.ErrExtraction, "extract.pdf", err)
		}
		metadata["pages"] = strconv.Itoa(pages)
		return text, metadata, nil
	case domain.FormatDOCX:
		text, err := extractWordDocument(path)
		if err != nil {
			return "", nil, domain.WrapError(domain.ErrExtraction, "extract.docx", err)
		}
		return text, metadata, nil
	case domain.FormatPPTX:
		text, slides, err := extractPresentation(path)
		if err != nil {
			return "", nil, domain.WrapError(domain.ErrExtraction, "extract.pptx", err)
		}
		metadata["slides"] = strconv.Itoa(slides)
		return text, metadata, nil
	case domain.FormatXLSX:
		text, sheets, err := extractSpreadsheet(path)
		if err != nil {
			return "", nil, domain.WrapError(domain.ErrExtraction, "extract.xlsx", err)
		}
		metadata["sheets"] = strconv.Itoa(sheets)
		return text, metadata, nil
	case domain.FormatHTML:
		text, title, err := extractHTML(path)
		if err != nil {
			return "", nil, domain.WrapError(domain.ErrExtraction, "extract.html", err)
		}
		if title != "" {
			metadata["title"] = title
		}
		return text, metadata, nil
	case domain.FormatJPG, domain.FormatPNG, domain.FormatSVG:
		// no text layer, recognition happens downstream
		return "", metadata, nil
	default:
		return "", nil, domain.WrapError(domain.ErrValidation, "extract",
			fmt.Errorf("unsupported format %q", format))
	}
}
