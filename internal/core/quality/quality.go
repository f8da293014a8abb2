// Package quality decides, per document, whether extracted text is usable or
// OCR must be invoked. Both functions are pure so the thresholds can be
// table-tested without any I/O.
package quality

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/contextkb/knowledge-server/internal/core/domain"
)

const (
	// MinUsableLength is the minimum trimmed length below which extraction
	// output is assumed to come from a scanned document.
	MinUsableLength = 100

	// MinAlnumRatio is the minimum share of alphanumeric characters among
	// non-whitespace characters; anything lower reads as garbled extraction.
	MinAlnumRatio = 0.70
)

type Assessment struct {
	Usable bool
	Reason string
}

// Assess applies the length and alphanumeric-ratio heuristics to extracted
// text. Empty input is never usable.
func Assess(text string) Assessment {
	trimmed := strings.TrimSpace(text)
	length := len([]rune(trimmed))
	if length < MinUsableLength {
		return Assessment{
			Usable: false,
			Reason: fmt.Sprintf("text too short (%d chars, need %d)", length, MinUsableLength),
		}
	}

	var alnum, total int
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	ratio := float64(alnum) / float64(total)
	if ratio < MinAlnumRatio {
		return Assessment{
			Usable: false,
			Reason: fmt.Sprintf("low alphanumeric ratio (%.2f, need %.2f)", ratio, MinAlnumRatio),
		}
	}

	return Assessment{
		Usable: true,
		Reason: fmt.Sprintf("text quality sufficient (%d chars, ratio %.2f)", length, ratio),
	}
}

// Resolve picks the processing method for a document. Image formats always
// resolve to image analysis; force_ocr bypasses the quality check entirely.
// The returned reason is recorded in task metadata but never branches control
// flow past this function.
func Resolve(format domain.DocumentFormat, extractedText string, forceOCR bool) (domain.ProcessingMethod, string) {
	if format.IsImage() {
		return domain.MethodImageAnalysis, fmt.Sprintf("format %s has no text layer", format)
	}
	if forceOCR {
		return domain.MethodOCR, "ocr forced by request"
	}
	assessment := Assess(extractedText)
	if assessment.Usable {
		return domain.MethodTextExtraction, assessment.Reason
	}
	return domain.MethodOCR, assessment.Reason
}
