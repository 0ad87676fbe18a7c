// Package ocr implements the OCR Capability: an abstract text extractor
// for images and PDF pages that returns text plus a deterministic
// quality score and a failure flag. Every implementation shares the
// QualityScore formula so scores are comparable across providers.
package ocr

import (
	"context"
	"strings"
	"unicode"

	"github.com/essaycontest/submitproc/internal/model"
)

// Capability is the abstract OCR surface. Implementations must never
// raise across the pipeline boundary: on vendor error they return a
// result with OCRFailed=true instead.
type Capability interface {
	OCRImage(ctx context.Context, imageBytes []byte) (*model.OcrResult, error)
	OCRPDFPages(ctx context.Context, pdfBytes []byte, ranges []model.ChunkRange) ([]*model.OcrResult, error)
}

// QualityScore is the deterministic, implementation-neutral confidence
// formula every Capability uses. For text T:
//
//	alpha = letters / non_whitespace_chars
//	gamma = (non_whitespace - alphanumeric) / non_whitespace
//	score = clamp(0.8*alpha + 0.2*(1-gamma), 0, 1)
//
// Empty or whitespace-only T scores 0. Every OCR backend in this module
// MUST route its confidence through this function - implementations are
// not permitted to invent their own heuristic score.
func QualityScore(text string) float64 {
	var letters, nonWhitespace, alphanumeric int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		nonWhitespace++
		if unicode.IsLetter(r) {
			letters++
			alphanumeric++
		} else if unicode.IsDigit(r) {
			alphanumeric++
		}
	}
	if nonWhitespace == 0 {
		return 0
	}
	alpha := float64(letters) / float64(nonWhitespace)
	gamma := float64(nonWhitespace-alphanumeric) / float64(nonWhitespace)
	score := 0.8*alpha + 0.2*(1-gamma)
	return clamp(score, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FailedResult builds the canonical degraded OcrResult returned on any
// vendor error.
func FailedResult() *model.OcrResult {
	return &model.OcrResult{
		FullText:      "",
		ConfidenceAvg: 0,
		OCRFailed:     true,
	}
}

// resultFromText builds an OcrResult from a single block of recognized
// text, scoring each line independently and averaging for the overall
// confidence - the same per-line/overall split the record schema
// expects.
func resultFromText(text string) *model.OcrResult {
	lines := strings.Split(text, "\n")
	ocrLines := make([]model.OcrLine, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ocrLines = append(ocrLines, model.OcrLine{Text: line, Confidence: QualityScore(line)})
	}
	overall := QualityScore(text)
	return &model.OcrResult{
		FullText:      text,
		Lines:         ocrLines,
		ConfidenceAvg: overall,
		OCRFailed:     false,
	}
}
