package ocr

import (
	"context"

	"github.com/essaycontest/submitproc/internal/model"
)

// StubOCR is a deterministic OCR Capability for tests. It performs no actual vision
// work: it treats the input bytes as already-decoded UTF-8 text, which
// keeps pipeline and property tests free of binary fixtures while still
// exercising the shared QualityScore formula.
type StubOCR struct {
	// Fail, when set, makes every call degrade to OCRFailed - used to
	// exercise the OCR_FAILED review-reason-code path deterministically.
	Fail bool
}

func NewStubOCR() *StubOCR {
	return &StubOCR{}
}

func (s *StubOCR) OCRImage(ctx context.Context, imageBytes []byte) (*model.OcrResult, error) {
	if s.Fail {
		return FailedResult(), nil
	}
	return resultFromText(string(imageBytes)), nil
}

func (s *StubOCR) OCRPDFPages(ctx context.Context, pdfBytes []byte, ranges []model.ChunkRange) ([]*model.OcrResult, error) {
	results := make([]*model.OcrResult, 0, len(ranges))
	for range ranges {
		res, _ := s.OCRImage(ctx, pdfBytes)
		results = append(results, res)
	}
	return results, nil
}
