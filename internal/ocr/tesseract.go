/**
 * Tesseract OCR - default local OCR Capability implementation.
 *
 * Simple, free, offline OCR using Tesseract. The worker binary always
 * wires this backend; a request's ocr_provider_hint is not read.
 */

package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/essaycontest/submitproc/internal/model"
)

// TesseractOCR is the gosseract-backed Capability implementation.
type TesseractOCR struct {
	tesseractPath string
}

// NewTesseractOCR creates a new Tesseract OCR capability.
func NewTesseractOCR(tesseractPath string) *TesseractOCR {
	if tesseractPath == "" {
		tesseractPath = "/usr/bin/tesseract"
	}
	return &TesseractOCR{tesseractPath: tesseractPath}
}

// OCRImage runs Tesseract over a single image and scores it with the
// shared quality formula. Vendor errors degrade to OCRFailed, never an
// error return across the pipeline boundary.
func (t *TesseractOCR) OCRImage(ctx context.Context, imageBytes []byte) (*model.OcrResult, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetImageFromBytes(imageBytes); err != nil {
		return FailedResult(), nil
	}

	text, err := client.Text()
	if err != nil {
		return FailedResult(), nil
	}

	return resultFromText(text), nil
}

// OCRPDFPages rasterizes nothing itself - it expects the caller (the
// pipeline runner) to have already split the PDF into page images via
// the splitter/analyzer leaf utilities, so for a whole-PDF byte stream
// it treats each requested range as "the whole document" and runs a
// single pass per range, staying a leaf, deterministic capability.
func (t *TesseractOCR) OCRPDFPages(ctx context.Context, pdfBytes []byte, ranges []model.ChunkRange) ([]*model.OcrResult, error) {
	results := make([]*model.OcrResult, 0, len(ranges))
	for range ranges {
		res, err := t.OCRImage(ctx, pdfBytes)
		if err != nil {
			return nil, fmt.Errorf("tesseract pdf page ocr: %w", err)
		}
		results = append(results, res)
	}
	return results, nil
}
