// Package textlayer implements the Text-Layer Reader: for native-text
// PDFs it extracts the embedded text in reading order without invoking
// OCR.
package textlayer

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/essaycontest/submitproc/internal/model"
)

// PageTextLayerChars counts the extractable characters on every page of
// a PDF, used by the Document Analyzer's format decision. Returns one count per page in document order.
func PageTextLayerChars(pdfBytes []byte) ([]int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return nil, err
	}

	pageCount := reader.NumPage()
	counts := make([]int, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			counts = append(counts, 0)
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			counts = append(counts, 0)
			continue
		}
		counts = append(counts, len(strings.TrimSpace(text)))
	}
	return counts, nil
}

// Read extracts the concatenated page text in reading order and merges
// any AcroForm field values into the page-0 text so that downstream
// positional extraction sees both labels and values on one surface. The
// runner MUST prefer this over OCR whenever format=native_text.
func Read(pdfBytes []byte) (*model.OcrResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return nil, err
	}

	var builder strings.Builder
	pageCount := reader.NumPage()
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}

	formFields := acroFormFields(reader)
	fullText := builder.String()
	if len(formFields) > 0 {
		var formBuilder strings.Builder
		for _, kv := range formFields {
			formBuilder.WriteString(kv.key)
			formBuilder.WriteString(": ")
			formBuilder.WriteString(kv.value)
			formBuilder.WriteString("\n")
		}
		// Form field values are merged ahead of the page text so that
		// the positional extractor's "same-line value after a label"
		// scan sees them on page 0.
		fullText = formBuilder.String() + fullText
	}

	lines := make([]model.OcrLine, 0)
	for _, line := range strings.Split(fullText, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, model.OcrLine{Text: line, Confidence: 1.0})
	}

	return &model.OcrResult{
		FullText:      fullText,
		Lines:         lines,
		ConfidenceAvg: 1.0,
		OCRFailed:     false,
	}, nil
}

type fieldKV struct {
	key   string
	value string
}

// acroFormFields walks the PDF's AcroForm field tree, when present, and
// returns its keyed values. The ledongthuc/pdf reader exposes the raw
// document trailer/catalog via Trailer()/Resolve(); AcroForm parsing is
// best-effort and silently empty when the document carries no form
// dictionary - form-less PDFs are the common case.
func acroFormFields(reader *pdf.Reader) []fieldKV {
	defer func() { recover() }() // malformed/partial AcroForm dicts must not abort text extraction

	root := reader.Trailer().Key("Root")
	if root.IsNull() {
		return nil
	}
	acroForm := root.Key("AcroForm")
	if acroForm.IsNull() {
		return nil
	}
	fieldsArr := acroForm.Key("Fields")
	if fieldsArr.IsNull() {
		return nil
	}

	out := make([]fieldKV, 0, fieldsArr.Len())
	for i := 0; i < fieldsArr.Len(); i++ {
		field := fieldsArr.Index(i)
		name := field.Key("T").Text()
		value := field.Key("V").Text()
		if name == "" {
			continue
		}
		out = append(out, fieldKV{key: name, value: value})
	}
	return out
}
