// Package analyzer implements the Document Analyzer: it classifies a
// PDF/image's format, structure, form layout and chunk ranges. Every
// decision in Analyze is deterministic and code-only - no OCR or LLM
// call is made here.
package analyzer

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/essaycontest/submitproc/internal/model"
	"github.com/essaycontest/submitproc/internal/splitter"
	"github.com/essaycontest/submitproc/internal/textlayer"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true, ".bmp": true, ".gif": true,
}

// Thresholds holds the configurable header-score thresholds.
type Thresholds struct {
	NativeText float64
	Other      float64
}

// Analyzer is the Document Analyzer. It is stateless aside from its
// configured thresholds and an optional page Rasterizer for dark-band
// detection.
type Analyzer struct {
	thresholds Thresholds
	rasterizer Rasterizer
}

func New(thresholds Thresholds, rasterizer Rasterizer) *Analyzer {
	if rasterizer == nil {
		rasterizer = NullRasterizer{}
	}
	return &Analyzer{thresholds: thresholds, rasterizer: rasterizer}
}

// Analyze runs the full Document Analyzer algorithm over
// raw file bytes and a filename.
func (a *Analyzer) Analyze(fileBytes []byte, filename string) (*model.DocumentAnalysis, []string) {
	var errs []string
	ext := strings.ToLower(filepath.Ext(filename))

	// Step 1: image files are always single-page, image_only.
	if imageExtensions[ext] {
		return &model.DocumentAnalysis{
			Format:      model.FormatImageOnly,
			Structure:   model.StructureSingle,
			FormLayout:  "unknown",
			PageCount:   1,
			ChunkRanges: []model.ChunkRange{{Start: 0, End: 1}},
			DocClass:    model.DocClassSingleScanned,
		}, errs
	}

	// Step 2: PDF format decision from per-page text-layer character counts.
	charsPerPage, err := textlayer.PageTextLayerChars(fileBytes)
	if err != nil || len(charsPerPage) == 0 {
		errs = append(errs, "analysis_error: failed to read PDF page structure, treating as image_only")
		charsPerPage = []int{0}
	}
	pageCount := len(charsPerPage)

	format := formatFromPageChars(charsPerPage)

	headerThreshold := a.thresholds.Other
	if format == model.FormatNativeText {
		headerThreshold = a.thresholds.NativeText
	}

	// Step 3/4/5/6: structure detection via header-label scoring plus
	// best-effort dark-band evidence. Header text for each page is
	// approximated from the page's own text layer (or, when the format
	// is not native_text, left empty - OCR has not run yet at this
	// stage, keeping this decision code-only for now).
	starts := make([]bool, pageCount)
	darkBandCount := 0
	for i := 0; i < pageCount; i++ {
		var headerScoreStart bool
		if format == model.FormatNativeText {
			// Native-text pages carry their own header label text; score
			// it directly without needing a rendered page (step 3).
			headerScoreStart = HeaderScore(topStripApprox(fileBytes, i)) >= headerThreshold
		}

		img, rerr := a.rasterizer.RasterizePage(fileBytes, i)
		if rerr != nil {
			errs = append(errs, "analysis_error: "+rerr.Error())
			starts[i] = headerScoreStart
			continue
		}

		bands := DarkBandRows(img, 2)
		darkBandCount += len(bands)
		bounds := img.Bounds()
		topZone := bounds.Dy() * 15 / 100
		hasTopBand := false
		for _, b := range bands {
			if b.Start < topZone {
				hasTopBand = true
				break
			}
		}

		switch {
		case format == model.FormatNativeText:
			// Step 5: over-chunking refinement - demote pages whose
			// header score alone suggested a start but which carry no
			// corroborating top dark band, only when every page looked
			// like a start (avoids over-chunking a noisy scan).
			starts[i] = headerScoreStart
		default:
			// Image-only/hybrid pages have no embedded header text at
			// this stage (OCR has not run yet); the dark-band signal is
			// the sole structure-start evidence available code-only.
			starts[i] = hasTopBand
		}
	}
	if format == model.FormatNativeText && countTrue(starts) == pageCount && pageCount > 1 {
		for i := range starts {
			if img, rerr := a.rasterizer.RasterizePage(fileBytes, i); rerr == nil {
				bands := DarkBandRows(img, 2)
				bounds := img.Bounds()
				topZone := bounds.Dy() * 15 / 100
				hasTopBand := false
				for _, b := range bands {
					if b.Start < topZone {
						hasTopBand = true
						break
					}
				}
				if !hasTopBand {
					starts[i] = false
				}
			}
		}
	}

	startCount := countTrue(starts)

	// Step 6: periodic heuristic for long documents with exactly one start.
	if pageCount >= 6 && startCount == 1 {
		for i := 0; i < pageCount; i += 2 {
			headerText := topStripApprox(fileBytes, i)
			if HeaderScore(headerText) >= headerThreshold {
				starts[i] = true
			}
		}
		startCount = countTrue(starts)
	}

	structure := model.StructureSingle
	if startCount > 1 {
		structure = model.StructureMulti
	}

	chunkRanges := chunkRangesFromStarts(starts, pageCount)

	// Multi-entry PDFs alternate a metadata page with an essay page
	// (>=4 pages, pattern-consistency >=0.7): pages are grouped
	// two-at-a-time into entries, overriding the header-start ranges.
	isMultiEntry := splitter.IsMultiEntry(starts)
	if isMultiEntry {
		structure = model.StructureMulti
		chunkRanges = pairedEntryRanges(pageCount)
	}

	docClass := decideDocClass(format, structure, pageCount, len(chunkRanges))
	if isMultiEntry {
		// The alternating pattern outranks the bulk-batch rule: entries
		// span two pages each, so the document is never one-per-page.
		docClass = model.DocClassMultiPageSingle
	}

	// For BULK_SCANNED_BATCH, chunk_ranges always degenerate to one
	// (i, i+1) range per page, regardless of which pages scored as
	// submission starts.
	if docClass == model.DocClassBulkScannedBatch {
		chunkRanges = perPageRanges(pageCount)
	}

	return &model.DocumentAnalysis{
		Format:                   format,
		Structure:                structure,
		FormLayout:               formLayoutFor(docClass),
		PageCount:                pageCount,
		ChunkRanges:              chunkRanges,
		DocClass:                 docClass,
		IsScannedMultiSubmission: format == model.FormatImageOnly && structure == model.StructureMulti,
		IsMultiEntry:             isMultiEntry,
		DarkBandCount:            darkBandCount,
	}, errs
}

func formatFromPageChars(charsPerPage []int) model.DocFormat {
	allPositive := true
	allZero := true
	for _, c := range charsPerPage {
		if c > 0 {
			allZero = false
		} else {
			allPositive = false
		}
	}
	switch {
	case allPositive:
		return model.FormatNativeText
	case allZero:
		return model.FormatImageOnly
	default:
		return model.FormatHybrid
	}
}

// topStripApprox approximates "the top 25% strip of page i" by the first
// quarter of the lines of that page's own text layer (the whole page when
// it has fewer than four lines). It works from extracted text, not
// rendered pixels, keeping this step code-only.
func topStripApprox(pdfBytes []byte, pageIndex int) string {
	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return ""
	}
	page := reader.Page(pageIndex + 1)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	lines := strings.Split(text, "\n")
	stripLen := len(lines) / 4
	if stripLen < 1 {
		stripLen = len(lines)
	}
	if stripLen > len(lines) {
		stripLen = len(lines)
	}
	return strings.Join(lines[:stripLen], "\n")
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

func chunkRangesFromStarts(starts []bool, pageCount int) []model.ChunkRange {
	if pageCount == 0 {
		return nil
	}
	startIdx := make([]int, 0)
	for i, s := range starts {
		if s {
			startIdx = append(startIdx, i)
		}
	}
	if len(startIdx) <= 1 {
		return []model.ChunkRange{{Start: 0, End: pageCount}}
	}
	ranges := make([]model.ChunkRange, 0, len(startIdx))
	for i, s := range startIdx {
		end := pageCount
		if i+1 < len(startIdx) {
			end = startIdx[i+1]
		}
		ranges = append(ranges, model.ChunkRange{Start: s, End: end})
	}
	return ranges
}

// pairedEntryRanges groups pages two-at-a-time for multi-entry PDFs; a
// trailing odd page becomes a one-page final entry.
func pairedEntryRanges(pageCount int) []model.ChunkRange {
	ranges := make([]model.ChunkRange, 0, (pageCount+1)/2)
	for i := 0; i < pageCount; i += 2 {
		end := i + 2
		if end > pageCount {
			end = pageCount
		}
		ranges = append(ranges, model.ChunkRange{Start: i, End: end})
	}
	return ranges
}

func perPageRanges(pageCount int) []model.ChunkRange {
	ranges := make([]model.ChunkRange, pageCount)
	for i := 0; i < pageCount; i++ {
		ranges[i] = model.ChunkRange{Start: i, End: i + 1}
	}
	return ranges
}

func decideDocClass(format model.DocFormat, structure model.Structure, pageCount int, chunkCount int) model.DocClass {
	switch {
	case format == model.FormatImageOnly && structure == model.StructureMulti && chunkCount > 1:
		return model.DocClassBulkScannedBatch
	case format == model.FormatNativeText && structure == model.StructureSingle && pageCount == 1:
		return model.DocClassSingleTyped
	case format == model.FormatImageOnly && structure == model.StructureSingle && pageCount == 1:
		return model.DocClassSingleScanned
	case structure == model.StructureSingle && pageCount > 1:
		return model.DocClassMultiPageSingle
	case structure == model.StructureMulti:
		return model.DocClassMultiPageSingle
	default:
		return model.DocClassEssayWithHeaderMetadata
	}
}

func formLayoutFor(docClass model.DocClass) string {
	switch docClass {
	case model.DocClassSingleTyped:
		return "typed_form"
	default:
		return "freeform"
	}
}
