package analyzer

import (
	"testing"

	"github.com/essaycontest/submitproc/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeImageFileIsAlwaysSingleScanned(t *testing.T) {
	a := New(Thresholds{NativeText: 0.3, Other: 0.2}, nil)

	analysis, errs := a.Analyze([]byte("not actually a jpeg"), "submission.jpg")

	require.Empty(t, errs)
	assert.Equal(t, model.FormatImageOnly, analysis.Format)
	assert.Equal(t, model.StructureSingle, analysis.Structure)
	assert.Equal(t, model.DocClassSingleScanned, analysis.DocClass)
	assert.Equal(t, 1, analysis.PageCount)
	assert.Equal(t, []model.ChunkRange{{Start: 0, End: 1}}, analysis.ChunkRanges)
}

func TestDecideDocClassSingleTypedNativeText(t *testing.T) {
	docClass := decideDocClass(model.FormatNativeText, model.StructureSingle, 1, 1)
	assert.Equal(t, model.DocClassSingleTyped, docClass)
}

func TestDecideDocClassBulkScannedBatch(t *testing.T) {
	docClass := decideDocClass(model.FormatImageOnly, model.StructureMulti, 10, 10)
	assert.Equal(t, model.DocClassBulkScannedBatch, docClass)
}

func TestDecideDocClassMultiPageSingleForMultiStructureNonImage(t *testing.T) {
	docClass := decideDocClass(model.FormatNativeText, model.StructureMulti, 6, 3)
	assert.Equal(t, model.DocClassMultiPageSingle, docClass)
}

func TestPairedEntryRangesGroupPagesTwoAtATime(t *testing.T) {
	assert.Equal(t, []model.ChunkRange{
		{Start: 0, End: 2}, {Start: 2, End: 4}, {Start: 4, End: 6},
	}, pairedEntryRanges(6))
}

func TestPairedEntryRangesOddTrailingPageIsItsOwnEntry(t *testing.T) {
	assert.Equal(t, []model.ChunkRange{
		{Start: 0, End: 2}, {Start: 2, End: 4}, {Start: 4, End: 5},
	}, pairedEntryRanges(5))
}

func TestPerPageRangesOneRangePerPage(t *testing.T) {
	ranges := perPageRanges(4)

	assert.Equal(t, []model.ChunkRange{
		{Start: 0, End: 1}, {Start: 1, End: 2}, {Start: 2, End: 3}, {Start: 3, End: 4},
	}, ranges)
}

func TestChunkRangesFromStartsSingleStartCoversWholeDocument(t *testing.T) {
	ranges := chunkRangesFromStarts([]bool{true, false, false, false}, 4)
	assert.Equal(t, []model.ChunkRange{{Start: 0, End: 4}}, ranges)
}

func TestChunkRangesFromStartsMultipleStarts(t *testing.T) {
	ranges := chunkRangesFromStarts([]bool{true, false, true, false, true}, 5)
	assert.Equal(t, []model.ChunkRange{
		{Start: 0, End: 2}, {Start: 2, End: 4}, {Start: 4, End: 5},
	}, ranges)
}

func TestFormatFromPageCharsAllZeroIsImageOnly(t *testing.T) {
	assert.Equal(t, model.FormatImageOnly, formatFromPageChars([]int{0, 0, 0}))
}

func TestFormatFromPageCharsAllPositiveIsNativeText(t *testing.T) {
	assert.Equal(t, model.FormatNativeText, formatFromPageChars([]int{120, 80, 200}))
}

func TestFormatFromPageCharsMixedIsHybrid(t *testing.T) {
	assert.Equal(t, model.FormatHybrid, formatFromPageChars([]int{120, 0, 200}))
}
