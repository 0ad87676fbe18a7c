package classifier

import (
	"testing"

	"github.com/essaycontest/submitproc/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestClassifyAnalyzerDocClassIsAlwaysAuthoritative(t *testing.T) {
	analysis := &model.DocumentAnalysis{DocClass: model.DocClassSingleTyped, PageCount: 1}

	result := Classify(analysis, "student name grade school", "BULK_SCANNED_BATCH")

	assert.Equal(t, model.DocClassSingleTyped, result.DocClass)
	assert.True(t, result.Diverged)
}

func TestClassifyNoDivergenceWhenLLMAgrees(t *testing.T) {
	analysis := &model.DocumentAnalysis{DocClass: model.DocClassSingleScanned, PageCount: 1}

	result := Classify(analysis, "", "single_scanned")

	assert.False(t, result.Diverged)
}

func TestClassifyEmptyLLMProposalNeverDiverges(t *testing.T) {
	analysis := &model.DocumentAnalysis{DocClass: model.DocClassMultiPageSingle, PageCount: 3}

	result := Classify(analysis, "name grade", "")

	assert.False(t, result.Diverged)
	assert.Empty(t, result.LLMProposed)
}

func TestClassifyIsDeterministic(t *testing.T) {
	analysis := &model.DocumentAnalysis{DocClass: model.DocClassSingleTyped, PageCount: 1}

	first := Classify(analysis, "name grade school teacher", "single_typed")
	second := Classify(analysis, "name grade school teacher", "single_typed")

	assert.Equal(t, first, second)
}

func TestClassifyLabelCountFeature(t *testing.T) {
	analysis := &model.DocumentAnalysis{DocClass: model.DocClassSingleTyped, PageCount: 1}

	result := Classify(analysis, "Name: Maria\nGrade: 5\nSchool: Lincoln", "")

	assert.Equal(t, 3, result.Features.LabelCount)
}
