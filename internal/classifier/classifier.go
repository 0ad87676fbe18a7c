// Package classifier implements the deterministic Classifier: it
// verifies an LLM-proposed doc_type against code-computed features and
// decides the final doc_class. Running twice on the same
// input must yield the same output - there is no randomness and no
// external call anywhere in this package.
package classifier

import (
	"strings"

	"github.com/essaycontest/submitproc/internal/analyzer"
	"github.com/essaycontest/submitproc/internal/model"
)

// Features is the deterministic feature vector recorded in the trace.
type Features struct {
	LabelCount       int
	PageCount        int
	HeaderStripScore float64
	DarkBandCount    int
}

// Result is the classifier's decision plus its evidence.
type Result struct {
	DocClass    model.DocClass
	Features    Features
	LLMProposed string
	Diverged    bool
}

// Classify compares an LLM-proposed doc_type (may be empty) against the
// code-computed doc_class already decided by the Document Analyzer and
// records any divergence. The analyzer's doc_class is always the
// authoritative value - the LLM's proposal has no authority over it.
func Classify(analysis *model.DocumentAnalysis, ocrText string, llmProposedDocType string) Result {
	features := Features{
		LabelCount:       labelCount(ocrText),
		PageCount:        analysis.PageCount,
		HeaderStripScore: analyzer.HeaderScore(ocrText),
		DarkBandCount:    analysis.DarkBandCount,
	}

	diverged := llmProposedDocType != "" && !strings.EqualFold(llmProposedDocType, string(analysis.DocClass))

	return Result{
		DocClass:    analysis.DocClass,
		Features:    features,
		LLMProposed: llmProposedDocType,
		Diverged:    diverged,
	}
}

func labelCount(text string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, label := range []string{"name", "grade", "school", "teacher", "phone", "email"} {
		if strings.Contains(lower, label) {
			count++
		}
	}
	return count
}
