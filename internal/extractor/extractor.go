// Package extractor implements the Extractor component: typed-form
// positional extraction, LLM-assisted extraction with mandatory
// deterministic verification, and the school-name/grade fallback rules.
package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/essaycontest/submitproc/internal/model"
)

// ResponseCache backs the (prompt_hash, input_hash) -> response cache
// for the LLM capability. A cache hit means the runner emits
// CACHED_LLM_RESULT instead of re-calling the model.
type ResponseCache interface {
	Get(ctx context.Context, promptHash, inputHash string) (*model.ExtractedFields, string, bool, error)
	Put(ctx context.Context, promptHash, inputHash string, fields model.ExtractedFields, docType string) error
}

// Extractor orchestrates both extraction paths plus the mandatory
// verification pass.
type Extractor struct {
	llm   *LLMCapability
	cache ResponseCache
}

func New(llm *LLMCapability, cache ResponseCache) *Extractor {
	return &Extractor{llm: llm, cache: cache}
}

// Outcome carries the verified fields plus everything the trace needs.
type Outcome struct {
	Fields             model.ExtractedFields
	LLMProposedDocType string
	UsedLLM            bool
	CacheHit           bool
	VerificationFailed []string
	SchoolNameFallback bool
	GradeFallback      bool
	// RuleBasedFallback is set when the LLM path was attempted (or
	// unavailable) and the extractor fell back to rule-based positional
	// extraction instead: an LLM failure falls back to rule-based
	// extraction and the trace records the fallback. This never
	// surfaces as a stage failure.
	RuleBasedFallback bool
}

// ExtractTypedForm runs path (a): rule-based positional extraction, no
// LLM call, still subject to the mandatory verification pass.
func (e *Extractor) ExtractTypedForm(ocrText, contactBlock string) Outcome {
	proposed := ExtractPositional(ocrText).Fields
	verified := Verify(proposed, ocrText, contactBlock)
	return Outcome{
		Fields:             verified.Fields,
		VerificationFailed: verified.FailedFields,
		SchoolNameFallback: verified.SchoolNameFallback,
		GradeFallback:      verified.GradeFallback,
	}
}

// ExtractLLMAssisted runs path (b): a single temperature=0 LLM call over
// the contact block, cached by (prompt_hash, input_hash), followed by
// the mandatory verification pass. A missing capability or a vendor
// error never fails the stage: it falls back to rule-based positional
// extraction and records the fallback in the returned Outcome instead
// of returning an error.
func (e *Extractor) ExtractLLMAssisted(ctx context.Context, ocrText, contactBlock string) (Outcome, error) {
	if e.llm == nil {
		return e.fallbackToPositional(ocrText, contactBlock), nil
	}

	promptHash := hashString(extractionPromptTemplate)
	inputHash := hashString(contactBlock)

	if e.cache != nil {
		if fields, docType, ok, err := e.cache.Get(ctx, promptHash, inputHash); err == nil && ok {
			verified := Verify(*fields, ocrText, contactBlock)
			return Outcome{
				Fields:             verified.Fields,
				LLMProposedDocType: docType,
				UsedLLM:            true,
				CacheHit:           true,
				VerificationFailed: verified.FailedFields,
				SchoolNameFallback: verified.SchoolNameFallback,
				GradeFallback:      verified.GradeFallback,
			}, nil
		}
	}

	proposed, docType, err := e.llm.Extract(ctx, contactBlock)
	if err != nil {
		return e.fallbackToPositional(ocrText, contactBlock), nil
	}

	if e.cache != nil {
		_ = e.cache.Put(ctx, promptHash, inputHash, proposed, docType)
	}

	verified := Verify(proposed, ocrText, contactBlock)
	return Outcome{
		Fields:             verified.Fields,
		LLMProposedDocType: docType,
		UsedLLM:            true,
		CacheHit:           false,
		VerificationFailed: verified.FailedFields,
		SchoolNameFallback: verified.SchoolNameFallback,
		GradeFallback:      verified.GradeFallback,
	}, nil
}

// fallbackToPositional is the degrade path for extraction_error: it
// reuses the typed-form positional scan (generalized - it tolerates
// absent labels, simply returning fewer fields) and still runs the
// mandatory verification pass.
func (e *Extractor) fallbackToPositional(ocrText, contactBlock string) Outcome {
	proposed := ExtractPositional(ocrText).Fields
	verified := Verify(proposed, ocrText, contactBlock)
	return Outcome{
		Fields:             verified.Fields,
		UsedLLM:            false,
		RuleBasedFallback:  true,
		VerificationFailed: verified.FailedFields,
		SchoolNameFallback: verified.SchoolNameFallback,
		GradeFallback:      verified.GradeFallback,
	}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
