// Package validator implements the Validator: a config-driven
// required-field matrix per doc class plus the review-reason-code rules
// and the "best essay text" word-count selection.
package validator

import (
	"strings"

	"github.com/essaycontest/submitproc/internal/model"
)

// RequiredFields is the VALIDATION_RULES table, keyed by doc_class. The
// default requires
// all four core fields for every doc class; operators may override per
// class.
type RequiredFields map[model.DocClass][]string

// DefaultRequiredFields is the default requirement set: essay, grade,
// school, student for every doc class.
func DefaultRequiredFields() RequiredFields {
	all := []string{"essay_text", "grade", "school_name", "student_name"}
	return RequiredFields{
		model.DocClassSingleTyped:             all,
		model.DocClassSingleScanned:           all,
		model.DocClassMultiPageSingle:         all,
		model.DocClassBulkScannedBatch:        all,
		model.DocClassEssayWithHeaderMetadata: all,
	}
}

var requiredFieldCode = map[string]model.ReasonCode{
	"student_name": model.ReasonMissingStudentName,
	"school_name":  model.ReasonMissingSchoolName,
	"grade":        model.ReasonMissingGrade,
}

// Thresholds holds the ocr.* thresholds the validator needs.
type Thresholds struct {
	LowConfidence           float64
	Escalation              float64
	NearDuplicateSimilarity float64
}

// EssayCandidate is one candidate source for "best essay text".
type EssayCandidate struct {
	Source string
	Text   string
}

// Outcome is the result of running the validator.
type Outcome struct {
	ReasonCodes       []model.ReasonCode
	NeedsReview       bool
	WordCount         int
	ChosenEssaySource string
	ChosenEssayText   string
}

// Validate applies the required-field matrix, the essay-length rules,
// the OCR-confidence rules, and the template-only suppression rule, then
// performs the "best essay text" selection across candidates.
func Validate(
	rules RequiredFields,
	fields model.ExtractedFields,
	docClass model.DocClass,
	ocrConfidenceAvg float64,
	ocrFailed bool,
	candidates []EssayCandidate,
	isTemplateOnly bool,
	nearDuplicates []model.NearDuplicateMatch,
	thresholds Thresholds,
) Outcome {
	chosenSource, chosenText, wordCount := bestEssayText(candidates)

	var codes []model.ReasonCode

	if isTemplateOnly {
		codes = append(codes, model.ReasonTemplateOnly)
	} else {
		required := rules[docClass]
		for _, field := range required {
			if field == "essay_text" {
				continue // essay length is governed by the word-count rules below
			}
			if isMissing(fields, field) {
				if code, ok := requiredFieldCode[field]; ok {
					codes = append(codes, code)
				}
			}
		}
	}

	switch {
	case wordCount < 1:
		codes = append(codes, model.ReasonEmptyEssay)
	case wordCount < 50:
		codes = append(codes, model.ReasonShortEssay)
	}

	if ocrFailed {
		codes = append(codes, model.ReasonOCRFailed)
	} else if ocrConfidenceAvg < thresholds.LowConfidence {
		codes = append(codes, model.ReasonLowConfidence)
	}

	if ocrConfidenceAvg < thresholds.Escalation {
		codes = append(codes, model.ReasonEscalated)
	}

	for _, m := range nearDuplicates {
		if m.Similarity >= thresholds.NearDuplicateSimilarity {
			codes = append(codes, model.ReasonPossibleDuplicate)
			break
		}
	}

	return Outcome{
		ReasonCodes:       codes,
		NeedsReview:       len(codes) > 0,
		WordCount:         wordCount,
		ChosenEssaySource: chosenSource,
		ChosenEssayText:   chosenText,
	}
}

// ApprovalGate re-runs the blocking subset of the validator at approval
// time. Approval succeeds only if no
// blocking code is produced for the record's doc_class.
func ApprovalGate(rules RequiredFields, fields model.ExtractedFields, docClass model.DocClass, wordCount int) (approved bool, blocking []model.ReasonCode) {
	required := rules[docClass]
	for _, field := range required {
		if field == "essay_text" {
			continue
		}
		if isMissing(fields, field) {
			if code, ok := requiredFieldCode[field]; ok && model.BlockingReasonCodes[code] {
				blocking = append(blocking, code)
			}
		}
	}
	return len(blocking) == 0, blocking
}

func isMissing(fields model.ExtractedFields, field string) bool {
	var v *string
	switch field {
	case "student_name":
		v = fields.StudentName
	case "school_name":
		v = fields.SchoolName
	case "grade":
		v = fields.Grade
	case "teacher_name":
		v = fields.TeacherName
	case "father_figure_name":
		v = fields.FatherFigureName
	case "phone":
		v = fields.Phone
	case "email":
		v = fields.Email
	case "city_or_location":
		v = fields.CityOrLocation
	case "essay_text":
		v = fields.EssayText
	}
	return v == nil || strings.TrimSpace(*v) == ""
}

// bestEssayText chooses the candidate with the highest non-zero word
// count, in the order the caller supplies.
func bestEssayText(candidates []EssayCandidate) (source string, text string, wordCount int) {
	best := -1
	for i, c := range candidates {
		wc := wordCountOf(c.Text)
		if wc == 0 {
			continue
		}
		if best == -1 || wc > wordCountOf(candidates[best].Text) {
			best = i
		}
	}
	if best == -1 {
		return "", "", 0
	}
	return candidates[best].Source, candidates[best].Text, wordCountOf(candidates[best].Text)
}

func wordCountOf(text string) int {
	return len(strings.Fields(text))
}
