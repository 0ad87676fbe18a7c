package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/essaycontest/submitproc/internal/model"
)

// VerificationResult records, per field, whether the LLM-returned value
// survived verification against the OCR text.
type VerificationResult struct {
	Fields             model.ExtractedFields
	FailedFields       []string // field_verification_failed signal, one entry per dropped field
	SchoolNameFallback bool
	GradeFallback      bool
}

var gradeWords = map[string]string{
	"first": "1", "1st": "1",
	"second": "2", "2nd": "2",
	"third": "3", "3rd": "3",
	"fourth": "4", "4th": "4",
	"fifth": "5", "5th": "5",
	"sixth": "6", "6th": "6",
	"seventh": "7", "7th": "7",
	"eighth": "8", "8th": "8",
	"ninth": "9", "9th": "9",
	"tenth": "10", "10th": "10",
	"eleventh": "11", "11th": "11",
	"twelfth": "12", "12th": "12",
}

var institutionKeywords = []string{"elementary", "middle", "high", "school", "academy"}

// Verify runs the mandatory deterministic verification pass on every
// field the LLM returned, applies the school-name and grade fallback
// rules when the LLM returned null, and drops any value that cannot be
// verified or derived.
func Verify(proposed model.ExtractedFields, ocrText, contactBlock string) VerificationResult {
	normalizedOCR := normalize(ocrText)
	out := VerificationResult{}

	verifyText := func(v *string) *string {
		if v == nil {
			return nil
		}
		if strings.Contains(normalizedOCR, normalize(*v)) {
			return v
		}
		return nil
	}

	out.Fields.StudentName = verifyText(proposed.StudentName)
	if proposed.StudentName != nil && out.Fields.StudentName == nil {
		out.FailedFields = append(out.FailedFields, "student_name")
	}

	out.Fields.TeacherName = verifyText(proposed.TeacherName)
	if proposed.TeacherName != nil && out.Fields.TeacherName == nil {
		out.FailedFields = append(out.FailedFields, "teacher_name")
	}

	out.Fields.FatherFigureName = verifyText(proposed.FatherFigureName)
	if proposed.FatherFigureName != nil && out.Fields.FatherFigureName == nil {
		out.FailedFields = append(out.FailedFields, "father_figure_name")
	}

	out.Fields.Phone = verifyText(proposed.Phone)
	if proposed.Phone != nil && out.Fields.Phone == nil {
		out.FailedFields = append(out.FailedFields, "phone")
	}

	out.Fields.Email = verifyText(proposed.Email)
	if proposed.Email != nil && out.Fields.Email == nil {
		out.FailedFields = append(out.FailedFields, "email")
	}

	out.Fields.CityOrLocation = verifyText(proposed.CityOrLocation)
	if proposed.CityOrLocation != nil && out.Fields.CityOrLocation == nil {
		out.FailedFields = append(out.FailedFields, "city_or_location")
	}

	// essay_text is not verified against OCR containment - it IS the OCR
	// text, reshaped; word-count selection (validator) arbitrates it.
	out.Fields.EssayText = proposed.EssayText

	// school_name: verify, else attempt the fallback.
	if school := verifyText(proposed.SchoolName); school != nil {
		out.Fields.SchoolName = school
	} else {
		if proposed.SchoolName != nil {
			out.FailedFields = append(out.FailedFields, "school_name")
		}
		if v, ok := schoolNameFallback(contactBlock); ok {
			out.Fields.SchoolName = &v
			out.SchoolNameFallback = true
		}
	}

	// grade: accepted only if it parses to 1..12 or K/Kindergarten/Pre-K.
	if grade := verifyGrade(proposed.Grade, normalizedOCR); grade != nil {
		out.Fields.Grade = grade
	} else {
		if proposed.Grade != nil {
			out.FailedFields = append(out.FailedFields, "grade")
		}
		if v, ok := gradeFallback(contactBlock); ok {
			out.Fields.Grade = &v
			out.GradeFallback = true
		}
	}

	return out
}

// normalize lowercases, NFKD-decomposes so precomposed accented
// characters split into base letter plus combining mark, and drops the
// marks - "Peña" and "Pena" compare equal.
func normalize(s string) string {
	decomposed := norm.NFKD.String(strings.ToLower(s))
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.IsMark(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func verifyGrade(proposed *string, normalizedOCR string) *string {
	if proposed == nil {
		return nil
	}
	canon, ok := canonicalGrade(*proposed)
	if !ok {
		return nil
	}
	if strings.Contains(normalizedOCR, normalize(*proposed)) || strings.Contains(normalizedOCR, normalize(canon)) {
		return &canon
	}
	return nil
}

// canonicalGrade accepts ordinal/word equivalents and normalizes to an
// integer string 1..12, or "K"/"Pre-K".
func canonicalGrade(raw string) (string, bool) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	switch trimmed {
	case "k", "kindergarten":
		return "K", true
	case "pre-k", "prek", "pre k":
		return "Pre-K", true
	}
	if word, ok := gradeWords[trimmed]; ok {
		return word, true
	}
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= 12 {
		return strconv.Itoa(n), true
	}
	return "", false
}

var schoolNameCandidate = regexp.MustCompile(`\b([A-Z][a-zA-Z]*(?:[ \t]+[A-Z][a-zA-Z]*){1,5})\b`)

// schoolNameFallback scans a ±5-line window of a "School"/"Escuela" label
// for a capitalized multi-word phrase containing an institution keyword.
func schoolNameFallback(contactBlock string) (string, bool) {
	lines := strings.Split(contactBlock, "\n")
	for i, line := range lines {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "school") && !strings.Contains(lower, "escuela") {
			continue
		}
		start := i - 5
		if start < 0 {
			start = 0
		}
		end := i + 6
		if end > len(lines) {
			end = len(lines)
		}
		window := strings.Join(lines[start:end], "\n")
		for _, m := range schoolNameCandidate.FindAllString(window, -1) {
			lowerM := strings.ToLower(m)
			for _, kw := range institutionKeywords {
				if strings.Contains(lowerM, kw) {
					return m, true
				}
			}
		}
	}
	return "", false
}

var standaloneInt = regexp.MustCompile(`\b(1[0-2]|[1-9])\b`)
var ordinalGrade = regexp.MustCompile(`\b(1st|2nd|3rd|[4-9]th|1[0-2]th)\b`)

// gradeFallback scans within 10 lines after a grade label for a
// standalone integer, ordinal, or spelled-out word. If the window is blank, it leaves the value null rather
// than guessing.
func gradeFallback(contactBlock string) (string, bool) {
	lines := strings.Split(contactBlock, "\n")
	for i, line := range lines {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "grade") && !strings.Contains(lower, "grado") {
			continue
		}
		end := i + 11
		if end > len(lines) {
			end = len(lines)
		}
		window := lines[i:end]
		blank := true
		for _, l := range window {
			if strings.TrimSpace(l) != "" {
				blank = false
				break
			}
		}
		if blank {
			return "", false
		}
		joined := strings.Join(window, "\n")
		if m := standaloneInt.FindString(joined); m != "" {
			return m, true
		}
		if m := ordinalGrade.FindString(strings.ToLower(joined)); m != "" {
			if canon, ok := canonicalGrade(m); ok {
				return canon, true
			}
		}
		lowerJoined := strings.ToLower(joined)
		for word, num := range gradeWords {
			if strings.Contains(lowerJoined, word) {
				return num, true
			}
		}
		return "", false
	}
	return "", false
}
