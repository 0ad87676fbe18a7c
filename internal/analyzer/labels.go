package analyzer

import "strings"

// headerLabelBag is the bilingual label bag scored against the top strip
// of a page to detect a submission-start header.
// Includes OCR-tolerant misspellings to anticipate for noisy scans.
var headerLabelBag = []string{
	"student's name", "nombre del estudiante", "studnt",
	"grade", "grado", "garde",
	"school", "escuela", "schol",
	"teacher", "maestro", "maestra",
	"father-figure", "figura paterna", "padre",
	"phone", "telefono", "teléfono",
	"email", "correo",
	"city", "ciudad",
}

// HeaderScore counts how many distinct labels from the bilingual bag
// appear in the given text, normalized to [0,1] by the bag size. A
// simple containment match, case-insensitive, is sufficient for the
// deterministic threshold comparison.
func HeaderScore(text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, label := range headerLabelBag {
		if strings.Contains(lower, label) {
			hits++
		}
	}
	return float64(hits) / float64(len(headerLabelBag))
}

// essayStartAnchors are the recognized essay-prompt anchors the Segmenter
// uses to find the contact/essay boundary.
var essayStartAnchors = []string{
	"what my father", "lo que mi padre", "que mi padre",
}

var essayEndAnchors = []string{
	"reaction to this essay", "father-figure reaction", "reaccion a este ensayo",
}

// FindAnchorLine returns the index of the first line containing any of
// the given anchors, or -1 if none match.
func FindAnchorLine(lines []string, anchors []string) int {
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, anchor := range anchors {
			if strings.Contains(lower, anchor) {
				return i
			}
		}
	}
	return -1
}

// EssayStartAnchors exposes essayStartAnchors to other packages.
func EssayStartAnchors() []string { return essayStartAnchors }

// EssayEndAnchors exposes essayEndAnchors to other packages.
func EssayEndAnchors() []string { return essayEndAnchors }
