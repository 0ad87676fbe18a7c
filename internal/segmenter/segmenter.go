// Package segmenter splits raw submission text into a contact block and
// an essay block.
package segmenter

import (
	"strings"

	"github.com/essaycontest/submitproc/internal/analyzer"
)

const (
	minContactLines = 10
	maxContactFrac  = 0.40
)

// Segments is the output of splitting raw text.
type Segments struct {
	ContactBlock string
	EssayBlock   string
	AnchorFound  bool
}

// Segment splits text into contact/essay blocks. defaultContactLines is
// used when no essay-prompt anchor is found (the doc_class profile's N).
func Segment(text string, defaultContactLines int) Segments {
	lines := splitLines(text)
	if len(lines) == 0 {
		return Segments{}
	}

	startIdx := analyzer.FindAnchorLine(lines, analyzer.EssayStartAnchors())
	if startIdx == -1 {
		n := defaultContactLines
		if n <= 0 {
			n = minContactLines
		}
		if n > len(lines) {
			n = len(lines)
		}
		return Segments{
			ContactBlock: strings.Join(lines[:n], "\n"),
			EssayBlock:   strings.Join(lines[n:], "\n"),
			AnchorFound:  false,
		}
	}

	maxContact := int(float64(len(lines)) * maxContactFrac)
	contactEnd := startIdx
	if contactEnd < minContactLines && len(lines) >= minContactLines {
		contactEnd = minContactLines
	}
	if maxContact > 0 && contactEnd > maxContact {
		contactEnd = maxContact
	}
	if contactEnd > len(lines) {
		contactEnd = len(lines)
	}

	endIdx := len(lines)
	if e := analyzer.FindAnchorLine(lines[contactEnd:], analyzer.EssayEndAnchors()); e != -1 {
		endIdx = contactEnd + e
	}

	return Segments{
		ContactBlock: strings.Join(lines[:contactEnd], "\n"),
		EssayBlock:   strings.Join(lines[contactEnd:endIdx], "\n"),
		AnchorFound:  true,
	}
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		out = append(out, l)
	}
	return out
}
