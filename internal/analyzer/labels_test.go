package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderScoreCountsDistinctLabelHits(t *testing.T) {
	text := "Student's Name: Maria\nGrade: 5\nSchool: Lincoln"

	score := HeaderScore(text)

	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestHeaderScoreZeroForUnrelatedText(t *testing.T) {
	score := HeaderScore("once upon a time there was a dragon")
	assert.Equal(t, 0.0, score)
}

func TestHeaderScoreIsBilingual(t *testing.T) {
	english := HeaderScore("teacher phone email")
	spanish := HeaderScore("maestro telefono correo")
	assert.Equal(t, english, spanish)
}

func TestFindAnchorLineReturnsFirstMatch(t *testing.T) {
	lines := []string{"intro", "What my father-figure means to me", "more text"}

	idx := FindAnchorLine(lines, EssayStartAnchors())

	assert.Equal(t, 1, idx)
}

func TestFindAnchorLineReturnsMinusOneWhenNoneMatch(t *testing.T) {
	lines := []string{"intro", "body", "outro"}

	idx := FindAnchorLine(lines, EssayStartAnchors())

	assert.Equal(t, -1, idx)
}
