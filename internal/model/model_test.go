package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinReasonCodes(t *testing.T) {
	assert.Equal(t, "", JoinReasonCodes(nil))
	assert.Equal(t, "MISSING_GRADE", JoinReasonCodes([]ReasonCode{ReasonMissingGrade}))
	assert.Equal(t, "MISSING_GRADE;SHORT_ESSAY;LOW_CONFIDENCE",
		JoinReasonCodes([]ReasonCode{ReasonMissingGrade, ReasonShortEssay, ReasonLowConfidence}))
}

func TestBlockingReasonCodesAreExactlyTheMissingFieldCodes(t *testing.T) {
	assert.True(t, BlockingReasonCodes[ReasonMissingStudentName])
	assert.True(t, BlockingReasonCodes[ReasonMissingSchoolName])
	assert.True(t, BlockingReasonCodes[ReasonMissingGrade])
	assert.False(t, BlockingReasonCodes[ReasonShortEssay])
	assert.False(t, BlockingReasonCodes[ReasonLowConfidence])
	assert.False(t, BlockingReasonCodes[ReasonPossibleDuplicate])
}
