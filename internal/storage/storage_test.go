package storage

import (
	"testing"
	"time"

	"github.com/essaycontest/submitproc/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestSplitReasonCodesRoundTripsJoin(t *testing.T) {
	codes := []model.ReasonCode{model.ReasonMissingGrade, model.ReasonShortEssay}
	joined := model.JoinReasonCodes(codes)
	assert.Equal(t, codes, splitReasonCodes(joined))

	assert.Nil(t, splitReasonCodes(""))
	assert.Equal(t, []model.ReasonCode{model.ReasonOCRFailed}, splitReasonCodes("OCR_FAILED"))
}

func TestSanitizeConfidenceClampsAndRounds(t *testing.T) {
	assert.Equal(t, 0.0, sanitizeConfidence(-0.5))
	assert.Equal(t, 1.0, sanitizeConfidence(1.5))
	assert.Equal(t, 0.9632, sanitizeConfidence(0.9632000000000001))
	assert.Equal(t, 0.1235, sanitizeConfidence(0.12345))
}

func TestSanitizeJSONForPostgresStripsControlEscapes(t *testing.T) {
	in := []byte(`{"text":"abc\u0000def\u0007ghi"}`)
	out := sanitizeJSONForPostgres(in)
	assert.Equal(t, `{"text":"abcdef ghi"}`, string(out))
}

func TestRetryBackoffExponentialWithCap(t *testing.T) {
	assert.Equal(t, 2*time.Second, RetryBackoff(0))
	assert.Equal(t, 4*time.Second, RetryBackoff(1))
	assert.Equal(t, 8*time.Second, RetryBackoff(2))
	assert.Equal(t, 60*time.Second, RetryBackoff(10))
}
