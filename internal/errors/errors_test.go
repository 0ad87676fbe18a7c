package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineErrorWrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewOCRError("sub-1", cause)

	assert.Equal(t, ErrorOCR, err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ocr_error")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTimeoutErrorCarriesStageDetails(t *testing.T) {
	err := NewTimeoutError("sub-1", "OCR_COMPLETE", 60*time.Second, nil)

	m := err.ToMap()
	assert.Equal(t, "timeout", m["error_code"])
	assert.Equal(t, "OCR_COMPLETE", m["stage"])
	assert.Equal(t, "1m0s", m["timeout_duration"])
}

func TestCancelledErrorHasNoCause(t *testing.T) {
	err := NewCancelledError("sub-1", "SEGMENTED")

	assert.Equal(t, ErrorCancelled, err.Code)
	require.Nil(t, err.Unwrap())
	m := err.ToMap()
	_, hasCause := m["cause"]
	assert.False(t, hasCause)
}

func TestToMapIncludesCause(t *testing.T) {
	err := NewRecordError("sub-1", fmt.Errorf("deadlock detected"))
	m := err.ToMap()
	assert.Equal(t, "record_error", m["error_code"])
	assert.Equal(t, "deadlock detected", m["cause"])
}
