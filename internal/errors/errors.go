package errors

import (
	"fmt"
	"time"
)

/**
 * Custom error types for the submission processing core.
 *
 * Design Pattern: Factory Pattern for error creation
 * SOLID Principle: Single Responsibility (each error kind has one purpose)
 */

// ErrorCode enumerates the closed set of error kinds. Every
// pipeline-visible failure carries exactly one of these.
type ErrorCode string

const (
	ErrorInput          ErrorCode = "input_error"
	ErrorAnalysis       ErrorCode = "analysis_error"
	ErrorOCR            ErrorCode = "ocr_error"
	ErrorExtraction     ErrorCode = "extraction_error"
	ErrorClassification ErrorCode = "classification_error"
	ErrorValidation     ErrorCode = "validation_error"
	ErrorStorage        ErrorCode = "storage_error"
	ErrorRecord         ErrorCode = "record_error"
	ErrorAudit          ErrorCode = "audit_error"
	ErrorTimeout        ErrorCode = "timeout"
	ErrorCancelled      ErrorCode = "cancelled"
)

// PipelineError is a structured error carrying the stage, the submission
// it occurred on, and whatever detail the stage wants in the trace.
type PipelineError struct {
	Code         ErrorCode
	Message      string
	SubmissionID string
	Timestamp    time.Time
	Details      map[string]interface{}
	Cause        error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// New builds a PipelineError with the given code and message.
func New(code ErrorCode, submissionID, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:         code,
		Message:      message,
		SubmissionID: submissionID,
		Timestamp:    time.Now(),
		Cause:        cause,
	}
}

func NewTimeoutError(submissionID string, stage string, duration time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:         ErrorTimeout,
		Message:      fmt.Sprintf("stage %s timed out after %v", stage, duration),
		SubmissionID: submissionID,
		Timestamp:    time.Now(),
		Details:      map[string]interface{}{"stage": stage, "timeout_duration": duration.String()},
		Cause:        cause,
	}
}

func NewOCRError(submissionID string, cause error) *PipelineError {
	return &PipelineError{
		Code:         ErrorOCR,
		Message:      "OCR capability failed",
		SubmissionID: submissionID,
		Timestamp:    time.Now(),
		Cause:        cause,
	}
}

func NewExtractionError(submissionID string, cause error) *PipelineError {
	return &PipelineError{
		Code:         ErrorExtraction,
		Message:      "extraction capability failed",
		SubmissionID: submissionID,
		Timestamp:    time.Now(),
		Cause:        cause,
	}
}

func NewStorageError(submissionID string, cause error) *PipelineError {
	return &PipelineError{
		Code:         ErrorStorage,
		Message:      "object storage operation failed",
		SubmissionID: submissionID,
		Timestamp:    time.Now(),
		Cause:        cause,
	}
}

func NewRecordError(submissionID string, cause error) *PipelineError {
	return &PipelineError{
		Code:         ErrorRecord,
		Message:      "record store operation failed",
		SubmissionID: submissionID,
		Timestamp:    time.Now(),
		Cause:        cause,
	}
}

func NewAuditError(submissionID string, cause error) *PipelineError {
	return &PipelineError{
		Code:         ErrorAudit,
		Message:      "audit store write failed",
		SubmissionID: submissionID,
		Timestamp:    time.Now(),
		Cause:        cause,
	}
}

func NewCancelledError(submissionID string, stage string) *PipelineError {
	return &PipelineError{
		Code:         ErrorCancelled,
		Message:      fmt.Sprintf("job cancelled before stage %s", stage),
		SubmissionID: submissionID,
		Timestamp:    time.Now(),
		Details:      map[string]interface{}{"stage": stage},
	}
}

// ToMap converts the error to a map for audit/record storage.
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	for k, v := range e.Details {
		result[k] = v
	}
	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}
	return result
}
