// Package audit implements the Audit Writer: one
// AuditTrace plus N AuditEvents per submission run, append-only.
// A write failure is retried exactly once; if the retry also fails the
// pipeline stage that triggered it still completes - audit failures
// never roll back or block a submission's processing.
package audit

import (
	"context"
	"time"

	"github.com/essaycontest/submitproc/internal/logging"
	"github.com/essaycontest/submitproc/internal/model"
)

// Repository is the storage-facing dependency audit.Writer needs.
// Implemented by storage.AuditRepository; declared here so this
// package never imports storage directly.
type Repository interface {
	PutTrace(ctx context.Context, trace *model.AuditTrace) error
	AppendEvent(ctx context.Context, event *model.AuditEvent) error
}

// Writer accumulates one run's trace in memory and flushes events as
// they occur, so a crash mid-run still leaves every event emitted so
// far on disk.
type Writer struct {
	repo   Repository
	logger *logging.Logger
	trace  model.AuditTrace
}

func NewWriter(repo Repository, logger *logging.Logger, submissionID, ownerID, inputFingerprint string) *Writer {
	return &Writer{
		repo:   repo,
		logger: logger,
		trace: model.AuditTrace{
			SubmissionID:     submissionID,
			OwnerID:          ownerID,
			InputFingerprint: inputFingerprint,
		},
	}
}

// Signal records a trace-level observation (e.g. "header_score=0.83")
// without yet writing it - the trace itself is flushed once, at the
// end of the run, via Finish.
func (w *Writer) Signal(s string) {
	w.trace.Signals = append(w.trace.Signals, s)
}

// RuleApplied records which validation/classification rule fired.
func (w *Writer) RuleApplied(rule string) {
	w.trace.RulesApplied = append(w.trace.RulesApplied, rule)
}

// Emit appends one stage event, retried once on failure without
// rolling back the stage that produced it.
func (w *Writer) Emit(ctx context.Context, actorRole string, eventType model.EventType, payload map[string]interface{}) {
	event := &model.AuditEvent{
		SubmissionID: w.trace.SubmissionID,
		ActorRole:    actorRole,
		EventType:    eventType,
		Payload:      payload,
		CreatedAt:    time.Now(),
	}
	if err := w.repo.AppendEvent(ctx, event); err != nil {
		if w.logger != nil {
			w.logger.Warn("audit event write failed, retrying once", "submission_id", w.trace.SubmissionID, "event_type", eventType, "error", err)
		}
		if retryErr := w.repo.AppendEvent(ctx, event); retryErr != nil && w.logger != nil {
			w.logger.Error("audit event write failed after retry", "submission_id", w.trace.SubmissionID, "event_type", eventType, "error", retryErr)
		}
	}
}

// Error records an error signal on the trace and emits an ERROR event.
func (w *Writer) Error(ctx context.Context, stage string, err error) {
	w.trace.Errors = append(w.trace.Errors, stage+": "+err.Error())
	w.Emit(ctx, "system", model.EventError, map[string]interface{}{"stage": stage, "error": err.Error()})
}

// Trace returns a snapshot of the trace accumulated so far. Used for
// the optional audit_trace.json artifact; the audit store stays
// authoritative.
func (w *Writer) Trace() model.AuditTrace {
	return w.trace
}

// Finish writes the accumulated trace with its final outcome, retried
// once on failure.
func (w *Writer) Finish(ctx context.Context, outcome string) {
	w.trace.Outcome = outcome
	w.trace.CreatedAt = time.Now()
	if err := w.repo.PutTrace(ctx, &w.trace); err != nil {
		if w.logger != nil {
			w.logger.Warn("audit trace write failed, retrying once", "submission_id", w.trace.SubmissionID, "error", err)
		}
		if retryErr := w.repo.PutTrace(ctx, &w.trace); retryErr != nil && w.logger != nil {
			w.logger.Error("audit trace write failed after retry", "submission_id", w.trace.SubmissionID, "error", retryErr)
		}
	}
}
