package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/essaycontest/submitproc/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyRepo fails the first N calls to each write, then succeeds.
type flakyRepo struct {
	traceFailures int
	eventFailures int
	traces        []*model.AuditTrace
	events        []*model.AuditEvent
}

func (f *flakyRepo) PutTrace(ctx context.Context, trace *model.AuditTrace) error {
	if f.traceFailures > 0 {
		f.traceFailures--
		return fmt.Errorf("simulated trace write failure")
	}
	copied := *trace
	f.traces = append(f.traces, &copied)
	return nil
}

func (f *flakyRepo) AppendEvent(ctx context.Context, event *model.AuditEvent) error {
	if f.eventFailures > 0 {
		f.eventFailures--
		return fmt.Errorf("simulated event write failure")
	}
	f.events = append(f.events, event)
	return nil
}

func TestEmitRetriesOnceOnFailure(t *testing.T) {
	repo := &flakyRepo{eventFailures: 1}
	w := NewWriter(repo, nil, "sub-1", "owner-1", "fp")

	w.Emit(context.Background(), "system", model.EventIngested, nil)

	require.Len(t, repo.events, 1, "the retry must land the event")
	assert.Equal(t, model.EventIngested, repo.events[0].EventType)
}

func TestEmitGivesUpAfterSecondFailure(t *testing.T) {
	repo := &flakyRepo{eventFailures: 2}
	w := NewWriter(repo, nil, "sub-1", "owner-1", "fp")

	w.Emit(context.Background(), "system", model.EventIngested, nil)

	assert.Empty(t, repo.events, "two failures means the event is dropped, not retried forever")
}

func TestFinishRetriesTraceWriteOnce(t *testing.T) {
	repo := &flakyRepo{traceFailures: 1}
	w := NewWriter(repo, nil, "sub-1", "owner-1", "fp")
	w.Signal("header_score=0.83")
	w.RuleApplied("typed_form_positional_extraction")

	w.Finish(context.Background(), "processed")

	require.Len(t, repo.traces, 1)
	trace := repo.traces[0]
	assert.Equal(t, "processed", trace.Outcome)
	assert.Equal(t, []string{"header_score=0.83"}, trace.Signals)
	assert.Equal(t, []string{"typed_form_positional_extraction"}, trace.RulesApplied)
}

func TestErrorRecordsSignalAndEmitsEvent(t *testing.T) {
	repo := &flakyRepo{}
	w := NewWriter(repo, nil, "sub-1", "owner-1", "fp")

	w.Error(context.Background(), "OCR_COMPLETE", fmt.Errorf("vendor unavailable"))
	w.Finish(context.Background(), "failed")

	require.Len(t, repo.events, 1)
	assert.Equal(t, model.EventError, repo.events[0].EventType)
	require.Len(t, repo.traces, 1)
	assert.Contains(t, repo.traces[0].Errors[0], "OCR_COMPLETE")
}

func TestTraceSnapshotReflectsAccumulatedState(t *testing.T) {
	w := NewWriter(&flakyRepo{}, nil, "sub-1", "owner-1", "fp")
	w.Signal("a")
	w.Signal("b")

	snap := w.Trace()
	assert.Equal(t, "sub-1", snap.SubmissionID)
	assert.Equal(t, []string{"a", "b"}, snap.Signals)
}
