package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/essaycontest/submitproc/internal/model"
)

// AuditRepository is the append-only writer for the Audit Writer
// component: one AuditTrace and N AuditEvents per run,
// retried once on failure without rollback.
type AuditRepository struct {
	db *DB
}

func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// PutTrace writes (or overwrites, on a retried run of the same
// submission) the single per-run decision record.
func (a *AuditRepository) PutTrace(ctx context.Context, trace *model.AuditTrace) error {
	query := `
		INSERT INTO audit_traces (
			submission_id, owner_id, input_fingerprint, signals,
			rules_applied, outcome, errors, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (submission_id) DO UPDATE SET
			signals = EXCLUDED.signals,
			rules_applied = EXCLUDED.rules_applied,
			outcome = EXCLUDED.outcome,
			errors = EXCLUDED.errors
	`
	_, err := a.db.conn.ExecContext(ctx, query,
		trace.SubmissionID, trace.OwnerID, trace.InputFingerprint,
		strings.Join(trace.Signals, ";"), strings.Join(trace.RulesApplied, ";"),
		trace.Outcome, strings.Join(trace.Errors, ";"),
	)
	if err != nil {
		return fmt.Errorf("failed to write audit trace: %w", err)
	}
	return nil
}

// AppendEvent inserts a single stage-scoped event. Called once per
// pipeline stage transition; never updates or deletes a prior event.
func (a *AuditRepository) AppendEvent(ctx context.Context, event *model.AuditEvent) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event payload: %w", err)
	}
	payloadJSON = sanitizeJSONForPostgres(payloadJSON)

	query := `
		INSERT INTO audit_events (submission_id, actor_role, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4::jsonb, NOW())
	`
	_, err = a.db.conn.ExecContext(ctx, query,
		event.SubmissionID, event.ActorRole, string(event.EventType), string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}
