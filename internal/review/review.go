// Package review implements the human approval path: the only
// transition out of PENDING_REVIEW. An approval re-runs the validator's
// blocking subset at approval time and is rejected unless it comes back
// empty, so an APPROVED record always satisfies its doc class's
// required-field set.
package review

import (
	"context"
	"fmt"

	"github.com/essaycontest/submitproc/internal/audit"
	"github.com/essaycontest/submitproc/internal/errors"
	"github.com/essaycontest/submitproc/internal/logging"
	"github.com/essaycontest/submitproc/internal/model"
	"github.com/essaycontest/submitproc/internal/validator"
)

// RecordStore is the owner-scoped record surface the approval path
// needs. Implemented by storage.RecordRepository.
type RecordStore interface {
	GetByID(ctx context.Context, ownerID, submissionID string) (*model.SubmissionRecord, bool, error)
	Upsert(ctx context.Context, rec *model.SubmissionRecord) error
}

// Service gates approvals and rejections. Every decision is
// audit-logged with the actor role that made it.
type Service struct {
	records   RecordStore
	auditRepo audit.Repository
	rules     validator.RequiredFields
	logger    *logging.Logger
}

func NewService(records RecordStore, auditRepo audit.Repository, rules validator.RequiredFields, logger *logging.Logger) *Service {
	return &Service{records: records, auditRepo: auditRepo, rules: rules, logger: logger}
}

// Approve transitions a record to APPROVED with needs_review=false, but
// only if the approval gate passes: re-running the blocking-field
// validation for the record's doc class must yield zero blocking codes.
// A blocked approval emits a REJECTED event and returns an error naming
// the blocking codes; the record is left untouched.
func (s *Service) Approve(ctx context.Context, ownerID, submissionID, actorRole string) (*model.SubmissionRecord, error) {
	rec, found, err := s.records.GetByID(ctx, ownerID, submissionID)
	if err != nil {
		return nil, errors.NewRecordError(submissionID, err)
	}
	if !found {
		return nil, errors.New(errors.ErrorInput, submissionID, "no such submission for this owner", nil)
	}
	if rec.Status == model.StatusFailed {
		return nil, errors.New(errors.ErrorValidation, submissionID, "a FAILED submission cannot be approved", nil)
	}

	approved, blocking := validator.ApprovalGate(s.rules, rec.ExtractedFields, rec.DocClass, rec.WordCount)
	if !approved {
		s.emit(ctx, rec, actorRole, model.EventRejected, map[string]interface{}{
			"blocking_codes": model.JoinReasonCodes(blocking),
		})
		return nil, errors.New(errors.ErrorValidation, submissionID,
			fmt.Sprintf("approval blocked: %s", model.JoinReasonCodes(blocking)), nil)
	}

	rec.Status = model.StatusApproved
	rec.NeedsReview = false
	if err := s.records.Upsert(ctx, rec); err != nil {
		return nil, errors.NewRecordError(submissionID, err)
	}

	s.emit(ctx, rec, actorRole, model.EventApproved, nil)
	if s.logger != nil {
		s.logger.Info("submission approved", "submission_id", submissionID, "actor_role", actorRole)
	}
	return rec, nil
}

// Reject records a human rejection. The record stays in PENDING_REVIEW
// with needs_review=true; only the REJECTED event and its reason are
// written, so the decision is recoverable from the audit trail.
func (s *Service) Reject(ctx context.Context, ownerID, submissionID, actorRole, reason string) error {
	rec, found, err := s.records.GetByID(ctx, ownerID, submissionID)
	if err != nil {
		return errors.NewRecordError(submissionID, err)
	}
	if !found {
		return errors.New(errors.ErrorInput, submissionID, "no such submission for this owner", nil)
	}

	s.emit(ctx, rec, actorRole, model.EventRejected, map[string]interface{}{"reason": reason})
	if s.logger != nil {
		s.logger.Info("submission rejected", "submission_id", submissionID, "actor_role", actorRole)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, rec *model.SubmissionRecord, actorRole string, eventType model.EventType, payload map[string]interface{}) {
	if s.auditRepo == nil {
		return
	}
	w := audit.NewWriter(s.auditRepo, s.logger, rec.SubmissionID, rec.OwnerID, "")
	w.Emit(ctx, actorRole, eventType, payload)
}
