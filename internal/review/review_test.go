package review

import (
	"context"
	"testing"

	"github.com/essaycontest/submitproc/internal/model"
	"github.com/essaycontest/submitproc/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecords struct {
	byOwner map[string]map[string]*model.SubmissionRecord
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{byOwner: map[string]map[string]*model.SubmissionRecord{}}
}

func (f *fakeRecords) put(rec *model.SubmissionRecord) {
	if f.byOwner[rec.OwnerID] == nil {
		f.byOwner[rec.OwnerID] = map[string]*model.SubmissionRecord{}
	}
	copied := *rec
	f.byOwner[rec.OwnerID][rec.SubmissionID] = &copied
}

func (f *fakeRecords) GetByID(ctx context.Context, ownerID, submissionID string) (*model.SubmissionRecord, bool, error) {
	rec, ok := f.byOwner[ownerID][submissionID]
	if !ok {
		return nil, false, nil
	}
	copied := *rec
	return &copied, true, nil
}

func (f *fakeRecords) Upsert(ctx context.Context, rec *model.SubmissionRecord) error {
	f.put(rec)
	return nil
}

type fakeAudit struct {
	events []*model.AuditEvent
}

func (f *fakeAudit) PutTrace(ctx context.Context, trace *model.AuditTrace) error { return nil }

func (f *fakeAudit) AppendEvent(ctx context.Context, event *model.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

func strPtr(s string) *string { return &s }

func completeRecord() *model.SubmissionRecord {
	return &model.SubmissionRecord{
		SubmissionID: "abc123def456",
		OwnerID:      "owner-1",
		DocClass:     model.DocClassSingleTyped,
		Status:       model.StatusPendingReview,
		NeedsReview:  true,
		WordCount:    120,
		ExtractedFields: model.ExtractedFields{
			StudentName: strPtr("Jordan Altman"),
			SchoolName:  strPtr("Lincoln Middle"),
			Grade:       strPtr("8"),
			EssayText:   strPtr("a long enough essay"),
		},
	}
}

func TestApproveTransitionsCompleteRecord(t *testing.T) {
	records := newFakeRecords()
	records.put(completeRecord())
	auditRepo := &fakeAudit{}
	svc := NewService(records, auditRepo, validator.DefaultRequiredFields(), nil)

	rec, err := svc.Approve(context.Background(), "owner-1", "abc123def456", "reviewer")

	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, rec.Status)
	assert.False(t, rec.NeedsReview)

	stored, found, _ := records.GetByID(context.Background(), "owner-1", "abc123def456")
	require.True(t, found)
	assert.Equal(t, model.StatusApproved, stored.Status)

	require.Len(t, auditRepo.events, 1)
	assert.Equal(t, model.EventApproved, auditRepo.events[0].EventType)
	assert.Equal(t, "reviewer", auditRepo.events[0].ActorRole)
}

// Scenario B's second half: an approval attempt on a record missing a
// blocking field is rejected and the record is left untouched.
func TestApproveBlockedByMissingGrade(t *testing.T) {
	rec := completeRecord()
	rec.ExtractedFields.Grade = nil
	records := newFakeRecords()
	records.put(rec)
	auditRepo := &fakeAudit{}
	svc := NewService(records, auditRepo, validator.DefaultRequiredFields(), nil)

	_, err := svc.Approve(context.Background(), "owner-1", rec.SubmissionID, "reviewer")

	require.Error(t, err)
	assert.Contains(t, err.Error(), string(model.ReasonMissingGrade))

	stored, found, _ := records.GetByID(context.Background(), "owner-1", rec.SubmissionID)
	require.True(t, found)
	assert.Equal(t, model.StatusPendingReview, stored.Status)
	assert.True(t, stored.NeedsReview)

	require.Len(t, auditRepo.events, 1)
	assert.Equal(t, model.EventRejected, auditRepo.events[0].EventType)
}

func TestApproveIsOwnerScoped(t *testing.T) {
	records := newFakeRecords()
	records.put(completeRecord())
	svc := NewService(records, &fakeAudit{}, validator.DefaultRequiredFields(), nil)

	_, err := svc.Approve(context.Background(), "someone-else", "abc123def456", "reviewer")

	require.Error(t, err)
}

func TestApproveRefusesFailedRecord(t *testing.T) {
	rec := completeRecord()
	rec.Status = model.StatusFailed
	records := newFakeRecords()
	records.put(rec)
	svc := NewService(records, &fakeAudit{}, validator.DefaultRequiredFields(), nil)

	_, err := svc.Approve(context.Background(), "owner-1", rec.SubmissionID, "reviewer")

	require.Error(t, err)
}

func TestRejectEmitsEventWithoutMutatingRecord(t *testing.T) {
	records := newFakeRecords()
	records.put(completeRecord())
	auditRepo := &fakeAudit{}
	svc := NewService(records, auditRepo, validator.DefaultRequiredFields(), nil)

	err := svc.Reject(context.Background(), "owner-1", "abc123def456", "reviewer", "off prompt")

	require.NoError(t, err)
	stored, _, _ := records.GetByID(context.Background(), "owner-1", "abc123def456")
	assert.Equal(t, model.StatusPendingReview, stored.Status)
	require.Len(t, auditRepo.events, 1)
	assert.Equal(t, model.EventRejected, auditRepo.events[0].EventType)
	assert.Equal(t, "off prompt", auditRepo.events[0].Payload["reason"])
}
