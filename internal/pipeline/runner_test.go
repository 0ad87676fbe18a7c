package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/essaycontest/submitproc/internal/analyzer"
	"github.com/essaycontest/submitproc/internal/extractor"
	"github.com/essaycontest/submitproc/internal/model"
	"github.com/essaycontest/submitproc/internal/ocr"
	"github.com/essaycontest/submitproc/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	put map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{put: map[string][]byte{}}
}

func (f *fakeObjectStore) Key(ownerID, submissionID, name string) string {
	return fmt.Sprintf("%s/%s/%s", ownerID, submissionID, name)
}

func (f *fakeObjectStore) Put(key string, data []byte) error {
	f.put[key] = data
	return nil
}

type fakeRecordStore struct {
	saved map[string]*model.SubmissionRecord
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{saved: map[string]*model.SubmissionRecord{}}
}

func (f *fakeRecordStore) Upsert(ctx context.Context, rec *model.SubmissionRecord) error {
	copied := *rec
	f.saved[rec.SubmissionID] = &copied
	return nil
}

func (f *fakeRecordStore) SystemGetByID(ctx context.Context, submissionID string) (*model.SubmissionRecord, bool, error) {
	rec, ok := f.saved[submissionID]
	return rec, ok, nil
}

type fakeAuditRepo struct {
	traces []*model.AuditTrace
	events []*model.AuditEvent
}

func (f *fakeAuditRepo) PutTrace(ctx context.Context, trace *model.AuditTrace) error {
	f.traces = append(f.traces, trace)
	return nil
}

func (f *fakeAuditRepo) AppendEvent(ctx context.Context, event *model.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestRunner(objects *fakeObjectStore, records *fakeRecordStore, auditRepo *fakeAuditRepo) *Runner {
	return &Runner{
		Analyzer:        analyzer.New(analyzer.Thresholds{NativeText: 0.3, Other: 0.2}, nil),
		OCR:             ocr.Capability(ocr.NewStubOCR()),
		Extractor:       extractor.New(nil, nil),
		NearDuplicate:   nil,
		ValidationRules: validator.DefaultRequiredFields(),
		Thresholds: validator.Thresholds{
			LowConfidence:           0.5,
			Escalation:              0.3,
			NearDuplicateSimilarity: 0.92,
		},
		Records:             records,
		Objects:             objects,
		AuditRepo:           auditRepo,
		DefaultContactLines: 10,
	}
}

const wellFormedSubmission = `Student's Name: Maria Gomez
Grade: 5
School: Lincoln Elementary School
Teacher: Mrs. Smith
Phone: 555-1212
Email: maria@example.com
City: Springfield
What my father-figure means to me
He taught me patience kindness and how to work hard every single day of my life and I will never forget the lessons he gave me about family duty and love that shaped who I am today as a person in this world
Reaction to this essay: proud`

// Scenario A: a fully compliant single submission is saved
// with no review reason codes and an APPROVED-eligible record.
func TestRunScenarioAWellFormedSubmissionNeedsNoReview(t *testing.T) {
	objects := newFakeObjectStore()
	records := newFakeRecordStore()
	auditRepo := &fakeAuditRepo{}
	runner := newTestRunner(objects, records, auditRepo)

	req := model.UploadRequest{
		FileBytes: []byte(wellFormedSubmission),
		Filename:  "submission.jpg",
		OwnerID:   "owner-1",
	}

	rec, err := runner.Run(context.Background(), req, "job-1")

	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, rec.Status)
	assert.False(t, rec.NeedsReview)
	assert.Empty(t, rec.ReviewReasonCodes)
	require.NotNil(t, rec.ExtractedFields.StudentName)
	assert.Equal(t, "Maria Gomez", *rec.ExtractedFields.StudentName)
	require.NotNil(t, rec.ExtractedFields.SchoolName)
	require.NotNil(t, rec.ExtractedFields.Grade)
	assert.GreaterOrEqual(t, rec.WordCount, 50)
	assert.NotEmpty(t, objects.put)
	assert.Contains(t, records.saved, rec.SubmissionID)
	assert.NotEmpty(t, auditRepo.traces)
}

// Scenario: missing required fields produce the matching blocking codes
// and the record is flagged for review.
func TestRunMissingRequiredFieldsNeedsReview(t *testing.T) {
	objects := newFakeObjectStore()
	records := newFakeRecordStore()
	auditRepo := &fakeAuditRepo{}
	runner := newTestRunner(objects, records, auditRepo)

	text := "Teacher: Mrs. Smith\nPhone: 555-1212\nsome unrelated body text with no student name, school, or grade label anywhere in it at all"
	req := model.UploadRequest{FileBytes: []byte(text), Filename: "submission.jpg", OwnerID: "owner-2"}

	rec, err := runner.Run(context.Background(), req, "job-2")

	require.NoError(t, err)
	assert.True(t, rec.NeedsReview)
	assert.Contains(t, rec.ReviewReasonCodes, model.ReasonMissingStudentName)
	assert.Contains(t, rec.ReviewReasonCodes, model.ReasonMissingSchoolName)
	assert.Contains(t, rec.ReviewReasonCodes, model.ReasonMissingGrade)
}

// Scenario: an OCR failure degrades the record into review rather than
// aborting the run.
func TestRunOCRFailureDegradesIntoReview(t *testing.T) {
	objects := newFakeObjectStore()
	records := newFakeRecordStore()
	auditRepo := &fakeAuditRepo{}
	runner := newTestRunner(objects, records, auditRepo)
	runner.OCR = ocr.Capability(&ocr.StubOCR{Fail: true})

	req := model.UploadRequest{FileBytes: []byte(wellFormedSubmission), Filename: "submission.jpg", OwnerID: "owner-3"}

	rec, err := runner.Run(context.Background(), req, "job-3")

	require.NoError(t, err)
	assert.True(t, rec.OCRFailed)
	assert.True(t, rec.NeedsReview)
	assert.Contains(t, rec.ReviewReasonCodes, model.ReasonOCRFailed)
	assert.NotContains(t, rec.ReviewReasonCodes, model.ReasonLowConfidence)
}

// Scenario: a single-page image upload does not take the SPLIT branch and
// is saved as one record (the pipeline-level recursive-split path needs a
// real multi-page PDF fixture; splitter.Split is covered at the splitter
// package level).
func TestRunSingleChildSplitSkippedForSinglePageDocument(t *testing.T) {
	objects := newFakeObjectStore()
	records := newFakeRecordStore()
	auditRepo := &fakeAuditRepo{}
	runner := newTestRunner(objects, records, auditRepo)

	req := model.UploadRequest{FileBytes: []byte(wellFormedSubmission), Filename: "submission.jpg", OwnerID: "owner-4"}

	rec, err := runner.Run(context.Background(), req, "job-4")

	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, rec.Status)
	assert.Contains(t, records.saved, rec.SubmissionID)
}

// With artifact persistence enabled, every per-stage artifact lands
// under the submission's object-store prefix alongside the original.
func TestRunPersistsStageArtifactsWhenEnabled(t *testing.T) {
	objects := newFakeObjectStore()
	records := newFakeRecordStore()
	auditRepo := &fakeAuditRepo{}
	runner := newTestRunner(objects, records, auditRepo)
	runner.PersistArtifacts = true

	req := model.UploadRequest{FileBytes: []byte(wellFormedSubmission), Filename: "submission.jpg", OwnerID: "owner-6"}

	rec, err := runner.Run(context.Background(), req, "job-6")

	require.NoError(t, err)
	prefix := "owner-6/" + rec.SubmissionID + "/"
	for _, name := range []string{"original.jpg", "ocr.json", "raw_text.txt", "structured.json", "validation.json", "audit_trace.json"} {
		assert.Contains(t, objects.put, prefix+name)
	}
}

// Without the flag, only the original upload is written.
func TestRunSkipsStageArtifactsByDefault(t *testing.T) {
	objects := newFakeObjectStore()
	records := newFakeRecordStore()
	auditRepo := &fakeAuditRepo{}
	runner := newTestRunner(objects, records, auditRepo)

	req := model.UploadRequest{FileBytes: []byte(wellFormedSubmission), Filename: "submission.jpg", OwnerID: "owner-7"}

	rec, err := runner.Run(context.Background(), req, "job-7")

	require.NoError(t, err)
	assert.Len(t, objects.put, 1)
	assert.Contains(t, objects.put, "owner-7/"+rec.SubmissionID+"/original.jpg")
}

// Scenario D: the same bytes enqueued twice short-circuit on the second
// run - the idempotency probe returns the existing record, emits
// DUPLICATE_SKIPPED, and never re-invokes OCR or the LLM.
func TestRunDuplicateUploadSkipsReprocessing(t *testing.T) {
	objects := newFakeObjectStore()
	records := newFakeRecordStore()
	auditRepo := &fakeAuditRepo{}
	runner := newTestRunner(objects, records, auditRepo)

	req := model.UploadRequest{FileBytes: []byte(wellFormedSubmission), Filename: "submission.jpg", OwnerID: "owner-5"}

	first, err := runner.Run(context.Background(), req, "job-5a")
	require.NoError(t, err)

	runner.OCR = ocr.Capability(&ocr.StubOCR{Fail: true})
	eventsBefore := len(auditRepo.events)

	second, err := runner.Run(context.Background(), req, "job-5b")
	require.NoError(t, err)

	assert.Equal(t, first.SubmissionID, second.SubmissionID)
	assert.False(t, second.OCRFailed, "duplicate probe must short-circuit before the OCR call that would now fail")

	var sawDuplicate bool
	for _, e := range auditRepo.events[eventsBefore:] {
		if e.EventType == model.EventDuplicateSkipped {
			sawDuplicate = true
		}
	}
	assert.True(t, sawDuplicate, "expected a DUPLICATE_SKIPPED event on the second run")
}
