package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/essaycontest/submitproc/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	approved    []model.SubmissionRecord
	needsReview []model.SubmissionRecord
}

func (f *fakeLister) ListForExport(ctx context.Context, ownerID string, needsReviewPartition bool) ([]model.SubmissionRecord, error) {
	if needsReviewPartition {
		return f.needsReview, nil
	}
	return f.approved, nil
}

func strPtr(s string) *string { return &s }

func approvedRecord() model.SubmissionRecord {
	return model.SubmissionRecord{
		SubmissionID:     "abc123def456",
		OwnerID:          "owner-1",
		Filename:         "essay.pdf",
		Status:           model.StatusApproved,
		WordCount:        412,
		OCRConfidenceAvg: 1.0,
		StoragePath:      "owner-1/abc123def456/original.pdf",
		CreatedAt:        time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		ExtractedFields: model.ExtractedFields{
			StudentName: strPtr("Jordan Altman"),
			SchoolName:  strPtr("Lincoln Middle"),
			Grade:       strPtr("8"),
		},
	}
}

func TestWriteCSVFrozenHeader(t *testing.T) {
	var buf bytes.Buffer
	exp := NewExporter(&fakeLister{}, "")

	n, err := exp.WriteCSV(context.Background(), &buf, "owner-1", false)

	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t,
		"submission_id,student_name,school_name,grade,teacher_name,city_or_location,father_figure_name,phone,email,word_count,ocr_confidence_avg,needs_review,review_reason_codes,filename,pdf_url,created_at",
		strings.TrimRight(buf.String(), "\n"))
}

func TestWriteCSVApprovedPartition(t *testing.T) {
	var buf bytes.Buffer
	exp := NewExporter(&fakeLister{approved: []model.SubmissionRecord{approvedRecord()}}, "https://files.example.com")

	n, err := exp.WriteCSV(context.Background(), &buf, "owner-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	row := rows[1]
	assert.Equal(t, "abc123def456", row[0])
	assert.Equal(t, "Jordan Altman", row[1])
	assert.Equal(t, "Lincoln Middle", row[2])
	assert.Equal(t, "8", row[3])
	assert.Equal(t, "412", row[9])
	assert.Equal(t, "1.0000", row[10])
	assert.Equal(t, "false", row[11])
	assert.Equal(t, "https://files.example.com/owner-1/abc123def456/original.pdf", row[14])
	assert.Equal(t, "2026-03-14T09:30:00Z", row[15])
}

func TestWriteCSVNeedsReviewPartition(t *testing.T) {
	rec := approvedRecord()
	rec.Status = model.StatusPendingReview
	rec.NeedsReview = true
	rec.ReviewReasonCodes = []model.ReasonCode{model.ReasonMissingGrade, model.ReasonShortEssay}

	var buf bytes.Buffer
	exp := NewExporter(&fakeLister{needsReview: []model.SubmissionRecord{rec}}, "")

	n, err := exp.WriteCSV(context.Background(), &buf, "owner-1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "true", rows[1][11])
	assert.Equal(t, "MISSING_GRADE;SHORT_ESSAY", rows[1][12])
}

func TestWriteRecordsNilFieldsRenderEmpty(t *testing.T) {
	rec := approvedRecord()
	rec.ExtractedFields = model.ExtractedFields{}
	rec.StoragePath = ""

	var buf bytes.Buffer
	_, err := WriteRecords(&buf, []model.SubmissionRecord{rec}, "https://files.example.com")
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	row := rows[1]
	assert.Equal(t, "", row[1])
	assert.Equal(t, "", row[14], "no storage path means no pdf_url, base URL or not")
}
