// Package export renders submission records as the frozen CSV contract
// downstream consumers depend on. The header and column order never
// change; only APPROVED records are exported unless the caller
// explicitly asks for the needs-review partition.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/essaycontest/submitproc/internal/model"
)

// Header is the frozen column order of the export contract.
var Header = []string{
	"submission_id", "student_name", "school_name", "grade", "teacher_name",
	"city_or_location", "father_figure_name", "phone", "email", "word_count",
	"ocr_confidence_avg", "needs_review", "review_reason_codes", "filename",
	"pdf_url", "created_at",
}

// RecordLister is the repository surface the exporter needs.
// Implemented by storage.RecordRepository.
type RecordLister interface {
	ListForExport(ctx context.Context, ownerID string, needsReviewPartition bool) ([]model.SubmissionRecord, error)
}

// Exporter streams one owner's export partition as CSV.
type Exporter struct {
	records    RecordLister
	pdfBaseURL string
}

func NewExporter(records RecordLister, pdfBaseURL string) *Exporter {
	return &Exporter{records: records, pdfBaseURL: pdfBaseURL}
}

// WriteCSV writes the header plus one row per record to w and returns
// the number of data rows written.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, ownerID string, needsReviewPartition bool) (int, error) {
	records, err := e.records.ListForExport(ctx, ownerID, needsReviewPartition)
	if err != nil {
		return 0, fmt.Errorf("failed to list export records: %w", err)
	}
	return WriteRecords(w, records, e.pdfBaseURL)
}

// WriteRecords renders the given records against the frozen header.
// Split out from WriteCSV so callers holding an already-fetched slice
// (and tests) can render without a repository.
func WriteRecords(w io.Writer, records []model.SubmissionRecord, pdfBaseURL string) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range records {
		if err := cw.Write(row(&records[i], pdfBaseURL)); err != nil {
			return 0, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return len(records), nil
}

func row(rec *model.SubmissionRecord, pdfBaseURL string) []string {
	return []string{
		rec.SubmissionID,
		deref(rec.ExtractedFields.StudentName),
		deref(rec.ExtractedFields.SchoolName),
		deref(rec.ExtractedFields.Grade),
		deref(rec.ExtractedFields.TeacherName),
		deref(rec.ExtractedFields.CityOrLocation),
		deref(rec.ExtractedFields.FatherFigureName),
		deref(rec.ExtractedFields.Phone),
		deref(rec.ExtractedFields.Email),
		strconv.Itoa(rec.WordCount),
		strconv.FormatFloat(rec.OCRConfidenceAvg, 'f', 4, 64),
		strconv.FormatBool(rec.NeedsReview),
		model.JoinReasonCodes(rec.ReviewReasonCodes),
		rec.Filename,
		pdfURL(pdfBaseURL, rec.StoragePath),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func pdfURL(base, storagePath string) string {
	if storagePath == "" {
		return ""
	}
	if base == "" {
		return storagePath
	}
	return base + "/" + storagePath
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
