/**
 * PostgreSQL-backed Persistence Repositories for the submission
 * processing core.
 *
 * Tables (DDL lives with operator migrations, not in this package):
 *   submissions(submission_id PK, owner_id, ...)
 *   audit_traces(submission_id PK, owner_id, ...)
 *   audit_events(id PK, submission_id, event_type, payload, created_at)
 *   jobs(job_id PK, content_hash, payload, status, enqueued_at, claimed_at, attempts, outcome)
 *   upload_batches(batch_id PK, owner_id, file_count, created_at)
 *   llm_cache(prompt_hash, input_hash, response, doc_type, PRIMARY KEY(prompt_hash, input_hash))
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"

	"github.com/essaycontest/submitproc/internal/model"
)

// sanitizeConfidence rounds confidence to 4 decimal places and clamps to
// [0,1] to avoid PostgreSQL float-precision casting errors (e.g.
// 0.9632000000000001).
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

var nullEscapePattern = regexp.MustCompile(`\\u0000`)
var controlEscapePattern = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)

// sanitizeJSONForPostgres strips null bytes and other control-character
// escapes that JSONB rejects before an insert.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscapePattern.ReplaceAll(jsonBytes, []byte{})
	result = controlEscapePattern.ReplaceAll(result, []byte(" "))
	return result
}

// DB wraps the shared connection pool used by every repository below.
type DB struct {
	conn *sql.DB
}

// NewDB opens and pings the pool with conservative pooling defaults.
func NewDB(databaseURL string) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)
	conn.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// RecordRepository is the SubmissionRecord CRUD surface. Every method
// that reads is scoped by owner_id; SystemGetByID is the only exception,
// reserved for the worker's idempotency probe, which runs with
// privileged credentials that bypass user-scoped access rules.
type RecordRepository struct {
	db *DB
}

func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Upsert inserts or updates a SubmissionRecord by submission_id.
func (r *RecordRepository) Upsert(ctx context.Context, rec *model.SubmissionRecord) error {
	fieldsJSON, err := json.Marshal(rec.ExtractedFields)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted fields: %w", err)
	}
	fieldsJSON = sanitizeJSONForPostgres(fieldsJSON)

	query := `
		INSERT INTO submissions (
			submission_id, owner_id, upload_batch_id, parent_submission_id,
			child_index, multi_entry_source, filename, doc_class, doc_format,
			extracted_fields, word_count, ocr_confidence_avg, ocr_failed,
			needs_review, status, review_reason_codes, storage_path,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11,
			$12::NUMERIC(5,4), $13, $14, $15, $16, $17, NOW(), NOW()
		)
		ON CONFLICT (submission_id) DO UPDATE SET
			doc_class = EXCLUDED.doc_class,
			doc_format = EXCLUDED.doc_format,
			extracted_fields = EXCLUDED.extracted_fields,
			word_count = EXCLUDED.word_count,
			ocr_confidence_avg = EXCLUDED.ocr_confidence_avg,
			ocr_failed = EXCLUDED.ocr_failed,
			needs_review = EXCLUDED.needs_review,
			status = EXCLUDED.status,
			review_reason_codes = EXCLUDED.review_reason_codes,
			storage_path = COALESCE(NULLIF(EXCLUDED.storage_path, ''), submissions.storage_path),
			updated_at = NOW()
	`
	_, err = r.db.conn.ExecContext(ctx, query,
		rec.SubmissionID, rec.OwnerID, rec.UploadBatchID, rec.ParentSubmissionID,
		rec.ChildIndex, rec.MultiEntrySource, rec.Filename, string(rec.DocClass), string(rec.DocFormat),
		string(fieldsJSON), rec.WordCount, sanitizeConfidence(rec.OCRConfidenceAvg), rec.OCRFailed,
		rec.NeedsReview, string(rec.Status), model.JoinReasonCodes(rec.ReviewReasonCodes), rec.StoragePath,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert submission record: %w", err)
	}
	return nil
}

// GetByID returns a record scoped to ownerID; a record owned by another
// user is indistinguishable from a missing one.
func (r *RecordRepository) GetByID(ctx context.Context, ownerID, submissionID string) (*model.SubmissionRecord, bool, error) {
	return r.scan(ctx, "WHERE submission_id = $1 AND owner_id = $2", submissionID, ownerID)
}

// SystemGetByID bypasses ownership scoping for the worker's idempotency
// probe.
func (r *RecordRepository) SystemGetByID(ctx context.Context, submissionID string) (*model.SubmissionRecord, bool, error) {
	return r.scan(ctx, "WHERE submission_id = $1", submissionID)
}

const recordColumns = `submission_id, owner_id, upload_batch_id, parent_submission_id,
			child_index, multi_entry_source, filename, doc_class, doc_format,
			extracted_fields, word_count, ocr_confidence_avg, ocr_failed,
			needs_review, status, review_reason_codes, storage_path,
			created_at, updated_at`

// ListForExport returns the CSV-export partition for one owner: the
// APPROVED records by default, or the needs-review partition when the
// caller explicitly asks for it. Ordered by created_at so exports are
// stable across runs.
func (r *RecordRepository) ListForExport(ctx context.Context, ownerID string, needsReviewPartition bool) ([]model.SubmissionRecord, error) {
	where := "WHERE owner_id = $1 AND status = 'APPROVED'"
	if needsReviewPartition {
		where = "WHERE owner_id = $1 AND needs_review = TRUE"
	}
	query := `SELECT ` + recordColumns + ` FROM submissions ` + where + ` ORDER BY created_at ASC`

	rows, err := r.db.conn.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records for export: %w", err)
	}
	defer rows.Close()

	var out []model.SubmissionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate export rows: %w", err)
	}
	return out, nil
}

func (r *RecordRepository) scan(ctx context.Context, whereClause string, args ...interface{}) (*model.SubmissionRecord, bool, error) {
	query := `SELECT ` + recordColumns + ` FROM submissions ` + whereClause

	row := r.db.conn.QueryRowContext(ctx, query, args...)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*model.SubmissionRecord, error) {
	var rec model.SubmissionRecord
	var uploadBatchID, parentID sql.NullString
	var childIndex sql.NullInt64
	var multiEntrySource sql.NullBool
	var docClass, docFormat, status, reasonCodes string
	var fieldsJSON []byte

	err := row.Scan(
		&rec.SubmissionID, &rec.OwnerID, &uploadBatchID, &parentID,
		&childIndex, &multiEntrySource, &rec.Filename, &docClass, &docFormat,
		&fieldsJSON, &rec.WordCount, &rec.OCRConfidenceAvg, &rec.OCRFailed,
		&rec.NeedsReview, &status, &reasonCodes, &rec.StoragePath,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan submission record: %w", err)
	}

	if uploadBatchID.Valid {
		rec.UploadBatchID = &uploadBatchID.String
	}
	if parentID.Valid {
		rec.ParentSubmissionID = &parentID.String
	}
	if childIndex.Valid {
		n := int(childIndex.Int64)
		rec.ChildIndex = &n
	}
	if multiEntrySource.Valid {
		rec.MultiEntrySource = &multiEntrySource.Bool
	}
	rec.DocClass = model.DocClass(docClass)
	rec.DocFormat = model.DocFormat(docFormat)
	rec.Status = model.Status(status)
	rec.ReviewReasonCodes = splitReasonCodes(reasonCodes)

	if err := json.Unmarshal(fieldsJSON, &rec.ExtractedFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extracted fields: %w", err)
	}

	return &rec, nil
}

func splitReasonCodes(s string) []model.ReasonCode {
	if s == "" {
		return nil
	}
	var out []model.ReasonCode
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ';' {
			if i > start {
				out = append(out, model.ReasonCode(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}
