package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/essaycontest/submitproc/internal/model"
)

// JobRepository backs the Job Queue & Worker's claim/retry/stale-sweep
// contract. asynq carries the wire transport; this
// table is the durable source of truth for "who owns this job right
// now" that asynq's own state does not expose directly.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue inserts a new queued job row keyed by jobID, recording the
// content hash of its bytes alongside; the hash is not part of the key.
func (j *JobRepository) Enqueue(ctx context.Context, jobID, contentHash string, payload []byte) error {
	query := `
		INSERT INTO jobs (job_id, content_hash, payload, status, enqueued_at, attempts)
		VALUES ($1, $2, $3, 'queued', NOW(), 0)
	`
	_, err := j.db.conn.ExecContext(ctx, query, jobID, contentHash, payload)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim atomically transitions one queued job to started and returns
// it. Returns ok=false if no job is available - never blocks.
func (j *JobRepository) Claim(ctx context.Context) (*model.Job, bool, error) {
	tx, err := j.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT job_id, payload, enqueued_at, attempts
		FROM jobs
		WHERE status = 'queued'
		ORDER BY enqueued_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)

	var job model.Job
	var payload []byte
	if err := row.Scan(&job.JobID, &payload, &job.EnqueuedAt, &job.Attempts); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to scan claimable job: %w", err)
	}
	job.Payload = payload
	job.Status = model.JobStatusStarted

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'started', claimed_at = NOW() WHERE job_id = $1
	`, job.JobID); err != nil {
		return nil, false, fmt.Errorf("failed to mark job started: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit claim: %w", err)
	}
	now := time.Now()
	job.ClaimedAt = &now
	return &job, true, nil
}

// ClaimByID atomically transitions the single job row matching jobID
// from queued to started. Unlike Claim, which pops the oldest queued
// row without regard to identity, this is what the asynq handler needs:
// asynq has already dequeued a specific task (its ID is the jobID this
// job was enqueued under), so the claim must land on that same row, not
// on whatever else happens to be queued. Returns ok=false if the row
// was not in queued state - already claimed, reclaimed by a stale
// sweep under a different run, or the sweeper got to it first.
func (j *JobRepository) ClaimByID(ctx context.Context, jobID string) (bool, error) {
	res, err := j.db.conn.ExecContext(ctx, `
		UPDATE jobs SET status = 'started', claimed_at = NOW()
		WHERE job_id = $1 AND status = 'queued'
	`, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for job %s: %w", jobID, err)
	}
	return n == 1, nil
}

// Finish marks a started job finished with its terminal outcome.
func (j *JobRepository) Finish(ctx context.Context, jobID string, outcome map[string]interface{}) error {
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal job outcome: %w", err)
	}
	outcomeJSON = sanitizeJSONForPostgres(outcomeJSON)

	_, err = j.db.conn.ExecContext(ctx, `
		UPDATE jobs SET status = 'finished', outcome = $2::jsonb WHERE job_id = $1
	`, jobID, string(outcomeJSON))
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// RetryBackoff returns the exponential backoff (base 2s, capped 60s)
// for a job about to be retried after attempts prior failures.
func RetryBackoff(attempts int) time.Duration {
	d := time.Duration(1<<uint(attempts)) * 2 * time.Second
	if d > 60*time.Second {
		return 60 * time.Second
	}
	return d
}

// FailAndMaybeRetry records a failed attempt. A job is retried exactly
// once: on the first failure it goes back to queued after the backoff
// delay; on the second it is marked permanently failed. The decision
// branches on the row's own attempts column, so the caller cannot
// accidentally grant extra retries.
func (j *JobRepository) FailAndMaybeRetry(ctx context.Context, jobID string, outcome map[string]interface{}) (retried bool, err error) {
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job outcome: %w", err)
	}
	outcomeJSON = sanitizeJSONForPostgres(outcomeJSON)

	res, err := j.db.conn.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'queued', attempts = attempts + 1, claimed_at = NULL, outcome = $2::jsonb
		WHERE job_id = $1 AND attempts < 1
	`, jobID, string(outcomeJSON))
	if err != nil {
		return false, fmt.Errorf("failed to requeue job for retry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return true, nil
	}

	_, err = j.db.conn.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', attempts = attempts + 1, outcome = $2::jsonb WHERE job_id = $1
	`, jobID, string(outcomeJSON))
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}
	return false, nil
}

// SweepStale reclaims jobs that have sat in started past jobTimeout -
// evidence of a crashed worker - back to queued for a fresh claim.
func (j *JobRepository) SweepStale(ctx context.Context, jobTimeout time.Duration) (int64, error) {
	res, err := j.db.conn.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'queued', claimed_at = NULL
		WHERE status = 'started' AND claimed_at < NOW() - $1::interval
	`, jobTimeout.String())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	return res.RowsAffected()
}

