package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/essaycontest/submitproc/internal/model"
)

// BatchRepository persists upload batches: one row per bulk upload,
// referenced by SubmissionRecord.upload_batch_id. Reads are owner-scoped
// like every other repository here.
type BatchRepository struct {
	db *DB
}

func NewBatchRepository(db *DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a new batch row and returns its generated ID.
func (b *BatchRepository) Create(ctx context.Context, ownerID string, fileCount int) (string, error) {
	batchID := uuid.NewString()
	_, err := b.db.conn.ExecContext(ctx, `
		INSERT INTO upload_batches (batch_id, owner_id, file_count, created_at)
		VALUES ($1, $2, $3, NOW())
	`, batchID, ownerID, fileCount)
	if err != nil {
		return "", fmt.Errorf("failed to create upload batch: %w", err)
	}
	return batchID, nil
}

// Get returns a batch scoped to ownerID; another owner's batch is
// indistinguishable from a missing one.
func (b *BatchRepository) Get(ctx context.Context, ownerID, batchID string) (*model.UploadBatch, bool, error) {
	row := b.db.conn.QueryRowContext(ctx, `
		SELECT batch_id, owner_id, file_count, created_at
		FROM upload_batches
		WHERE batch_id = $1 AND owner_id = $2
	`, batchID, ownerID)

	var batch model.UploadBatch
	err := row.Scan(&batch.BatchID, &batch.OwnerID, &batch.FileCount, &batch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan upload batch: %w", err)
	}
	return &batch, true, nil
}
