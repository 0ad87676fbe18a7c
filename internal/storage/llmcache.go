package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/essaycontest/submitproc/internal/model"
)

// LLMCacheRepository satisfies extractor.ResponseCache: the
// (prompt_hash, input_hash) -> response cache so a retried run over
// identical input never re-calls the model.
type LLMCacheRepository struct {
	db *DB
}

func NewLLMCacheRepository(db *DB) *LLMCacheRepository {
	return &LLMCacheRepository{db: db}
}

func (c *LLMCacheRepository) Get(ctx context.Context, promptHash, inputHash string) (*model.ExtractedFields, string, bool, error) {
	row := c.db.conn.QueryRowContext(ctx, `
		SELECT response, doc_type FROM llm_cache WHERE prompt_hash = $1 AND input_hash = $2
	`, promptHash, inputHash)

	var responseJSON []byte
	var docType string
	if err := row.Scan(&responseJSON, &docType); err != nil {
		if err == sql.ErrNoRows {
			return nil, "", false, nil
		}
		return nil, "", false, fmt.Errorf("failed to read LLM cache: %w", err)
	}

	var fields model.ExtractedFields
	if err := json.Unmarshal(responseJSON, &fields); err != nil {
		return nil, "", false, fmt.Errorf("failed to unmarshal cached LLM response: %w", err)
	}
	return &fields, docType, true, nil
}

func (c *LLMCacheRepository) Put(ctx context.Context, promptHash, inputHash string, fields model.ExtractedFields, docType string) error {
	responseJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal LLM response for cache: %w", err)
	}
	responseJSON = sanitizeJSONForPostgres(responseJSON)

	_, err = c.db.conn.ExecContext(ctx, `
		INSERT INTO llm_cache (prompt_hash, input_hash, response, doc_type, created_at)
		VALUES ($1, $2, $3::jsonb, $4, NOW())
		ON CONFLICT (prompt_hash, input_hash) DO NOTHING
	`, promptHash, inputHash, string(responseJSON), docType)
	if err != nil {
		return fmt.Errorf("failed to write LLM cache: %w", err)
	}
	return nil
}
