// Package nearduplicate implements the advisory near-duplicate
// enrichment: an embedding of each submission's essay text is indexed
// in Qdrant and searched for close neighbors.
// A match above the configured similarity threshold only ever adds
// POSSIBLE_DUPLICATE to a record's review reason codes - it never
// gates approval and never replaces the exact-hash idempotency probe
// the pipeline runner performs before any stage starts.
package nearduplicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/essaycontest/submitproc/internal/logging"
)

// EmbeddingClient generates essay-text embeddings for the near-duplicate
// index, grounded on the VoyageAI voyage-3 client shape.
type EmbeddingClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

type voyageEmbeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type voyageEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func NewEmbeddingClient(apiKey string, logger *logging.Logger) (*EmbeddingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	return &EmbeddingClient{
		apiKey:  apiKey,
		baseURL: "https://api.voyageai.com/v1/embeddings",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

const embeddingDimensions = 1024
const embeddingMaxChars = 16000

// Embed produces a fixed-dimension embedding for essay text, truncated
// to the provider's approximate token limit.
func (e *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	if len(text) > embeddingMaxChars {
		text = text[:embeddingMaxChars]
	}

	jsonData, err := json.Marshal(voyageEmbeddingRequest{Input: text, Model: "voyage-3"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.apiKey))

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed voyageEmbeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}

	embedding := parsed.Data[0].Embedding
	if len(embedding) != embeddingDimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, expected %d", len(embedding), embeddingDimensions)
	}
	if e.logger != nil {
		e.logger.Debug("embedding generated", "dimensions", len(embedding), "tokens", parsed.Usage.TotalTokens)
	}
	return embedding, nil
}
