package nearduplicate

import (
	"context"

	"github.com/essaycontest/submitproc/internal/logging"
	"github.com/essaycontest/submitproc/internal/model"
)

// Enricher computes near-duplicate matches for a submission's essay
// text and then indexes it for future comparisons. Any failure here is
// logged and swallowed - this capability is advisory only, so it must
// never fail a run the way an OCR or extraction error does.
type Enricher struct {
	embed  *EmbeddingClient
	index  *Index
	logger *logging.Logger
}

func NewEnricher(embed *EmbeddingClient, index *Index, logger *logging.Logger) *Enricher {
	return &Enricher{embed: embed, index: index, logger: logger}
}

// neighborLimit is the "top-3 most similar prior submissions by the
// same owner" the near-duplicate enrichment searches for.
const neighborLimit = 3

// Check searches for near-duplicate essay text among the same owner's
// prior submissions, then upserts this submission's own embedding so
// later submissions can find it. It never returns an error: a
// capability outage degrades to "no matches found", not a pipeline
// failure.
func (en *Enricher) Check(ctx context.Context, ownerID, submissionID, essayText string) []model.NearDuplicateMatch {
	if en == nil || en.embed == nil || en.index == nil || essayText == "" {
		return nil
	}

	embedding, err := en.embed.Embed(ctx, essayText)
	if err != nil {
		if en.logger != nil {
			en.logger.Warn("near-duplicate embedding failed", "submission_id", submissionID, "error", err)
		}
		return nil
	}

	matches, err := en.index.SearchNeighbors(ctx, ownerID, embedding, neighborLimit)
	if err != nil {
		if en.logger != nil {
			en.logger.Warn("near-duplicate search failed", "submission_id", submissionID, "error", err)
		}
		matches = nil
	}

	out := make([]model.NearDuplicateMatch, 0, len(matches))
	for _, m := range matches {
		if m.CandidateID == submissionID {
			continue
		}
		m.SubmissionID = submissionID
		out = append(out, m)
	}

	if err := en.index.Upsert(ctx, ownerID, submissionID, embedding); err != nil {
		if en.logger != nil {
			en.logger.Warn("near-duplicate upsert failed", "submission_id", submissionID, "error", err)
		}
	}

	return out
}
