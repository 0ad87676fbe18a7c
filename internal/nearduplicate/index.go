package nearduplicate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/essaycontest/submitproc/internal/model"
)

// pointNamespace is a fixed namespace UUID so a submission's Qdrant
// point ID is a deterministic function of its submission_id (a 12-hex
// content hash or a "_pN"/"_eN"-suffixed child ID, neither of which is
// itself an RFC4122 UUID) rather than a randomly generated one -
// reprocessing the same submission must always upsert the same point.
var pointNamespace = uuid.MustParse("6f1b2c3d-6a4e-4e7b-9f1a-8f2c2e9d6a10")

// pointIDFor derives a stable UUID point ID from a submission_id.
func pointIDFor(submissionID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(submissionID)).String()
}

// Index wraps a Qdrant collection of essay-text embeddings. It is an
// advisory side-index: it is never in the write path for the
// authoritative submission record and its unavailability never blocks
// pipeline progress.
type Index struct {
	points     qdrant.PointsClient
	collection qdrant.CollectionsClient
	conn       *grpc.ClientConn
	name       string
}

func NewIndex(address, collectionName string) (*Index, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	idx := &Index{
		points:     qdrant.NewPointsClient(conn),
		collection: qdrant.NewCollectionsClient(conn),
		conn:       conn,
		name:       collectionName,
	}

	if err := idx.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure near-duplicate collection: %w", err)
	}

	return idx, nil
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	listResp, err := idx.collection.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, col := range listResp.Collections {
		if col.Name == idx.name {
			return nil
		}
	}

	_, err = idx.collection.Create(ctx, &qdrant.CreateCollection{
		CollectionName: idx.name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     embeddingDimensions,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert indexes a submission's essay-text embedding, keyed by a
// deterministic UUID derived from its submission_id (Qdrant's UUID
// point-ID variant requires RFC4122 form, which a content-hash
// submission_id is not), with the owning student's owner_id carried in
// the payload so a later search can be scoped to one owner.
func (idx *Index) Upsert(ctx context.Context, ownerID, submissionID string, embedding []float32) error {
	if len(embedding) != embeddingDimensions {
		return fmt.Errorf("invalid embedding dimensions: expected %d, got %d", embeddingDimensions, len(embedding))
	}

	point := &qdrant.PointStruct{
		Id: &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Uuid{Uuid: pointIDFor(submissionID)},
		},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{Data: embedding},
			},
		},
		Payload: map[string]*qdrant.Value{
			"submission_id": {Kind: &qdrant.Value_StringValue{StringValue: submissionID}},
			"owner_id":      {Kind: &qdrant.Value_StringValue{StringValue: ownerID}},
		},
	}

	_, err := idx.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.name,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert near-duplicate embedding: %w", err)
	}
	return nil
}

// SearchNeighbors returns candidate submissions owned by ownerID whose
// embeddings are closest to the query vector, regardless of threshold -
// the caller applies the similarity cutoff. Matches are filtered to the
// same owner server-side; near-duplicate detection never compares
// essays across different students.
func (idx *Index) SearchNeighbors(ctx context.Context, ownerID string, queryEmbedding []float32, limit int) ([]model.NearDuplicateMatch, error) {
	if len(queryEmbedding) != embeddingDimensions {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", embeddingDimensions, len(queryEmbedding))
	}
	if limit <= 0 {
		limit = 3
	}

	results, err := idx.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: idx.name,
		Vector:         queryEmbedding,
		Limit:          uint64(limit),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				{
					ConditionOneOf: &qdrant.Condition_Field{
						Field: &qdrant.FieldCondition{
							Key: "owner_id",
							Match: &qdrant.Match{
								MatchValue: &qdrant.Match_Keyword{Keyword: ownerID},
							},
						},
					},
				},
			},
		},
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search near-duplicate index: %w", err)
	}

	matches := make([]model.NearDuplicateMatch, 0, len(results.Result))
	for _, r := range results.Result {
		candidateID := ""
		if r.Payload != nil {
			if v, ok := r.Payload["submission_id"]; ok {
				candidateID = v.GetStringValue()
			}
		}
		matches = append(matches, model.NearDuplicateMatch{
			CandidateID: candidateID,
			Similarity:  float64(r.Score),
		})
	}
	return matches, nil
}

func (idx *Index) Close() error {
	if idx.conn != nil {
		return idx.conn.Close()
	}
	return nil
}
