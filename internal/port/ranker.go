package port

import (
	"context"

	"clinrag/internal/domain"
)

// Ranker selects and explains a short list of diagnoses from retrieved
// candidates. Implementations wrap unreliable text generation.
type Ranker interface {
	// Rank returns at most topK diagnoses, ranked densely from 1.
	Rank(ctx context.Context, query string, candidates []domain.ScoredRecord, topK int) ([]domain.Diagnosis, error)

	// ModelName returns the name of the ranking model.
	ModelName() string
}
