package port

import (
	"context"

	"clinrag/internal/domain"
)

// Retriever searches the loaded corpus.
type Retriever interface {
	// Retrieve returns up to k records ranked best-first.
	Retrieve(ctx context.Context, query string, k int) ([]domain.ScoredRecord, error)
}
