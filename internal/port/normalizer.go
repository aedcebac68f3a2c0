package port

import (
	"io"

	"clinrag/internal/domain"
)

// Normalizer turns a raw corpus stream into protocol records with cleaned text.
type Normalizer interface {
	Normalize(r io.Reader) ([]domain.ProtocolRecord, error)
}
