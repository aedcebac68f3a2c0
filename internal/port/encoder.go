package port

import (
	"context"

	"clinrag/internal/domain"
)

// Encoder turns text into fixed-length vectors.
type Encoder interface {
	// Encode returns one vector per input text, in input order.
	// The vector for a given text does not depend on which other texts
	// share its call.
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// Descriptor identifies the encoder. EmbeddingDim may be zero when the
	// dimension is only known after the first call.
	Descriptor() domain.EncoderDescriptor
}

// EncoderFactory constructs the encoder an artifact describes.
type EncoderFactory interface {
	FromDescriptor(desc domain.EncoderDescriptor) (Encoder, error)
}
