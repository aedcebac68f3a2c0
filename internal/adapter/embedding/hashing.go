package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"clinrag/internal/adapter/analyzer"
	"clinrag/internal/domain"
	"clinrag/internal/port"
)

const hashingType = "hashing"

// HashingEncoder is a local, deterministic encoder that hashes character
// n-grams of each token into a fixed number of buckets.
type HashingEncoder struct {
	model     string
	ngram     int
	dimension int
	tokenizer *analyzer.Tokenizer
}

var _ port.Encoder = (*HashingEncoder)(nil)

// NewHashingEncoder creates a hashing encoder.
func NewHashingEncoder(model string, ngram, dimension int) (*HashingEncoder, error) {
	if ngram < 1 {
		return nil, fmt.Errorf("ngram must be positive, got %d", ngram)
	}
	if dimension < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &HashingEncoder{
		model:     model,
		ngram:     ngram,
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(),
	}, nil
}

func (e *HashingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.encodeOne(text)
	}
	return vectors, nil
}

func (e *HashingEncoder) encodeOne(text string) []float32 {
	vec := make([]float32, e.dimension)
	h := fnv.New32a()
	for _, token := range e.tokenizer.Tokenize(text) {
		for _, gram := range analyzer.NGrams(token, e.ngram) {
			h.Reset()
			h.Write([]byte(gram))
			vec[h.Sum32()%uint32(e.dimension)]++
		}
	}
	return vec
}

// Descriptor encodes the n-gram size into the model name so a loader can
// rebuild the identical encoder.
func (e *HashingEncoder) Descriptor() domain.EncoderDescriptor {
	return domain.EncoderDescriptor{
		Type:           hashingType,
		ModelDirOrName: hashingModelName(e.model, e.ngram),
		EmbeddingDim:   e.dimension,
		LocalOnly:      true,
	}
}

func hashingModelName(model string, ngram int) string {
	return fmt.Sprintf("%s:n%d", model, ngram)
}

func parseHashingModelName(name string) (string, int, error) {
	i := strings.LastIndex(name, ":n")
	if i < 0 {
		return "", 0, fmt.Errorf("hashing model name %q has no n-gram suffix", name)
	}
	n, err := strconv.Atoi(name[i+2:])
	if err != nil {
		return "", 0, fmt.Errorf("hashing model name %q: %w", name, err)
	}
	return name[:i], n, nil
}
