package index

import (
	"fmt"
	"math"
	"sort"

	"clinrag/internal/domain"
)

// normFloor clamps vector norms before division, so a zero vector scores
// exactly 0 instead of NaN.
const normFloor = 1e-12

// Index answers exact top-k cosine queries over an immutable matrix by a
// full linear scan. It holds no mutable state and is safe for concurrent use.
type Index struct {
	matrix domain.EmbeddingMatrix
	norms  []float64
}

// Hit is a scored row of the matrix.
type Hit struct {
	Row   int
	Score float64
}

// New creates an index over matrix. Row norms are computed once here.
func New(matrix domain.EmbeddingMatrix) (*Index, error) {
	if matrix.Rows < 0 || matrix.Dim < 1 {
		return nil, fmt.Errorf("%w: matrix shape %dx%d", domain.ErrInput, matrix.Rows, matrix.Dim)
	}
	if len(matrix.Data) != matrix.Rows*matrix.Dim {
		return nil, fmt.Errorf("%w: matrix has %d values, want %d", domain.ErrInput, len(matrix.Data), matrix.Rows*matrix.Dim)
	}

	norms := make([]float64, matrix.Rows)
	for i := range norms {
		norms[i] = norm(matrix.Row(i))
	}

	return &Index{matrix: matrix, norms: norms}, nil
}

// Size returns the number of rows.
func (ix *Index) Size() int {
	return ix.matrix.Rows
}

// Dim returns the vector dimension.
func (ix *Index) Dim() int {
	return ix.matrix.Dim
}

// Search returns the min(k, N) rows most similar to query, best first.
// k is clamped to [1, N]; equal scores keep ascending row order.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != ix.matrix.Dim {
		return nil, fmt.Errorf("%w: query dimension mismatch: expected %d, got %d", domain.ErrInput, ix.matrix.Dim, len(query))
	}

	n := ix.matrix.Rows
	if n == 0 {
		return nil, nil
	}
	k = ClampK(k, n)

	qNorm := math.Max(norm(query), normFloor)

	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{
			Row:   i,
			Score: dot(ix.matrix.Row(i), query) / (math.Max(ix.norms[i], normFloor) * qNorm),
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Row < hits[j].Row
	})

	return hits[:k], nil
}

// ClampK clamps k into [1, n].
func ClampK(k, n int) int {
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Cosine returns the clamped cosine similarity of two equal-length vectors.
// Vectors of different length score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return dot(a, b) / (math.Max(norm(a), normFloor) * math.Max(norm(b), normFloor))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
