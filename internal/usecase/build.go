package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"clinrag/internal/adapter/artifact"
	"clinrag/internal/domain"
	"clinrag/internal/port"
)

// BuildOptions tunes artifact construction. BatchSize and Workers only
// affect throughput; the produced matrix is the same for any setting.
type BuildOptions struct {
	BatchSize int
	Workers   int
	// Progress is called after each batch with the number of records encoded.
	Progress func(done, total int)
	// Now stamps CreatedAt. Defaults to time.Now.
	Now func() time.Time
}

// BuildUseCase encodes a normalized corpus into an Artifact.
type BuildUseCase struct {
	encoder port.Encoder
	opts    BuildOptions
}

// NewBuildUseCase creates a new build use case.
func NewBuildUseCase(encoder port.Encoder, opts BuildOptions) *BuildUseCase {
	if opts.BatchSize < 1 {
		opts.BatchSize = 64
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BuildUseCase{encoder: encoder, opts: opts}
}

// Build encodes every record and returns the in-memory artifact. Row i of
// the matrix is the embedding of records[i]. Any encoder failure fails the
// whole build.
func (u *BuildUseCase) Build(ctx context.Context, records []domain.ProtocolRecord) (*domain.Artifact, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: corpus is empty", domain.ErrInput)
	}
	texts := make([]string, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.ProtocolID) == "" {
			return nil, fmt.Errorf("%w: record %d has no protocol_id", domain.ErrInput, i)
		}
		texts[i] = r.Text
	}

	vectors, err := u.encodeAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: encoder produced empty vectors", domain.ErrEncoderUnavailable)
	}
	data := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d has dimension %d, expected %d", domain.ErrEncoderUnavailable, i, len(v), dim)
		}
		data = append(data, v...)
	}

	desc := u.encoder.Descriptor()
	desc.EmbeddingDim = dim

	return &domain.Artifact{
		ArtifactVersion: artifact.CurrentVersion,
		CreatedAt:       u.opts.Now().UTC(),
		Encoder:         desc,
		ProtocolCount:   len(records),
		Protocols:       records,
		Embeddings: domain.EmbeddingMatrix{
			Rows: len(records),
			Dim:  dim,
			Data: data,
		},
	}, nil
}

// Save builds the artifact and writes it atomically to path.
func (u *BuildUseCase) Save(ctx context.Context, path string, records []domain.ProtocolRecord) (*domain.Artifact, error) {
	a, err := u.Build(ctx, records)
	if err != nil {
		return nil, err
	}
	if err := artifact.Write(path, a); err != nil {
		return nil, err
	}
	return a, nil
}

// encodeAll runs batches on a worker pool. Each batch writes into its own
// slot, so output order matches input order regardless of completion order.
func (u *BuildUseCase) encodeAll(ctx context.Context, texts []string) ([][]float32, error) {
	pool, err := ants.NewPool(u.opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(texts))
	total := len(texts)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		done     int
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for start := 0; start < total; start += u.opts.BatchSize {
		end := min(start+u.opts.BatchSize, total)
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		start, end := start, end
		if err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := u.encoder.Encode(ctx, texts[start:end])
			if err != nil {
				fail(fmt.Errorf("%w: batch %d-%d: %v", domain.ErrEncoderUnavailable, start, end, err))
				return
			}
			if len(vecs) != end-start {
				fail(fmt.Errorf("%w: batch %d-%d returned %d vectors", domain.ErrEncoderUnavailable, start, end, len(vecs)))
				return
			}
			copy(out[start:end], vecs)

			mu.Lock()
			done += end - start
			if u.opts.Progress != nil {
				u.opts.Progress(done, total)
			}
			mu.Unlock()
		}); err != nil {
			wg.Done()
			fail(fmt.Errorf("failed to submit batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoderUnavailable, err)
	}
	return out, nil
}
