package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"clinrag/internal/adapter/artifact"
	"clinrag/internal/adapter/cache"
	"clinrag/internal/adapter/index"
	"clinrag/internal/domain"
	"clinrag/internal/port"
)

const probeText = "probe"

// PipelineOptions configures a loaded retrieval pipeline.
type PipelineOptions struct {
	// EncodeTimeout bounds query encoding. Zero means no bound beyond ctx.
	EncodeTimeout time.Duration
	// CacheSize > 0 enables the query-vector cache.
	CacheSize int
	CacheTTL  time.Duration
	Logger    *zap.Logger
}

// Pipeline answers retrieval queries against one loaded artifact.
// All state is immutable after FromArtifact returns, so Retrieve is safe
// for concurrent use.
type Pipeline struct {
	artifact *domain.Artifact
	encoder  port.Encoder
	index    *index.Index
	opts     PipelineOptions
	logger   *zap.Logger
	ready    atomic.Bool
}

var _ port.Retriever = (*Pipeline)(nil)

// FromArtifact loads the artifact at path and prepares it for queries.
// The encoder is built from the artifact's own descriptor and probed once;
// a dimension disagreement is reported as ErrEncoderMismatch before the
// pipeline becomes ready.
func FromArtifact(ctx context.Context, path string, factory port.EncoderFactory, opts PipelineOptions) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a, err := artifact.Read(path)
	if err != nil {
		return nil, err
	}

	enc, err := factory.FromDescriptor(a.Encoder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoderMismatch, err)
	}

	probeCtx, cancel := withTimeout(ctx, opts.EncodeTimeout)
	defer cancel()
	probe, err := enc.Encode(probeCtx, []string{probeText})
	if err != nil {
		return nil, encodeError(probeCtx, err)
	}
	if len(probe) != 1 || len(probe[0]) != a.Encoder.EmbeddingDim {
		got := 0
		if len(probe) > 0 {
			got = len(probe[0])
		}
		return nil, fmt.Errorf("%w: encoder %s produces dimension %d, artifact has %d",
			domain.ErrEncoderMismatch, a.Encoder.ModelDirOrName, got, a.Encoder.EmbeddingDim)
	}

	ix, err := index.New(a.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactInconsistent, err)
	}

	if opts.CacheSize > 0 {
		enc = cache.NewCachedEncoder(enc, cache.NewVectorCache(opts.CacheSize, opts.CacheTTL))
	}

	p := &Pipeline{
		artifact: a,
		encoder:  enc,
		index:    ix,
		opts:     opts,
		logger:   logger,
	}
	p.ready.Store(true)

	logger.Info("artifact loaded",
		zap.String("path", path),
		zap.Int("protocols", a.ProtocolCount),
		zap.Int("dim", a.Embeddings.Dim),
		zap.String("encoder", a.Encoder.Type+"/"+a.Encoder.ModelDirOrName),
		zap.Time("created_at", a.CreatedAt),
	)
	return p, nil
}

// Retrieve returns up to k records most similar to query, best first.
// k is clamped to [1, Size()]. A blank query yields an empty result.
func (p *Pipeline) Retrieve(ctx context.Context, query string, k int) ([]domain.ScoredRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.ScoredRecord{}, nil
	}

	encCtx, cancel := withTimeout(ctx, p.opts.EncodeTimeout)
	defer cancel()

	start := time.Now()
	vecs, err := p.encoder.Encode(encCtx, []string{query})
	if err != nil {
		return nil, encodeError(encCtx, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", domain.ErrEncoderUnavailable, len(vecs))
	}

	hits, err := p.index.Search(vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoderUnavailable, err)
	}

	results := make([]domain.ScoredRecord, len(hits))
	for i, h := range hits {
		rec := p.artifact.Protocols[h.Row]
		results[i] = domain.ScoredRecord{
			Score:      h.Score,
			ProtocolID: rec.ProtocolID,
			Title:      rec.Title,
			ICDCodes:   slices.Clone(rec.ICDCodes),
			Text:       rec.Text,
		}
	}

	p.logger.Debug("retrieved",
		zap.Int("k", k),
		zap.Int("hits", len(results)),
		zap.Duration("took", time.Since(start)),
	)
	return results, nil
}

// Ready reports whether the pipeline finished initialization.
func (p *Pipeline) Ready() bool {
	return p != nil && p.ready.Load()
}

// Descriptor returns the encoder descriptor stored in the artifact.
func (p *Pipeline) Descriptor() domain.EncoderDescriptor {
	return p.artifact.Encoder
}

// Size returns the number of protocols in the loaded artifact.
func (p *Pipeline) Size() int {
	return p.index.Size()
}

// CreatedAt returns the artifact build time.
func (p *Pipeline) CreatedAt() time.Time {
	return p.artifact.CreatedAt
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func encodeError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: encoding query: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrEncoderUnavailable, err)
}
