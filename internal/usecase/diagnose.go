package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"clinrag/internal/domain"
	"clinrag/internal/port"
)

const (
	MinDiagnoses     = 1
	MaxDiagnoses     = 10
	DefaultDiagnoses = 3
)

// DiagnoseOptions configures the diagnose use case.
type DiagnoseOptions struct {
	CandidateCount int
	RankTimeout    time.Duration
	Logger         *zap.Logger
}

// DiagnoseUseCase retrieves candidate protocols for a symptom description
// and asks the ranker for an explained short list.
type DiagnoseUseCase struct {
	retriever port.Retriever
	ranker    port.Ranker
	opts      DiagnoseOptions
	logger    *zap.Logger
}

// NewDiagnoseUseCase creates a new diagnose use case.
func NewDiagnoseUseCase(retriever port.Retriever, ranker port.Ranker, opts DiagnoseOptions) *DiagnoseUseCase {
	if opts.CandidateCount < 1 {
		opts.CandidateCount = 8
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiagnoseUseCase{
		retriever: retriever,
		ranker:    ranker,
		opts:      opts,
		logger:    logger,
	}
}

// ClampTopK bounds a requested diagnosis count to [MinDiagnoses, MaxDiagnoses].
func ClampTopK(k int) int {
	return max(MinDiagnoses, min(MaxDiagnoses, k))
}

// Diagnose returns up to topK ranked diagnoses. Blank symptoms give an
// empty list. A ranker timeout is returned as ErrTimeout; any other ranker
// failure gives an empty list.
func (u *DiagnoseUseCase) Diagnose(ctx context.Context, symptoms string, topK int) ([]domain.Diagnosis, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return []domain.Diagnosis{}, nil
	}
	topK = ClampTopK(topK)

	candidates, err := u.retriever.Retrieve(ctx, symptoms, u.opts.CandidateCount)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []domain.Diagnosis{}, nil
	}

	rankCtx, cancel := withTimeout(ctx, u.opts.RankTimeout)
	defer cancel()

	start := time.Now()
	diagnoses, err := u.ranker.Rank(rankCtx, symptoms, candidates, topK)
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) || errors.Is(rankCtx.Err(), context.DeadlineExceeded) {
			if !errors.Is(err, domain.ErrTimeout) {
				err = fmt.Errorf("%w: %v", domain.ErrTimeout, err)
			}
			return nil, err
		}
		u.logger.Warn("ranker failed, returning no diagnoses",
			zap.String("model", u.ranker.ModelName()),
			zap.Error(err),
		)
		return []domain.Diagnosis{}, nil
	}
	if diagnoses == nil {
		diagnoses = []domain.Diagnosis{}
	}

	u.logger.Info("diagnosed",
		zap.Int("candidates", len(candidates)),
		zap.Int("diagnoses", len(diagnoses)),
		zap.Duration("rank_took", time.Since(start)),
	)
	return diagnoses, nil
}
