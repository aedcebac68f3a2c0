package cli

import (
	"context"
	"fmt"

	"clinrag/internal/adapter/embedding"
	"clinrag/internal/adapter/ranker"
	"clinrag/internal/usecase"
)

// loadPipeline opens the configured artifact and prepares it for queries.
func loadPipeline(ctx context.Context, path string) (*usecase.Pipeline, error) {
	if path == "" {
		path = resolve(cfg.Artifact.Path)
	}
	p, err := usecase.FromArtifact(ctx, path, embedding.NewFactory(cfg.Encoder), usecase.PipelineOptions{
		EncodeTimeout: cfg.Encoder.Timeout,
		CacheSize:     cfg.Encoder.CacheSize,
		CacheTTL:      cfg.Encoder.CacheTTL,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact (run 'clinrag build' first?): %w", err)
	}
	return p, nil
}

// newDiagnoseUseCase wires retrieval to the configured ranking model.
func newDiagnoseUseCase(p *usecase.Pipeline) (*usecase.DiagnoseUseCase, error) {
	r, err := ranker.NewOpenAIRanker(ranker.Config{
		APIKeyEnv:       cfg.Ranker.APIKeyEnv,
		BaseURL:         cfg.Ranker.BaseURL,
		Model:           cfg.Ranker.Model,
		Temperature:     cfg.Ranker.Temperature,
		MaxContextChars: cfg.Ranker.MaxContextChars,
		Timeout:         cfg.Ranker.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return usecase.NewDiagnoseUseCase(p, r, usecase.DiagnoseOptions{
		CandidateCount: cfg.Ranker.CandidateCount,
		RankTimeout:    cfg.Ranker.Timeout,
		Logger:         logger,
	}), nil
}
