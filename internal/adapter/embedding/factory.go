package embedding

import (
	"fmt"
	"time"

	"clinrag/config"
	"clinrag/internal/domain"
	"clinrag/internal/port"
)

// Factory builds encoders from configuration or from an artifact's
// descriptor. Secrets and endpoints come from configuration; model
// identity always comes from the descriptor when one is given.
type Factory struct {
	APIKeyEnv string
	BaseURL   string
	Timeout   time.Duration
}

// NewFactory creates a factory from encoder configuration.
func NewFactory(cfg config.EncoderConfig) *Factory {
	return &Factory{
		APIKeyEnv: cfg.APIKeyEnv,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
	}
}

// New creates the encoder selected by configuration, for building artifacts.
// Construction failures are reported as domain.ErrEncoderUnavailable.
func New(cfg config.EncoderConfig) (port.Encoder, error) {
	enc, err := newFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoderUnavailable, err)
	}
	return enc, nil
}

func newFromConfig(cfg config.EncoderConfig) (port.Encoder, error) {
	switch cfg.Type {
	case hashingType:
		return NewHashingEncoder(cfg.Model, cfg.NGram, cfg.Dimension)
	case openAIType:
		return NewOpenAIEncoder(OpenAIConfig{
			APIKeyEnv: cfg.APIKeyEnv,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported encoder type: %s", cfg.Type)
	}
}

// FromDescriptor implements port.EncoderFactory.
func (f *Factory) FromDescriptor(desc domain.EncoderDescriptor) (port.Encoder, error) {
	switch desc.Type {
	case hashingType:
		model, n, err := parseHashingModelName(desc.ModelDirOrName)
		if err != nil {
			return nil, err
		}
		return NewHashingEncoder(model, n, desc.EmbeddingDim)
	case openAIType:
		if desc.LocalOnly {
			return nil, fmt.Errorf("encoder %q is remote but the artifact requires a local-only encoder", desc.ModelDirOrName)
		}
		return NewOpenAIEncoder(OpenAIConfig{
			APIKeyEnv: f.APIKeyEnv,
			BaseURL:   f.BaseURL,
			Model:     desc.ModelDirOrName,
			Timeout:   f.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported encoder type: %s", desc.Type)
	}
}
