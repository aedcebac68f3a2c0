package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for clinrag.
type Config struct {
	Corpus   CorpusConfig   `yaml:"corpus"`
	Artifact ArtifactConfig `yaml:"artifact"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Retrieve RetrieveConfig `yaml:"retrieve"`
	Ranker   RankerConfig   `yaml:"ranker"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CorpusConfig holds corpus preparation configuration.
type CorpusConfig struct {
	Input     string `yaml:"input"`
	Processed string `yaml:"processed" validate:"required"`
	// ZipEntry selects the file inside a zip archive (doublestar pattern).
	ZipEntry string `yaml:"zip_entry"`
}

// ArtifactConfig holds artifact file configuration.
type ArtifactConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// EncoderConfig holds embedding encoder configuration.
type EncoderConfig struct {
	Type      string        `yaml:"type" validate:"oneof=hashing openai"`
	Model     string        `yaml:"model" validate:"required"`
	Dimension int           `yaml:"dimension" validate:"gte=1"`
	NGram     int           `yaml:"ngram" validate:"gte=1,lte=8"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	BatchSize int           `yaml:"batch_size" validate:"gte=1"`
	Workers   int           `yaml:"workers" validate:"gte=1"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheSize int           `yaml:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK int `yaml:"top_k" validate:"gte=1"`
}

// RankerConfig holds ranking collaborator configuration.
type RankerConfig struct {
	BaseURL         string        `yaml:"base_url" validate:"required"`
	Model           string        `yaml:"model" validate:"required"`
	APIKeyEnv       string        `yaml:"api_key_env" validate:"required"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	Temperature     float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	CandidateCount  int           `yaml:"candidate_count" validate:"gte=1"`
	MaxContextChars int           `yaml:"max_context_chars" validate:"gte=1"`
	DefaultTopK     int           `yaml:"default_top_k" validate:"gte=1,lte=10"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// Format is "console" or "json".
	Format string `yaml:"format" validate:"oneof=console json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Input:     "data/corpus.json",
			Processed: "data/processed_corpus.jsonl",
			ZipEntry:  "**/*.{json,jsonl,ndjson}",
		},
		Artifact: ArtifactConfig{
			Path: "data/model.db",
		},
		Encoder: EncoderConfig{
			Type:      "hashing",
			Model:     "hashing-ngram-v1",
			Dimension: 1024,
			NGram:     3,
			APIKeyEnv: "OPENAI_API_KEY",
			BatchSize: 64,
			Workers:   4,
			Timeout:   30 * time.Second,
			CacheSize: 256,
			CacheTTL:  10 * time.Minute,
		},
		Retrieve: RetrieveConfig{
			TopK: 5,
		},
		Ranker: RankerConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			APIKeyEnv:       "RANKER_API_KEY",
			Timeout:         60 * time.Second,
			Temperature:     0.1,
			CandidateCount:  8,
			MaxContextChars: 1500,
			DefaultTopK:     3,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for clinrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "clinrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".clinrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ResolvePath makes a relative path absolute against the root directory.
func ResolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
