package ranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"clinrag/internal/domain"
	"clinrag/internal/port"
)

const systemPrompt = "You are a clinical coding assistant. " +
	"Return ONLY valid JSON with this schema: " +
	`{"diagnoses":[{"rank":1,"diagnosis":"...","icd10_code":"...","explanation":"..."}]}. ` +
	"No markdown."

const rankTask = "Rank likely diagnoses using provided clinical protocol context."

// Config configures an OpenAI-compatible ranking collaborator.
type Config struct {
	APIKeyEnv       string
	BaseURL         string
	Model           string
	Temperature     float32
	MaxContextChars int
	Timeout         time.Duration
}

// OpenAIRanker asks a chat-completion model to rank candidate protocols.
type OpenAIRanker struct {
	client          *openai.Client
	model           string
	temperature     float32
	maxContextChars int
}

var _ port.Ranker = (*OpenAIRanker)(nil)

// NewOpenAIRanker creates a ranker. It fails when the API key variable is
// unset, so a misconfigured service never becomes ready.
func NewOpenAIRanker(cfg Config) (*OpenAIRanker, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key, set %s", domain.ErrCollaborator, cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: ranking model is empty", domain.ErrCollaborator)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	maxChars := cfg.MaxContextChars
	if maxChars <= 0 {
		maxChars = 1500
	}

	return &OpenAIRanker{
		client:          openai.NewClientWithConfig(clientCfg),
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxContextChars: maxChars,
	}, nil
}

func (r *OpenAIRanker) ModelName() string {
	return r.model
}

type promptContext struct {
	ProtocolID string   `json:"protocol_id"`
	Title      string   `json:"title"`
	ICDCodes   []string `json:"icd_codes"`
	Text       string   `json:"text"`
}

type prompt struct {
	Task     string          `json:"task"`
	Symptoms string          `json:"symptoms"`
	TopK     int             `json:"top_k"`
	Context  []promptContext `json:"context"`
}

// Rank sends the symptoms and candidates to the model and parses its reply.
func (r *OpenAIRanker) Rank(ctx context.Context, query string, candidates []domain.ScoredRecord, topK int) ([]domain.Diagnosis, error) {
	body, err := r.buildPrompt(query, candidates, topK)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: r.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: body},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: ranking request: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrCollaborator, err)
	}
	if len(resp.Choices) == 0 {
		return []domain.Diagnosis{}, nil
	}

	return ParseDiagnoses(resp.Choices[0].Message.Content, topK), nil
}

func (r *OpenAIRanker) buildPrompt(query string, candidates []domain.ScoredRecord, topK int) (string, error) {
	p := prompt{
		Task:     rankTask,
		Symptoms: query,
		TopK:     topK,
		Context:  make([]promptContext, len(candidates)),
	}
	for i, c := range candidates {
		codes := c.ICDCodes
		if codes == nil {
			codes = []string{}
		}
		p.Context[i] = promptContext{
			ProtocolID: c.ProtocolID,
			Title:      c.Title,
			ICDCodes:   codes,
			Text:       truncateRunes(c.Text, r.maxContextChars),
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("failed to encode prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
