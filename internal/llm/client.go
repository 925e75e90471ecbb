// Package llm is the summarization/embedding capability used by transcript analysis.
//
// Rules:
// - Business packages depend on Client only; provider SDKs stay inside this package.
// - Every call is bounded by Config.Timeout on top of the caller's context.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ModelTier picks a model per use case.
type ModelTier string

const (
	TierSummary   ModelTier = "summary"
	TierDetection ModelTier = "detection"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

var ErrEmptyResponse = errors.New("llm: empty response")

// CompletionRequest is a single system+user exchange.
type CompletionRequest struct {
	System      string
	Prompt      string
	Tier        ModelTier
	Temperature float32
	MaxTokens   int
}

// Client is an abstraction over LLM providers.
type Client interface {
	// Complete returns free text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// CompleteJSON returns a JSON object as text, stripped of markdown fences.
	CompleteJSON(ctx context.Context, req CompletionRequest) (string, error)
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}

type Config struct {
	Provider       string
	SummaryModel   string
	DetectionModel string
	EmbeddingModel string
	EmbeddingDims  int
	Timeout        time.Duration

	// BaseURL overrides the provider endpoint (OpenAI only; proxies and tests).
	BaseURL string
}

// DefaultConfig returns per-provider model defaults.
func DefaultConfig(provider string) Config {
	switch provider {
	case ProviderGemini:
		return Config{
			Provider:       ProviderGemini,
			SummaryModel:   "gemini-1.5-pro",
			DetectionModel: "gemini-1.5-flash",
			EmbeddingModel: "text-embedding-004",
			EmbeddingDims:  768,
			Timeout:        60 * time.Second,
		}
	default:
		return Config{
			Provider:       ProviderOpenAI,
			SummaryModel:   "gpt-4o",
			DetectionModel: "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			EmbeddingDims:  1536,
			Timeout:        60 * time.Second,
		}
	}
}

// Merge overlays non-zero fields of o onto the provider defaults.
func (c Config) Merge(o Config) Config {
	out := c
	if o.SummaryModel != "" {
		out.SummaryModel = o.SummaryModel
	}
	if o.DetectionModel != "" {
		out.DetectionModel = o.DetectionModel
	}
	if o.EmbeddingModel != "" {
		out.EmbeddingModel = o.EmbeddingModel
	}
	if o.EmbeddingDims > 0 {
		out.EmbeddingDims = o.EmbeddingDims
	}
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	if o.BaseURL != "" {
		out.BaseURL = o.BaseURL
	}
	return out
}

func (c Config) Model(tier ModelTier) string {
	if tier == TierDetection {
		return c.DetectionModel
	}
	return c.SummaryModel
}

// NewClient creates a provider client from configuration.
func NewClient(ctx context.Context, cfg Config, apiKey string) (Client, error) {
	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg, apiKey)
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg, apiKey)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// cleanJSONBlock removes markdown code block wrappers from JSON.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
