// Package llm talks to the external text generator that writes assistant
// replies. Providers are plain HTTP clients; every failure is returned as a
// *domain.UpstreamError so callers can map it without knowing the provider.
package llm

import (
	"context"
	"time"
)

// GenerateConfig tunes a single generation.
type GenerateConfig struct {
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Usage tracks token consumption when the provider reports it.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Generation is the result of one Generate call.
type Generation struct {
	Text       string        `json:"text"`
	Model      string        `json:"model,omitempty"`
	StopReason string        `json:"stopReason,omitempty"`
	Usage      Usage         `json:"usage"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Client is the interface all generator providers implement.
type Client interface {
	// Generate sends a fully assembled prompt and returns the reply text.
	Generate(ctx context.Context, prompt string, cfg GenerateConfig) (*Generation, error)

	// Name returns the provider name (e.g., "gemini", "ollama").
	Name() string
}
