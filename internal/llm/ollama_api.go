package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaEndpoint is where a local Ollama listens.
const DefaultOllamaEndpoint = "http://localhost:11434"

// OllamaAPIClient is a direct HTTP client for Ollama API.
type OllamaAPIClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaAPIClient creates a new Ollama API client.
// baseURL should be like "http://localhost:11434"
func NewOllamaAPIClient(baseURL, model string) *OllamaAPIClient {
	if baseURL == "" {
		baseURL = DefaultOllamaEndpoint
	}
	return &OllamaAPIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Name returns the provider name.
func (o *OllamaAPIClient) Name() string {
	return "ollama"
}

// Generate calls /api/generate without streaming.
func (o *OllamaAPIClient) Generate(ctx context.Context, prompt string, cfg GenerateConfig) (*Generation, error) {
	start := time.Now()

	options := map[string]any{}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}
	if cfg.Temperature != nil {
		options["temperature"] = *cfg.Temperature
	}
	body := map[string]any{
		"model":   o.model,
		"prompt":  prompt,
		"stream":  false,
		"options": options,
	}

	var resp ollamaAPIResponse
	if err := postJSON(ctx, o.client, o.Name(), o.baseURL+"/api/generate", nil, body, &resp); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(resp.Response)
	if text == "" {
		return nil, emptyReply(o.Name(), resp.DoneReason)
	}

	return &Generation{
		Text:       text,
		Model:      o.model,
		StopReason: resp.DoneReason,
		Usage: Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		},
		Duration: time.Since(start),
	}, nil
}

type ollamaAPIResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}
