package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

// DefaultClaudeEndpoint is the Anthropic Messages API base URL.
const DefaultClaudeEndpoint = "https://api.anthropic.com"

// ClaudeAPIClient is a direct HTTP client for the Claude Messages API.
type ClaudeAPIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewClaudeAPIClient creates a new Claude API client.
func NewClaudeAPIClient(apiKey, model, endpoint string) *ClaudeAPIClient {
	if endpoint == "" {
		endpoint = DefaultClaudeEndpoint
	}
	return &ClaudeAPIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Name returns the provider name.
func (c *ClaudeAPIClient) Name() string {
	return "claude"
}

// Generate sends the prompt as a single user message.
func (c *ClaudeAPIClient) Generate(ctx context.Context, prompt string, cfg GenerateConfig) (*Generation, error) {
	start := time.Now()

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := map[string]any{
		"model":      c.model,
		"max_tokens": maxTokens,
		"messages":   []map[string]string{{"role": "user", "content": prompt}},
	}
	if cfg.Temperature != nil {
		body["temperature"] = *cfg.Temperature
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}
	var resp claudeAPIResponse
	if err := postJSON(ctx, c.client, c.Name(), c.endpoint+"/v1/messages", headers, body, &resp); err != nil {
		return nil, err
	}

	if resp.StopReason == "refusal" {
		return nil, domain.NewUpstreamError(domain.UpstreamSafetyBlocked, errors.New("claude: refused"))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, emptyReply(c.Name(), resp.StopReason)
	}

	return &Generation{
		Text:       strings.TrimSpace(text.String()),
		Model:      resp.Model,
		StopReason: resp.StopReason,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Duration: time.Since(start),
	}, nil
}

type claudeAPIResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
