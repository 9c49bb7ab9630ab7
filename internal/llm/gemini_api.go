package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

// DefaultGeminiEndpoint is the public Generative Language API base URL.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAPIClient is a direct HTTP client for Google Gemini API.
type GeminiAPIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewGeminiAPIClient creates a new Gemini API client. An empty endpoint
// selects DefaultGeminiEndpoint.
func NewGeminiAPIClient(apiKey, model, endpoint string) *GeminiAPIClient {
	if endpoint == "" {
		endpoint = DefaultGeminiEndpoint
	}
	return &GeminiAPIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Name returns the provider name.
func (g *GeminiAPIClient) Name() string {
	return "gemini"
}

// Generate calls models/{model}:generateContent.
func (g *GeminiAPIClient) Generate(ctx context.Context, prompt string, cfg GenerateConfig) (*Generation, error) {
	start := time.Now()

	genCfg := map[string]any{}
	if cfg.MaxTokens > 0 {
		genCfg["maxOutputTokens"] = cfg.MaxTokens
	}
	if cfg.Temperature != nil {
		genCfg["temperature"] = *cfg.Temperature
	}
	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": genCfg,
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, g.model)
	var resp geminiAPIResponse
	if err := postJSON(ctx, g.client, g.Name(), url, map[string]string{"x-goog-api-key": g.apiKey}, body, &resp); err != nil {
		return nil, err
	}

	if reason := resp.PromptFeedback.BlockReason; reason != "" {
		return nil, domain.NewUpstreamError(domain.UpstreamSafetyBlocked, fmt.Errorf("gemini: prompt blocked (%s)", reason))
	}
	if len(resp.Candidates) == 0 {
		return nil, emptyReply(g.Name(), "no candidates")
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		switch candidate.FinishReason {
		case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII":
			return nil, domain.NewUpstreamError(domain.UpstreamSafetyBlocked, fmt.Errorf("gemini: candidate blocked (%s)", candidate.FinishReason))
		}
		return nil, emptyReply(g.Name(), candidate.FinishReason)
	}

	return &Generation{
		Text:       strings.TrimSpace(text.String()),
		Model:      g.model,
		StopReason: candidate.FinishReason,
		Usage: Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
		Duration: time.Since(start),
	}, nil
}

type geminiAPIResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content struct {
		Parts []struct {
			Text string `json:"text,omitempty"`
		} `json:"parts"`
		Role string `json:"role"`
	} `json:"content"`
	FinishReason string `json:"finishReason"`
}
