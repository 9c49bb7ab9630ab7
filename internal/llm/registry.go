package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/metrics"
)

// Providers lists the provider names NewFromConfig understands.
var Providers = []string{"gemini", "ollama", "claude", "mock"}

// NewFromConfig builds the configured provider client, wrapped in a Breaker
// unless the breaker is disabled. m may be nil.
func NewFromConfig(cfg config.GeneratorConfig, log *logging.Logger, m *metrics.Metrics) (Client, error) {
	var client Client

	switch provider := strings.ToLower(strings.TrimSpace(cfg.Provider)); provider {
	case "gemini":
		if cfg.APIKey == "" || cfg.Model == "" {
			return nil, fmt.Errorf("gemini provider requires apiKey and model")
		}
		client = NewGeminiAPIClient(cfg.APIKey, cfg.Model, cfg.Endpoint)
	case "claude":
		if cfg.APIKey == "" || cfg.Model == "" {
			return nil, fmt.Errorf("claude provider requires apiKey and model")
		}
		client = NewClaudeAPIClient(cfg.APIKey, cfg.Model, cfg.Endpoint)
	case "ollama":
		if cfg.Model == "" {
			return nil, fmt.Errorf("ollama provider requires model")
		}
		client = NewOllamaAPIClient(cfg.Endpoint, cfg.Model)
	case "mock":
		client = &MockClient{}
	default:
		return nil, fmt.Errorf("unknown generator provider %q (want one of %s)", cfg.Provider, strings.Join(Providers, ", "))
	}

	log.Sub("llm").Info().Str("provider", client.Name()).Str("model", cfg.Model).Msg("generator configured")

	if !cfg.Breaker.IsEnabled() {
		return client, nil
	}
	b := cfg.Breaker
	return NewBreaker(client, BreakerSettings{
		MinRequests:      b.MinRequests,
		FailureRatio:     b.FailureRatio,
		OpenTimeout:      time.Duration(b.OpenSeconds) * time.Second,
		Interval:         time.Duration(b.IntervalSeconds) * time.Second,
		HalfOpenRequests: b.HalfOpenRequests,
	}, log, m), nil
}
