package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Session: SessionConfig{
			MaxHistory:       30,
			MaxContentLength: 500,
		},
		Context: ContextConfig{
			TTLMinutes:          30,
			FetchTimeoutSeconds: 10,
			MaxChars:            3000,
		},
		Prompt: PromptConfig{
			RecentTurns:  6,
			TurnMaxChars: 200,
		},
		RateLimit: RateLimitConfig{
			Backend:     "memory",
			WindowMs:    60_000,
			MaxRequests: 30,
		},
		Latency: LatencyConfig{
			Capacity:  1000,
			QueueSize: 256,
		},
		Ratings: RatingsConfig{
			DefaultDays:       30,
			MaxFeedbackLength: 1000,
		},
		Chat: ChatConfig{
			MaxMessageLength:    1000,
			ReplyTimeoutSeconds: 30,
		},
		Generator: GeneratorConfig{
			Provider:  "gemini",
			Model:     "gemini-2.0-flash",
			MaxTokens: 1024,
			Breaker: BreakerConfig{
				MinRequests:      5,
				FailureRatio:     0.6,
				OpenSeconds:      30,
				IntervalSeconds:  60,
				HalfOpenRequests: 1,
			},
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
	}
}

// IsEnabled reports whether rate limiting is on (default true).
func (c RateLimitConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Window returns the fixed window length.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// IsEnabled reports whether the breaker wraps the generator (default true).
func (c BreakerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ShouldPersist reports whether latency samples go to the durable store.
func (c LatencyConfig) ShouldPersist() bool {
	return c.Persist == nil || *c.Persist
}

// TTL returns the context cache time-to-live.
func (c ContextConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// FetchTimeout bounds a single catalog refresh.
func (c ContextConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// ReplyTimeout bounds a single generator call.
func (c ChatConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutSeconds) * time.Second
}

// Retention is how long persisted samples are kept. Zero means forever.
func (c LatencyConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
