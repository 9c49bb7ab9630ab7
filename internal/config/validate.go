package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(path, "must be one of %v, got %q", valid, value)
		}
	}
	positive := func(path string, v int) {
		if v < 0 {
			add(path, "must not be negative, got %d", v)
		}
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, []string{"auto", "lan", "loopback", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// Logging
	oneOf("logging.level", cfg.Logging.Level, []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "compact", "json"})

	// Bounds
	positive("session.maxHistory", cfg.Session.MaxHistory)
	positive("session.maxContentLength", cfg.Session.MaxContentLength)
	positive("context.ttlMinutes", cfg.Context.TTLMinutes)
	positive("context.maxChars", cfg.Context.MaxChars)
	positive("prompt.recentTurns", cfg.Prompt.RecentTurns)
	positive("prompt.turnMaxChars", cfg.Prompt.TurnMaxChars)
	positive("latency.capacity", cfg.Latency.Capacity)
	positive("latency.retentionDays", cfg.Latency.RetentionDays)
	positive("ratings.maxFeedbackLength", cfg.Ratings.MaxFeedbackLength)
	positive("chat.maxMessageLength", cfg.Chat.MaxMessageLength)

	// Rate limiting
	oneOf("rateLimit.backend", cfg.RateLimit.Backend, []string{"memory", "redis"})
	positive("rateLimit.windowMs", cfg.RateLimit.WindowMs)
	positive("rateLimit.maxRequests", cfg.RateLimit.MaxRequests)
	if cfg.RateLimit.Backend == "redis" && cfg.Redis.Addr == "" {
		add("redis.addr", "required when rateLimit.backend is redis")
	}

	// Generator
	validProviders := []string{"gemini", "ollama", "claude", "mock"}
	oneOf("generator.provider", cfg.Generator.Provider, validProviders)
	switch cfg.Generator.Provider {
	case "gemini", "claude":
		if cfg.Generator.APIKey == "" {
			add("generator.apiKey", "required for provider %q", cfg.Generator.Provider)
		}
		if cfg.Generator.Model == "" {
			add("generator.model", "required for provider %q", cfg.Generator.Provider)
		}
	case "ollama":
		if cfg.Generator.Model == "" {
			add("generator.model", "required for provider %q", cfg.Generator.Provider)
		}
	}
	if t := cfg.Generator.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("generator.temperature", "must be 0-2, got %v", *t)
	}
	if r := cfg.Generator.Breaker.FailureRatio; r < 0 || r > 1 {
		add("generator.breaker.failureRatio", "must be 0-1, got %v", r)
	}

	// Store
	oneOf("store.driver", cfg.Store.Driver, []string{"sqlite", "memory"})

	return issues
}
