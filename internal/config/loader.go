package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields lets credentials be written as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Generator.APIKey = expandEnvVars(cfg.Generator.APIKey)
	cfg.Redis.Password = expandEnvVars(cfg.Redis.Password)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields left by a partial config file.
// YAML decoding into Defaults() keeps unset keys, but an explicit zero
// (e.g. "maxHistory: 0") would otherwise disable a bound.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if cfg.Session.MaxHistory <= 0 {
		cfg.Session.MaxHistory = d.Session.MaxHistory
	}
	if cfg.Session.MaxContentLength <= 0 {
		cfg.Session.MaxContentLength = d.Session.MaxContentLength
	}
	if cfg.Context.TTLMinutes <= 0 {
		cfg.Context.TTLMinutes = d.Context.TTLMinutes
	}
	if cfg.Context.FetchTimeoutSeconds <= 0 {
		cfg.Context.FetchTimeoutSeconds = d.Context.FetchTimeoutSeconds
	}
	if cfg.Context.MaxChars <= 0 {
		cfg.Context.MaxChars = d.Context.MaxChars
	}
	if cfg.Prompt.RecentTurns <= 0 {
		cfg.Prompt.RecentTurns = d.Prompt.RecentTurns
	}
	if cfg.Prompt.TurnMaxChars <= 0 {
		cfg.Prompt.TurnMaxChars = d.Prompt.TurnMaxChars
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = d.RateLimit.Backend
	}
	if cfg.RateLimit.WindowMs <= 0 {
		cfg.RateLimit.WindowMs = d.RateLimit.WindowMs
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		cfg.RateLimit.MaxRequests = d.RateLimit.MaxRequests
	}
	if cfg.Latency.Capacity <= 0 {
		cfg.Latency.Capacity = d.Latency.Capacity
	}
	if cfg.Latency.QueueSize <= 0 {
		cfg.Latency.QueueSize = d.Latency.QueueSize
	}
	if cfg.Ratings.DefaultDays <= 0 {
		cfg.Ratings.DefaultDays = d.Ratings.DefaultDays
	}
	if cfg.Ratings.MaxFeedbackLength <= 0 {
		cfg.Ratings.MaxFeedbackLength = d.Ratings.MaxFeedbackLength
	}
	if cfg.Chat.MaxMessageLength <= 0 {
		cfg.Chat.MaxMessageLength = d.Chat.MaxMessageLength
	}
	if cfg.Chat.ReplyTimeoutSeconds <= 0 {
		cfg.Chat.ReplyTimeoutSeconds = d.Chat.ReplyTimeoutSeconds
	}
	if cfg.Generator.Provider == "" {
		cfg.Generator.Provider = d.Generator.Provider
	}
	if cfg.Generator.MaxTokens <= 0 {
		cfg.Generator.MaxTokens = d.Generator.MaxTokens
	}
	b := &cfg.Generator.Breaker
	if b.MinRequests == 0 {
		b.MinRequests = d.Generator.Breaker.MinRequests
	}
	if b.FailureRatio <= 0 {
		b.FailureRatio = d.Generator.Breaker.FailureRatio
	}
	if b.OpenSeconds <= 0 {
		b.OpenSeconds = d.Generator.Breaker.OpenSeconds
	}
	if b.IntervalSeconds <= 0 {
		b.IntervalSeconds = d.Generator.Breaker.IntervalSeconds
	}
	if b.HalfOpenRequests == 0 {
		b.HalfOpenRequests = d.Generator.Breaker.HalfOpenRequests
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
}

// applyEnvOverrides reads CONCIERGE_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONCIERGE_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("CONCIERGE_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("CONCIERGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CONCIERGE_GENERATOR_PROVIDER"); v != "" {
		cfg.Generator.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("CONCIERGE_GENERATOR_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
	}
	if v := os.Getenv("CONCIERGE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CONCIERGE_RATELIMIT_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.MaxRequests = n
		}
	}
}
