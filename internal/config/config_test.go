package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30, cfg.Session.MaxHistory)
	assert.Equal(t, 500, cfg.Session.MaxContentLength)
	assert.Equal(t, 30, cfg.Context.TTLMinutes)
	assert.Equal(t, 3000, cfg.Context.MaxChars)
	assert.Equal(t, 6, cfg.Prompt.RecentTurns)
	assert.Equal(t, 200, cfg.Prompt.TurnMaxChars)
	assert.Equal(t, 60_000, cfg.RateLimit.WindowMs)
	assert.Equal(t, 30, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 1000, cfg.Latency.Capacity)
	assert.Equal(t, 1000, cfg.Ratings.MaxFeedbackLength)
	assert.Equal(t, "gemini", cfg.Generator.Provider)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.True(t, cfg.RateLimit.IsEnabled())
	assert.True(t, cfg.Generator.Breaker.IsEnabled())
	assert.True(t, cfg.Latency.ShouldPersist())
}

func TestDurations(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "1m0s", cfg.RateLimit.Window().String())
	assert.Equal(t, "30m0s", cfg.Context.TTL().String())
	assert.Equal(t, "10s", cfg.Context.FetchTimeout().String())
	assert.Equal(t, "30s", cfg.Chat.ReplyTimeout().String())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
logging:
  level: debug
  consoleStyle: json
session:
  maxHistory: 10
rateLimit:
  enabled: false
  backend: redis
  maxRequests: 5
redis:
  addr: localhost:6379
generator:
  provider: ollama
  model: llama3
  endpoint: http://localhost:11434
  breaker:
    openSeconds: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, 10, cfg.Session.MaxHistory)
	assert.Equal(t, 500, cfg.Session.MaxContentLength, "unset keys keep defaults")
	assert.False(t, cfg.RateLimit.IsEnabled())
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 60_000, cfg.RateLimit.WindowMs)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "ollama", cfg.Generator.Provider)
	assert.Equal(t, "llama3", cfg.Generator.Model)
	assert.Equal(t, 5, cfg.Generator.Breaker.OpenSeconds)
	assert.Equal(t, uint32(5), cfg.Generator.Breaker.MinRequests)
}

func TestLoadExplicitZeroFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  maxHistory: 0\nprompt:\n  recentTurns: 0\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Session.MaxHistory)
	assert.Equal(t, 6, cfg.Prompt.RecentTurns)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONCIERGE_GATEWAY_PORT", "12345")
	t.Setenv("CONCIERGE_LOG_LEVEL", "TRACE")
	t.Setenv("CONCIERGE_GENERATOR_PROVIDER", "Mock")
	t.Setenv("CONCIERGE_REDIS_ADDR", "redis:6379")
	t.Setenv("CONCIERGE_RATELIMIT_MAX_REQUESTS", "7")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "mock", cfg.Generator.Provider)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 7, cfg.RateLimit.MaxRequests)
}

func TestLoadEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("CONCIERGE_GATEWAY_PORT", "not-a-port")
	t.Setenv("CONCIERGE_RATELIMIT_MAX_REQUESTS", "-3")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, 30, cfg.RateLimit.MaxRequests)
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "sk-from-env")
	t.Setenv("TEST_REDIS_PW", "s3cret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "generator:\n  apiKey: ${TEST_GEMINI_KEY}\nredis:\n  password: ${TEST_REDIS_PW}\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Generator.APIKey)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
}

func TestExpandEnvVarsLeavesUnsetAlone(t *testing.T) {
	assert.Equal(t, "${CONCIERGE_SURELY_UNSET_VAR}", expandEnvVars("${CONCIERGE_SURELY_UNSET_VAR}"))
}

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"gateway.port", []string{"gateway", "port"}, false},
		{"generator.breaker.openSeconds", []string{"generator", "breaker", "openSeconds"}, false},
		{"", nil, true},
		{"a..b", nil, true},
		{"__proto__.x", nil, true},
		{"x.constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGetSetValueAtPath(t *testing.T) {
	root := map[string]any{
		"gateway": map[string]any{
			"port": 18790,
		},
	}

	val, ok := GetValueAtPath(root, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 18790, val)

	_, ok = GetValueAtPath(root, []string{"gateway", "missing"})
	assert.False(t, ok)

	SetValueAtPath(root, []string{"gateway", "port"}, 9999)
	val, ok = GetValueAtPath(root, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)

	SetValueAtPath(root, []string{"rateLimit", "maxRequests"}, 10)
	val, ok = GetValueAtPath(root, []string{"rateLimit", "maxRequests"})
	assert.True(t, ok)
	assert.Equal(t, 10, val)
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"gateway": map[string]any{
			"port": 9999,
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)
}

func TestLoadRawEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.NotNil(t, raw)
}
