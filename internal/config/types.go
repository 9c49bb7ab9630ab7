package config

// Config is the root configuration for the concierge service.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Context   ContextConfig   `yaml:"context,omitempty"`
	Prompt    PromptConfig    `yaml:"prompt,omitempty"`
	RateLimit RateLimitConfig `yaml:"rateLimit,omitempty"`
	Latency   LatencyConfig   `yaml:"latency,omitempty"`
	Ratings   RatingsConfig   `yaml:"ratings,omitempty"`
	Chat      ChatConfig      `yaml:"chat,omitempty"`
	Generator GeneratorConfig `yaml:"generator,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Catalog   CatalogConfig   `yaml:"catalog,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int              `yaml:"port,omitempty"`
	Bind           string           `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string           `yaml:"customBindHost,omitempty"`
	TLS            GatewayTLS       `yaml:"tls,omitempty"`
	ControlUI      GatewayControlUI `yaml:"controlUi,omitempty"`
	TrustProxy     bool             `yaml:"trustProxy,omitempty"` // key rate limits on X-Forwarded-For
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// GatewayControlUI configures browser access to the gateway.
type GatewayControlUI struct {
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// SessionConfig bounds per-conversation memory.
type SessionConfig struct {
	MaxHistory       int `yaml:"maxHistory,omitempty"`
	MaxContentLength int `yaml:"maxContentLength,omitempty"`
}

// ContextConfig controls the catalog summary cache.
type ContextConfig struct {
	TTLMinutes          int `yaml:"ttlMinutes,omitempty"`
	FetchTimeoutSeconds int `yaml:"fetchTimeoutSeconds,omitempty"`
	MaxChars            int `yaml:"maxChars,omitempty"`
}

// PromptConfig controls how much history goes into each generator call.
type PromptConfig struct {
	RecentTurns  int `yaml:"recentTurns,omitempty"`
	TurnMaxChars int `yaml:"turnMaxChars,omitempty"`
}

// RateLimitConfig configures the fixed-window chat throttle.
type RateLimitConfig struct {
	Enabled     *bool  `yaml:"enabled,omitempty"` // defaults to true
	Backend     string `yaml:"backend,omitempty"` // "memory" | "redis"
	WindowMs    int    `yaml:"windowMs,omitempty"`
	MaxRequests int    `yaml:"maxRequests,omitempty"`
}

// LatencyConfig configures the latency recorder.
type LatencyConfig struct {
	Capacity  int   `yaml:"capacity,omitempty"`
	QueueSize int   `yaml:"queueSize,omitempty"`
	Persist   *bool `yaml:"persist,omitempty"` // defaults to true when a store is configured
	// RetentionDays bounds how long persisted samples are kept; 0 keeps them forever.
	RetentionDays int `yaml:"retentionDays,omitempty"`
}

// RatingsConfig configures the satisfaction aggregator.
type RatingsConfig struct {
	DefaultDays       int `yaml:"defaultDays,omitempty"`
	MaxFeedbackLength int `yaml:"maxFeedbackLength,omitempty"`
}

// ChatConfig bounds inbound chat messages and reply latency.
type ChatConfig struct {
	MaxMessageLength    int `yaml:"maxMessageLength,omitempty"`
	ReplyTimeoutSeconds int `yaml:"replyTimeoutSeconds,omitempty"`
}

// GeneratorConfig selects the external text generator.
type GeneratorConfig struct {
	Provider    string        `yaml:"provider,omitempty"` // "gemini" | "ollama" | "claude" | "mock"
	APIKey      string        `yaml:"apiKey,omitempty"`
	Model       string        `yaml:"model,omitempty"`
	Endpoint    string        `yaml:"endpoint,omitempty"` // custom base URL (ollama, proxies)
	MaxTokens   int           `yaml:"maxTokens,omitempty"`
	Temperature *float64      `yaml:"temperature,omitempty"`
	Breaker     BreakerConfig `yaml:"breaker,omitempty"`
}

// BreakerConfig configures the circuit breaker around the generator.
type BreakerConfig struct {
	Enabled          *bool   `yaml:"enabled,omitempty"` // defaults to true
	MinRequests      uint32  `yaml:"minRequests,omitempty"`
	FailureRatio     float64 `yaml:"failureRatio,omitempty"`
	OpenSeconds      int     `yaml:"openSeconds,omitempty"`
	IntervalSeconds  int     `yaml:"intervalSeconds,omitempty"`
	HalfOpenRequests uint32  `yaml:"halfOpenRequests,omitempty"`
}

// StoreConfig selects the durable store for latency samples and ratings.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`   // defaults to <data>/concierge.db
}

// RedisConfig is used by the redis rate limiter backend.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// CatalogConfig points at the domain data source.
type CatalogConfig struct {
	File string `yaml:"file,omitempty"` // defaults to <base>/catalog.yaml
}
