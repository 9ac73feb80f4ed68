package config

import "time"

// QualityTier picks a model preset for a provider in the setup wizard.
type QualityTier string

const (
	QualityLite   QualityTier = "lite"
	QualityNormal QualityTier = "normal"
	QualityMax    QualityTier = "max"
)

// ProviderType identifies an upstream provider adapter.
type ProviderType string

const (
	ProviderAnthropic        ProviderType = "anthropic"
	ProviderOpenAI           ProviderType = "openai"
	ProviderGoogle           ProviderType = "google"
	ProviderOllama           ProviderType = "ollama"
	ProviderMiniMax          ProviderType = "minimax"
	ProviderOpenRouter       ProviderType = "openrouter"
	ProviderOpenAICompatible ProviderType = "openai-compatible"
)

// Config is the top-level chattia configuration, corresponding to .chattia.yml.
type Config struct {
	Server        ServerConfig     `yaml:"server" koanf:"server"`
	Corpus        CorpusConfig     `yaml:"corpus" koanf:"corpus"`
	Tier1         Tier1Config      `yaml:"tier1" koanf:"tier1"`
	Shield        ShieldConfig     `yaml:"shield" koanf:"shield"`
	Budget        BudgetConfig     `yaml:"budget" koanf:"budget"`
	Providers     []ProviderConfig `yaml:"providers" koanf:"providers"`
	OnDevice      OnDeviceConfig   `yaml:"ondevice" koanf:"ondevice"`
	Endpoint      string           `yaml:"endpoint" koanf:"endpoint"`
	HistoryWindow int              `yaml:"history_window" koanf:"history_window"`
	Grounding     int              `yaml:"grounding" koanf:"grounding"`
	LogDB         string           `yaml:"log_db" koanf:"log_db"`
	Logging       LoggingConfig    `yaml:"logging" koanf:"logging"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr               string `yaml:"addr" koanf:"addr"`
	AllowedOrigin      string `yaml:"allowed_origin" koanf:"allowed_origin"`
	MaxBodyBytes       int64  `yaml:"max_body_bytes" koanf:"max_body_bytes"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" koanf:"rate_limit_per_minute"`
	RedisAddr          string `yaml:"redis_addr" koanf:"redis_addr"`
	Extractive         bool   `yaml:"extractive_fallback" koanf:"extractive_fallback"`
	// AdminToken guards /api/insights; empty leaves those routes unmounted.
	AdminToken string `yaml:"admin_token,omitempty" koanf:"admin_token"`
}

// CorpusConfig says where the content pack comes from.
type CorpusConfig struct {
	URL             string        `yaml:"url" koanf:"url"`
	Path            string        `yaml:"path" koanf:"path"`
	SHA256          string        `yaml:"sha256" koanf:"sha256"`
	RevalidateAfter time.Duration `yaml:"revalidate_after" koanf:"revalidate_after"`
	CacheDB         string        `yaml:"cache_db" koanf:"cache_db"`
	AllowedURLs     []string      `yaml:"allowed_urls" koanf:"allowed_urls"`
}

// Tier1Config holds the local resolver thresholds.
type Tier1Config struct {
	Confidence float64 `yaml:"confidence" koanf:"confidence"`
	Coverage   int     `yaml:"coverage" koanf:"coverage"`
}

// ShieldConfig tunes the input shield.
type ShieldConfig struct {
	MaxLen    int `yaml:"max_len" koanf:"max_len"`
	Threshold int `yaml:"threshold" koanf:"threshold"`
}

// BudgetConfig holds the per-session token limits.
type BudgetConfig struct {
	HardCap         int `yaml:"hard_cap" koanf:"hard_cap"`
	ProviderSoftCap int `yaml:"provider_soft_cap" koanf:"provider_soft_cap"`
	WarnAt          int `yaml:"warn_at" koanf:"warn_at"`
}

// ProviderConfig is one entry of the ordered provider chain.
type ProviderConfig struct {
	Name      string       `yaml:"name" koanf:"name"`
	Type      ProviderType `yaml:"type" koanf:"type"`
	Model     string       `yaml:"model" koanf:"model"`
	BaseURL   string       `yaml:"base_url,omitempty" koanf:"base_url"`
	APIKeyEnv string       `yaml:"api_key_env,omitempty" koanf:"api_key_env"`
	RPM       int          `yaml:"rpm,omitempty" koanf:"rpm"`
}

// OnDeviceConfig enables Tier-2 against a local Ollama server.
type OnDeviceConfig struct {
	Enabled   bool   `yaml:"enabled" koanf:"enabled"`
	BaseURL   string `yaml:"base_url" koanf:"base_url"`
	Model     string `yaml:"model" koanf:"model"`
	MaxTokens int    `yaml:"max_tokens" koanf:"max_tokens"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level" koanf:"level"`
}
