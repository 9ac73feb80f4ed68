package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix marks environment overrides. A double underscore separates
// nesting levels: CHATTIA_SERVER__ADDR sets server.addr.
const EnvPrefix = "CHATTIA_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (CHATTIA_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	// A configured chain replaces the default one instead of merging into it.
	if k.Exists("providers") {
		cfg.Providers = nil
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validProviders is the set of recognized provider types.
var validProviders = map[ProviderType]bool{
	ProviderAnthropic:        true,
	ProviderOpenAI:           true,
	ProviderGoogle:           true,
	ProviderOllama:           true,
	ProviderMiniMax:          true,
	ProviderOpenRouter:       true,
	ProviderOpenAICompatible: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if c.Server.RateLimitPerMinute <= 0 {
		return fmt.Errorf("server.rate_limit_per_minute must be positive")
	}

	if c.Corpus.URL == "" && c.Corpus.Path == "" {
		return fmt.Errorf("corpus.url or corpus.path is required")
	}
	for _, u := range append([]string{c.Corpus.URL}, c.Corpus.AllowedURLs...) {
		if u == "" {
			continue
		}
		if parsed, err := url.Parse(u); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("invalid corpus url %q: must be http or https", u)
		}
	}
	if c.Corpus.RevalidateAfter < 0 {
		return fmt.Errorf("corpus.revalidate_after must be non-negative")
	}

	if c.Tier1.Confidence < 0 || c.Tier1.Coverage < 0 {
		return fmt.Errorf("tier1 thresholds must be non-negative")
	}

	if c.Budget.HardCap <= 0 {
		return fmt.Errorf("budget.hard_cap must be positive")
	}
	if c.Budget.ProviderSoftCap <= 0 || c.Budget.ProviderSoftCap > c.Budget.HardCap {
		return fmt.Errorf("budget.provider_soft_cap must be between 1 and hard_cap")
	}
	if c.Budget.WarnAt < 0 || c.Budget.WarnAt > c.Budget.HardCap {
		return fmt.Errorf("budget.warn_at must be between 0 and hard_cap")
	}

	seen := map[string]bool{}
	for i, p := range c.Providers {
		if !validProviders[p.Type] {
			return fmt.Errorf("providers[%d]: invalid type %q", i, p.Type)
		}
		if p.Model == "" {
			return fmt.Errorf("providers[%d]: model is required", i)
		}
		name := p.Name
		if name == "" {
			name = string(p.Type)
		}
		if seen[name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if p.Type == ProviderOpenAICompatible && p.BaseURL == "" {
			return fmt.Errorf("providers[%d]: base_url is required for openai-compatible", i)
		}
		if p.RPM < 0 {
			return fmt.Errorf("providers[%d]: rpm must be non-negative", i)
		}
	}

	if c.OnDevice.Enabled && (c.OnDevice.BaseURL == "" || c.OnDevice.Model == "") {
		return fmt.Errorf("ondevice.base_url and ondevice.model are required when enabled")
	}

	if c.HistoryWindow < 0 {
		return fmt.Errorf("history_window must be non-negative")
	}

	return nil
}

// PackAllowed reports whether a per-request pack URL may be fetched.
func (c *Config) PackAllowed(u string) bool {
	if u == c.Corpus.URL && u != "" {
		return true
	}
	for _, allowed := range c.Corpus.AllowedURLs {
		if u == allowed {
			return true
		}
	}
	return false
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGoogle:
		return "GOOGLE_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	case ProviderMiniMax:
		return "MINIMAX_API_KEY"
	default:
		return ""
	}
}
