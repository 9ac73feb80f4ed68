package config

import "time"

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = ".chattia.yml"

// modelPresets maps each provider+quality combination to a model.
var modelPresets = map[ProviderType]map[QualityTier]string{
	ProviderAnthropic: {
		QualityLite:   "claude-haiku-4-5-20251001",
		QualityNormal: "claude-sonnet-4-5-20250929",
		QualityMax:    "claude-opus-4-6",
	},
	ProviderOpenAI: {
		QualityLite:   "gpt-4o-mini",
		QualityNormal: "gpt-4o",
		QualityMax:    "gpt-4",
	},
	ProviderGoogle: {
		QualityLite:   "gemini-3-flash-preview",
		QualityNormal: "gemini-3-pro-preview",
		QualityMax:    "gemini-3-pro-preview",
	},
	ProviderOllama: {
		QualityLite:   "llama3",
		QualityNormal: "llama3",
		QualityMax:    "llama3:70b",
	},
	ProviderMiniMax: {
		QualityLite:   "MiniMax-M2.5-highspeed",
		QualityNormal: "MiniMax-M2.5",
		QualityMax:    "MiniMax-M2.5",
	},
	ProviderOpenRouter: {
		QualityLite:   "minimax/minimax-m2.5",
		QualityNormal: "minimax/minimax-m2.5",
		QualityMax:    "minimax/minimax-m2.5",
	},
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8080",
			MaxBodyBytes:       64 * 1024,
			RateLimitPerMinute: 20,
			Extractive:         true,
		},
		Corpus: CorpusConfig{
			Path:            "packs/**/*.json",
			RevalidateAfter: 5 * time.Minute,
			CacheDB:         ".chattia/packs.db",
		},
		Tier1: Tier1Config{
			Confidence: 0.6,
			Coverage:   2,
		},
		Shield: ShieldConfig{
			MaxLen:    4000,
			Threshold: 12,
		},
		Budget: BudgetConfig{
			HardCap:         35000,
			ProviderSoftCap: 20000,
			WarnAt:          25000,
		},
		Providers: []ProviderConfig{
			{Name: "anthropic", Type: ProviderAnthropic, Model: GetPreset(ProviderAnthropic, QualityLite)},
			{Name: "openai", Type: ProviderOpenAI, Model: GetPreset(ProviderOpenAI, QualityLite)},
		},
		OnDevice: OnDeviceConfig{
			BaseURL:   "http://localhost:11434",
			Model:     "llama3.1:8b",
			MaxTokens: 512,
		},
		HistoryWindow: 16,
		Grounding:     6,
		LogDB:         ".chattia/turns.db",
		Logging:       LoggingConfig{Level: "info"},
	}
}

// GetPreset returns the model for the given provider and tier.
// Returns the Normal Anthropic model if the combination is not found.
func GetPreset(provider ProviderType, tier QualityTier) string {
	if tiers, ok := modelPresets[provider]; ok {
		if m, ok := tiers[tier]; ok {
			return m
		}
	}
	return modelPresets[ProviderAnthropic][QualityNormal]
}
