package llm

import (
	"fmt"
	"os"
)

// Spec describes one configured upstream provider.
type Spec struct {
	Name      string
	Type      string
	Model     string
	BaseURL   string
	APIKeyEnv string
	RPM       int
}

var defaultKeyEnv = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"google":     "GOOGLE_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"minimax":    "MINIMAX_API_KEY",
}

// NewProvider creates a provider from spec. Supported types: "anthropic",
// "openai", "openai-compatible", "openrouter", "minimax", "google", "ollama".
// Providers with an RPM above zero are wrapped in a RateLimitedProvider.
func NewProvider(spec Spec) (Provider, error) {
	p, err := newProvider(spec)
	if err != nil {
		return nil, err
	}
	if spec.RPM > 0 {
		return NewRateLimitedProvider(p, spec.RPM), nil
	}
	return p, nil
}

func newProvider(spec Spec) (Provider, error) {
	name := spec.Name
	if name == "" {
		name = spec.Type
	}

	switch spec.Type {
	case "ollama":
		host := spec.BaseURL
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		if host == "" {
			host = "http://localhost:11434"
		}
		return NewFlatProvider(name, host, spec.Model), nil
	}

	keyEnv := spec.APIKeyEnv
	if keyEnv == "" {
		keyEnv = defaultKeyEnv[spec.Type]
	}
	apiKey := ""
	if keyEnv != "" {
		apiKey = os.Getenv(keyEnv)
	}

	switch spec.Type {
	case "anthropic":
		if apiKey == "" {
			return nil, fmt.Errorf("%s environment variable is not set", keyEnv)
		}
		return NewAnthropicProvider(apiKey, spec.BaseURL, spec.Model), nil

	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("%s environment variable is not set", keyEnv)
		}
		if spec.BaseURL != "" {
			return NewOpenAICompatibleProvider(name, apiKey, spec.BaseURL, spec.Model), nil
		}
		p := NewOpenAIProvider(apiKey, spec.Model)
		p.name = name
		return p, nil

	case "openrouter", "minimax":
		if apiKey == "" {
			return nil, fmt.Errorf("%s environment variable is not set", keyEnv)
		}
		base := spec.BaseURL
		if base == "" {
			base = OpenRouterBaseURL
			if spec.Type == "minimax" {
				base = MinimaxBaseURL
			}
		}
		return NewOpenAICompatibleProvider(name, apiKey, base, spec.Model), nil

	case "openai-compatible":
		if spec.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: base_url is required for openai-compatible", name)
		}
		return NewOpenAICompatibleProvider(name, apiKey, spec.BaseURL, spec.Model), nil

	case "google":
		if apiKey == "" {
			return nil, fmt.Errorf("%s environment variable is not set", keyEnv)
		}
		return NewGoogleProvider(apiKey, spec.BaseURL, spec.Model), nil

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", spec.Type)
	}
}
