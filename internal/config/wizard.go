package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .chattia.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to chattia! Let's configure your assistant.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Content pack.
	packPrompt := promptui.Prompt{
		Label:   "Content pack (URL or local glob)",
		Default: cfg.Corpus.Path,
	}
	pack, err := packPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("content pack: %w", err)
	}
	if strings.HasPrefix(pack, "http://") || strings.HasPrefix(pack, "https://") {
		cfg.Corpus.URL, cfg.Corpus.Path = pack, ""
	} else {
		cfg.Corpus.Path = pack
	}

	// 2. Provider chain, in fallback order.
	providerPrompt := promptui.Prompt{
		Label:   "Provider chain in fallback order (comma-separated)",
		Default: "anthropic,openai",
		Validate: func(s string) error {
			for _, p := range splitAndTrim(s) {
				if !validProviders[ProviderType(p)] || ProviderType(p) == ProviderOpenAICompatible {
					return fmt.Errorf("unknown provider %q", p)
				}
			}
			return nil
		},
	}
	chainStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider chain: %w", err)
	}

	// 3. Quality tier.
	qualityPrompt := promptui.Select{
		Label: "Select quality tier",
		Items: []string{
			"lite:   fast & cheap (haiku / gpt-4o-mini)",
			"normal: balanced (sonnet / gpt-4o)",
			"max:    highest quality (opus / gpt-4)",
		},
	}
	qualityIdx, _, err := qualityPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("quality selection: %w", err)
	}
	quality := []QualityTier{QualityLite, QualityNormal, QualityMax}[qualityIdx]

	cfg.Providers = nil
	for _, p := range splitAndTrim(chainStr) {
		pt := ProviderType(p)
		cfg.Providers = append(cfg.Providers, ProviderConfig{Name: p, Type: pt, Model: GetPreset(pt, quality)})
	}

	// 4. On-device tier.
	ondevicePrompt := promptui.Select{
		Label: "Use a local Ollama model before escalating?",
		Items: []string{"no", "yes"},
	}
	_, ondevice, err := ondevicePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("on-device selection: %w", err)
	}
	cfg.OnDevice.Enabled = ondevice == "yes"

	// 5. Allowed UI origin.
	originPrompt := promptui.Prompt{
		Label:   "Allowed browser origin (blank allows any)",
		Default: "",
	}
	origin, err := originPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("allowed origin: %w", err)
	}
	cfg.Server.AllowedOrigin = strings.TrimSpace(origin)

	// Check for API keys.
	for _, p := range cfg.Providers {
		if envVar := APIKeyEnvVar(p.Type); envVar != "" && os.Getenv(envVar) == "" {
			fmt.Printf("\nNote: Set %s in your environment before running chattia server.\n", envVar)
		}
	}

	if err := cfg.Save(DefaultPath); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", DefaultPath)
	return cfg, nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}
