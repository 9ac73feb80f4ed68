package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Budget.HardCap != 35000 || cfg.Budget.ProviderSoftCap != 20000 || cfg.Budget.WarnAt != 25000 {
		t.Errorf("unexpected budget defaults: %+v", cfg.Budget)
	}
	if cfg.Tier1.Confidence != 0.6 || cfg.Tier1.Coverage != 2 {
		t.Errorf("unexpected tier1 defaults: %+v", cfg.Tier1)
	}
	if cfg.HistoryWindow != 16 {
		t.Errorf("expected history_window 16, got %d", cfg.HistoryWindow)
	}
	if cfg.Server.MaxBodyBytes != 64*1024 {
		t.Errorf("expected max_body_bytes 65536, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Server.AdminToken != "" {
		t.Errorf("admin_token should default to empty, got %q", cfg.Server.AdminToken)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.chattia.yml")

	original := DefaultConfig()
	original.Corpus.URL = "https://example.com/pack.json"
	original.Corpus.RevalidateAfter = 90 * time.Second
	original.Providers = []ProviderConfig{{Name: "local", Type: ProviderOllama, Model: "llama3"}}
	original.Budget.HardCap = 5000
	original.Budget.ProviderSoftCap = 4000
	original.Budget.WarnAt = 3000

	if err := original.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Corpus.URL != original.Corpus.URL {
		t.Errorf("corpus.url: got %q, want %q", loaded.Corpus.URL, original.Corpus.URL)
	}
	if loaded.Corpus.RevalidateAfter != 90*time.Second {
		t.Errorf("revalidate_after: got %v", loaded.Corpus.RevalidateAfter)
	}
	if loaded.Budget.HardCap != 5000 {
		t.Errorf("hard_cap: got %d, want 5000", loaded.Budget.HardCap)
	}
	if len(loaded.Providers) != 1 || loaded.Providers[0].Name != "local" || loaded.Providers[0].Type != ProviderOllama {
		t.Errorf("providers: got %+v", loaded.Providers)
	}
}

func TestLoadProvidersReplaceDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yml")
	yml := "providers:\n  - name: mm\n    type: minimax\n    model: MiniMax-M2.5\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("expected 1 provider, got %+v", cfg.Providers)
	}
	if cfg.Providers[0].RPM != 0 || cfg.Providers[0].Type != ProviderMiniMax {
		t.Errorf("provider merged with defaults: %+v", cfg.Providers[0])
	}
}

func TestLoadDurationString(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yml")
	if err := os.WriteFile(path, []byte("corpus:\n  revalidate_after: 2m\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Corpus.RevalidateAfter != 2*time.Minute {
		t.Errorf("revalidate_after = %v, want 2m", cfg.Corpus.RevalidateAfter)
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.yml")

	// Loading a missing file should return defaults, not an error.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load should not fail for missing file: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr, got %q", cfg.Server.Addr)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yml")

	cfg := DefaultConfig()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	t.Setenv("CHATTIA_SERVER__ADDR", ":9999")
	t.Setenv("CHATTIA_BUDGET__HARD_CAP", "1234")
	t.Setenv("CHATTIA_HISTORY_WINDOW", "8")
	t.Setenv("CHATTIA_SERVER__ADMIN_TOKEN", "s3cret")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Addr != ":9999" {
		t.Errorf("env override failed: got %q, want %q", loaded.Server.Addr, ":9999")
	}
	if loaded.Budget.HardCap != 1234 {
		t.Errorf("hard_cap = %d, want 1234", loaded.Budget.HardCap)
	}
	if loaded.HistoryWindow != 8 {
		t.Errorf("history_window = %d, want 8", loaded.HistoryWindow)
	}
	if loaded.Server.AdminToken != "s3cret" {
		t.Errorf("admin_token = %q, want s3cret", loaded.Server.AdminToken)
	}
}

func TestValidateValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig should be valid, got: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no corpus", func(c *Config) { c.Corpus.URL, c.Corpus.Path = "", "" }},
		{"ftp corpus", func(c *Config) { c.Corpus.URL = "ftp://example.com/pack.json" }},
		{"bad allowed url", func(c *Config) { c.Corpus.AllowedURLs = []string{"file:///etc/passwd"} }},
		{"zero hard cap", func(c *Config) { c.Budget.HardCap = 0 }},
		{"soft above hard", func(c *Config) { c.Budget.ProviderSoftCap = c.Budget.HardCap + 1 }},
		{"warn above hard", func(c *Config) { c.Budget.WarnAt = c.Budget.HardCap + 1 }},
		{"invalid provider", func(c *Config) { c.Providers[0].Type = "invalid" }},
		{"empty model", func(c *Config) { c.Providers[0].Model = "" }},
		{"duplicate name", func(c *Config) { c.Providers[1].Name = c.Providers[0].Name }},
		{"compatible without url", func(c *Config) {
			c.Providers = []ProviderConfig{{Type: ProviderOpenAICompatible, Model: "m"}}
		}},
		{"negative rpm", func(c *Config) { c.Providers[0].RPM = -1 }},
		{"ondevice without model", func(c *Config) { c.OnDevice.Enabled, c.OnDevice.Model = true, "" }},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero rate", func(c *Config) { c.Server.RateLimitPerMinute = 0 }},
		{"negative window", func(c *Config) { c.HistoryWindow = -1 }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestPackAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Corpus.URL = "https://example.com/a.json"
	cfg.Corpus.AllowedURLs = []string{"https://example.com/b.json"}

	if !cfg.PackAllowed("https://example.com/a.json") || !cfg.PackAllowed("https://example.com/b.json") {
		t.Error("configured urls must be allowed")
	}
	if cfg.PackAllowed("https://evil.example/c.json") || cfg.PackAllowed("") {
		t.Error("unlisted urls must be rejected")
	}
}

func TestGetPreset(t *testing.T) {
	if m := GetPreset(ProviderAnthropic, QualityLite); m != "claude-haiku-4-5-20251001" {
		t.Errorf("expected haiku model, got %q", m)
	}
	if m := GetPreset(ProviderOpenAI, QualityMax); m != "gpt-4" {
		t.Errorf("expected gpt-4, got %q", m)
	}
	// Unknown combination falls back.
	if m := GetPreset("unknown", QualityLite); m != "claude-sonnet-4-5-20250929" {
		t.Errorf("expected fallback to sonnet, got %q", m)
	}
}

func TestAPIKeyEnvVar(t *testing.T) {
	tests := []struct {
		provider ProviderType
		want     string
	}{
		{ProviderAnthropic, "ANTHROPIC_API_KEY"},
		{ProviderOpenAI, "OPENAI_API_KEY"},
		{ProviderGoogle, "GOOGLE_API_KEY"},
		{ProviderOpenRouter, "OPENROUTER_API_KEY"},
		{ProviderOllama, ""},
	}
	for _, tt := range tests {
		got := APIKeyEnvVar(tt.provider)
		if got != tt.want {
			t.Errorf("APIKeyEnvVar(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"anthropic", []string{"anthropic"}},
		{"", nil},
		{"  ,  , ", nil},
	}
	for _, tt := range tests {
		got := splitAndTrim(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("splitAndTrim(%q) len = %d, want %d", tt.input, len(got), len(tt.want))
			continue
		}
		for i, v := range got {
			if v != tt.want[i] {
				t.Errorf("splitAndTrim(%q)[%d] = %q, want %q", tt.input, i, v, tt.want[i])
			}
		}
	}
}
