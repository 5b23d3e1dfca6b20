package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[model]
base_url = "https://openrouter.ai/api/v1"
model_name = "meta-llama/llama-3.1-70b-instruct"
`)
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine.OverGenerationFactor != 1.5 {
		t.Errorf("over_generation_factor default = %v, want 1.5", cfg.Engine.OverGenerationFactor)
	}
	if cfg.Engine.MaxBackfillPasses != 6 {
		t.Errorf("max_backfill_passes default = %d, want 6", cfg.Engine.MaxBackfillPasses)
	}
	if cfg.Engine.AvoidWindowSize != 40 {
		t.Errorf("avoid_window_size default = %d, want 40", cfg.Engine.AvoidWindowSize)
	}
	if cfg.Model.RateLimitPerMinute != 60 {
		t.Errorf("rate_limit_per_minute default = %d, want 60", cfg.Model.RateLimitPerMinute)
	}
	if cfg.AttemptTimeout() != 120*time.Second {
		t.Errorf("attempt timeout default = %v, want 120s", cfg.AttemptTimeout())
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
[engine]
over_generation_factor = 2.0
max_backfill_passes = 3
guided_backfill = true
max_retries = -1
min_backfill_fraction = -1

[model]
base_url = "http://localhost:8080/v1"
model_name = "local-model"
rate_limit_per_minute = 600
`)
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ec := cfg.EngineConfig()
	if ec.OverGenFactor != 2.0 {
		t.Errorf("OverGenFactor = %v, want 2.0", ec.OverGenFactor)
	}
	if ec.MaxBackfillPasses != 3 {
		t.Errorf("MaxBackfillPasses = %d, want 3", ec.MaxBackfillPasses)
	}
	if !ec.GuidedBackfill {
		t.Errorf("GuidedBackfill should be true")
	}
	// -1 in TOML disables retries and the backfill floor
	if ec.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0 (disabled)", ec.MaxRetries)
	}
	if ec.MinBackfillFraction != 0 {
		t.Errorf("MinBackfillFraction = %v, want 0 (floor disabled)", ec.MinBackfillFraction)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"temperature out of range", `
[engine]
diverse_temperature = 3.5

[model]
base_url = "http://localhost/v1"
model_name = "m"
`},
		{"top_p out of range", `
[engine]
diverse_top_p = 1.5

[model]
base_url = "http://localhost/v1"
model_name = "m"
`},
		{"bad toml", `this is [ not toml`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, _, err := Load(path); err == nil {
				t.Errorf("expected rejection")
			}
		})
	}
}

func TestLoadMissingBaseURLGetsDefault(t *testing.T) {
	// An omitted base_url defaults to the local endpoint rather than failing
	path := writeConfig(t, `
[model]
model_name = "m"
`)
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("base_url default = %q", cfg.Model.BaseURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}

func TestPromptTemplateOverride(t *testing.T) {
	path := writeConfig(t, `
[model]
base_url = "http://localhost/v1"
model_name = "m"

[prompt_templates]
list_generation = "Custom: {{.Query}} x{{.Count}}"
`)
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EngineConfig().Templates.ListGeneration != "Custom: {{.Query}} x{{.Count}}" {
		t.Errorf("template override not carried through")
	}
}

func TestGetAPIKey(t *testing.T) {
	secrets := &Secrets{APIKeys: map[string]string{
		"generic":    "gen-key",
		"openai":     "oai-key",
		"openrouter": "or-key",
	}}

	tests := []struct {
		baseURL string
		want    string
	}{
		{"https://api.openai.com/v1", "oai-key"},
		{"https://openrouter.ai/api/v1", "or-key"},
		{"https://api.together.xyz/v1", "gen-key"}, // no together key, generic fallback
		{"http://localhost:11434/v1", "gen-key"},
	}
	for _, tt := range tests {
		if got := secrets.GetAPIKey(tt.baseURL); got != tt.want {
			t.Errorf("GetAPIKey(%q) = %q, want %q", tt.baseURL, got, tt.want)
		}
	}

	empty := &Secrets{APIKeys: map[string]string{}}
	if got := empty.GetAPIKey("http://localhost:11434/v1"); got != "" {
		t.Errorf("no keys should yield empty string, got %q", got)
	}
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("API_KEY", "from-env")
	t.Setenv("OPENROUTER_API_KEY", "or-env")

	secrets := LoadSecrets()
	if secrets.APIKeys["generic"] != "from-env" {
		t.Errorf("generic key not loaded")
	}
	if secrets.APIKeys["openrouter"] != "or-env" {
		t.Errorf("openrouter key not loaded")
	}
}
