package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"rankforge/internal/engine"
	"rankforge/internal/llm"
)

// Config is the application configuration
type Config struct {
	Engine          EngineConfig    `toml:"engine"`
	Model           ModelConfig     `toml:"model"`
	PromptTemplates PromptTemplates `toml:"prompt_templates"`
}

// EngineConfig holds the coordinator tuning knobs. Zero values mean "use the
// default"; see applyDefaults.
type EngineConfig struct {
	OverGenerationFactor  float64 `toml:"over_generation_factor"`
	BackfillFactor        float64 `toml:"backfill_factor"`
	MinBackfillFraction   float64 `toml:"min_backfill_fraction"` // -1 disables the floor
	MaxBackfillPasses     int     `toml:"max_backfill_passes"`
	AvoidWindowSize       int     `toml:"avoid_window_size"`
	TopRepeatedHints      int     `toml:"top_repeated_hints"`
	ResponseTokenBudget   int     `toml:"response_token_budget"`
	AvoidListTokenBudget  int     `toml:"avoid_list_token_budget"`
	AvgTokensPerItem      int     `toml:"avg_tokens_per_item"`
	ResponseTokenSlack    int     `toml:"response_token_slack"`
	MaxRetries            int     `toml:"max_retries"` // -1 disables retries
	GuidedBackfill        bool    `toml:"guided_backfill"`
	DiverseTemperature    float64 `toml:"diverse_temperature"`
	DiverseTopP           float64 `toml:"diverse_top_p"`
	EscalationTemperature float64 `toml:"escalation_temperature"`
	EscalationTopK        int     `toml:"escalation_top_k"`
	AttemptTimeoutSeconds int     `toml:"attempt_timeout_seconds"`
}

// ModelConfig describes the generative-model endpoint
type ModelConfig struct {
	BaseURL            string `toml:"base_url"`
	ModelName          string `toml:"model_name"`
	Instructions       string `toml:"instructions"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
}

// PromptTemplates overrides the built-in prompt templates
type PromptTemplates struct {
	ListGeneration   string `toml:"list_generation"`
	BackfillGuided   string `toml:"backfill_guided"`
	BackfillUnguided string `toml:"backfill_unguided"`
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if c.Model.ModelName == "" {
		return fmt.Errorf("model.model_name is required")
	}
	if c.Model.RateLimitPerMinute < 1 {
		return fmt.Errorf("model.rate_limit_per_minute must be at least 1 (got %d)", c.Model.RateLimitPerMinute)
	}
	if c.Engine.DiverseTemperature < 0 || c.Engine.DiverseTemperature > 2 {
		return fmt.Errorf("engine.diverse_temperature must be between 0 and 2 (got %.2f)", c.Engine.DiverseTemperature)
	}
	if c.Engine.EscalationTemperature < 0 || c.Engine.EscalationTemperature > 2 {
		return fmt.Errorf("engine.escalation_temperature must be between 0 and 2 (got %.2f)", c.Engine.EscalationTemperature)
	}
	if c.Engine.DiverseTopP <= 0 || c.Engine.DiverseTopP > 1 {
		return fmt.Errorf("engine.diverse_top_p must be between 0 and 1 (got %.2f)", c.Engine.DiverseTopP)
	}
	// The rest of the engine knobs are validated by engine.Config itself
	ec := c.EngineConfig()
	return ec.Validate()
}

// EngineConfig maps the TOML view onto the coordinator's config struct
func (c *Config) EngineConfig() engine.Config {
	maxRetries := c.Engine.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	minBackfill := c.Engine.MinBackfillFraction
	if minBackfill < 0 {
		minBackfill = 0
	}
	return engine.Config{
		OverGenFactor:         c.Engine.OverGenerationFactor,
		BackfillFactor:        c.Engine.BackfillFactor,
		MinBackfillFraction:   minBackfill,
		MaxBackfillPasses:     c.Engine.MaxBackfillPasses,
		AvoidWindowSize:       c.Engine.AvoidWindowSize,
		TopRepeatedHints:      c.Engine.TopRepeatedHints,
		ResponseTokenBudget:   c.Engine.ResponseTokenBudget,
		AvoidListTokenBudget:  c.Engine.AvoidListTokenBudget,
		AvgTokensPerItem:      c.Engine.AvgTokensPerItem,
		ResponseTokenSlack:    c.Engine.ResponseTokenSlack,
		MaxRetries:            maxRetries,
		GuidedBackfill:        c.Engine.GuidedBackfill,
		DiverseTemperature:    c.Engine.DiverseTemperature,
		DiverseTopP:           c.Engine.DiverseTopP,
		EscalationTemperature: c.Engine.EscalationTemperature,
		EscalationTopK:        c.Engine.EscalationTopK,
		Templates: engine.Templates{
			ListGeneration:   c.PromptTemplates.ListGeneration,
			BackfillGuided:   c.PromptTemplates.BackfillGuided,
			BackfillUnguided: c.PromptTemplates.BackfillUnguided,
		},
	}
}

// SessionConfig maps the TOML view onto the HTTP session config
func (c *Config) SessionConfig(apiKey string) llm.HTTPConfig {
	return llm.HTTPConfig{
		BaseURL:            c.Model.BaseURL,
		ModelName:          c.Model.ModelName,
		APIKey:             apiKey,
		Instructions:       c.Model.Instructions,
		RateLimitPerMinute: c.Model.RateLimitPerMinute,
		HTTPTimeout:        time.Duration(c.Model.HTTPTimeoutSeconds) * time.Second,
	}
}

// AttemptTimeout returns the per-attempt deadline for the generation client
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Engine.AttemptTimeoutSeconds) * time.Second
}

// Secrets holds credentials loaded from environment variables, never from the
// config file.
type Secrets struct {
	APIKeys map[string]string
}

// LoadSecrets reads API keys from the environment
func LoadSecrets() *Secrets {
	secrets := &Secrets{APIKeys: make(map[string]string)}

	// Generic key works for any OpenAI-compatible provider
	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		secrets.APIKeys["openrouter"] = key
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		secrets.APIKeys["together"] = key
	}
	return secrets
}

// GetAPIKey returns the key matching the base URL's provider, falling back to
// the generic key, then empty (local servers without auth).
func (s *Secrets) GetAPIKey(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "openai.com"):
		if key := s.APIKeys["openai"]; key != "" {
			return key
		}
	case strings.Contains(baseURL, "openrouter.ai"):
		if key := s.APIKeys["openrouter"]; key != "" {
			return key
		}
	case strings.Contains(baseURL, "together.xyz"), strings.Contains(baseURL, "together.ai"):
		if key := s.APIKeys["together"]; key != "" {
			return key
		}
	}
	return s.APIKeys["generic"]
}
