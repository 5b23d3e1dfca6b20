package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"rankforge/internal/engine"
)

// Load reads the configuration file, applies defaults, validates, and loads
// secrets from the environment.
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, LoadSecrets(), nil
}

// Default returns a configuration with every knob at its default, for
// callers that skip the config file entirely.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults fills unset fields. The engine knob defaults come from the
// engine package so the two never drift apart.
func applyDefaults(cfg *Config) {
	defaults := engine.DefaultConfig()

	if cfg.Engine.OverGenerationFactor == 0 {
		cfg.Engine.OverGenerationFactor = defaults.OverGenFactor
	}
	if cfg.Engine.BackfillFactor == 0 {
		cfg.Engine.BackfillFactor = defaults.BackfillFactor
	}
	// In TOML, 0 is indistinguishable from unset: use -1 to disable the floor
	if cfg.Engine.MinBackfillFraction == 0 {
		cfg.Engine.MinBackfillFraction = defaults.MinBackfillFraction
	}
	if cfg.Engine.MaxBackfillPasses == 0 {
		cfg.Engine.MaxBackfillPasses = defaults.MaxBackfillPasses
	}
	if cfg.Engine.AvoidWindowSize == 0 {
		cfg.Engine.AvoidWindowSize = defaults.AvoidWindowSize
	}
	if cfg.Engine.TopRepeatedHints == 0 {
		cfg.Engine.TopRepeatedHints = defaults.TopRepeatedHints
	}
	if cfg.Engine.ResponseTokenBudget == 0 {
		cfg.Engine.ResponseTokenBudget = defaults.ResponseTokenBudget
	}
	if cfg.Engine.AvoidListTokenBudget == 0 {
		cfg.Engine.AvoidListTokenBudget = defaults.AvoidListTokenBudget
	}
	if cfg.Engine.AvgTokensPerItem == 0 {
		cfg.Engine.AvgTokensPerItem = defaults.AvgTokensPerItem
	}
	if cfg.Engine.ResponseTokenSlack == 0 {
		cfg.Engine.ResponseTokenSlack = defaults.ResponseTokenSlack
	}
	// In TOML, 0 is indistinguishable from unset: use -1 to disable retries
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = defaults.MaxRetries
	}
	if cfg.Engine.DiverseTemperature == 0 {
		cfg.Engine.DiverseTemperature = defaults.DiverseTemperature
	}
	if cfg.Engine.DiverseTopP == 0 {
		cfg.Engine.DiverseTopP = defaults.DiverseTopP
	}
	if cfg.Engine.EscalationTemperature == 0 {
		cfg.Engine.EscalationTemperature = defaults.EscalationTemperature
	}
	if cfg.Engine.EscalationTopK == 0 {
		cfg.Engine.EscalationTopK = defaults.EscalationTopK
	}
	if cfg.Engine.AttemptTimeoutSeconds == 0 {
		cfg.Engine.AttemptTimeoutSeconds = 120
	}

	if cfg.Model.BaseURL == "" {
		cfg.Model.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Model.ModelName == "" {
		cfg.Model.ModelName = "llama3.1"
	}
	if cfg.Model.RateLimitPerMinute == 0 {
		cfg.Model.RateLimitPerMinute = 60
	}
	if cfg.Model.HTTPTimeoutSeconds == 0 {
		cfg.Model.HTTPTimeoutSeconds = 120
	}
}
