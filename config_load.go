package llmgateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a gateway configuration from a YAML (.yaml/.yml) or
// JSON (.json) file, validates it and applies defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse YAML config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse JSON config %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}

	if err := ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg.withDefaults(), nil
}

// ValidateConfig checks a configuration for values the gateway cannot
// run with. Zero values are fine; defaults are applied separately. A
// negative retry_max is valid and disables retries.
func ValidateConfig(cfg Config) error {
	if cfg.RetryBackoffBaseMs < 0 {
		return fmt.Errorf("retry_backoff_base_ms must not be negative, got %d", cfg.RetryBackoffBaseMs)
	}
	if cfg.RetryBackoffJitterMs < 0 {
		return fmt.Errorf("retry_backoff_jitter_ms must not be negative, got %d", cfg.RetryBackoffJitterMs)
	}
	if cfg.TokensCap != nil && *cfg.TokensCap <= 0 {
		return fmt.Errorf("tokens_cap must be positive, got %d", *cfg.TokensCap)
	}
	if cfg.CostCapUSD != nil && *cfg.CostCapUSD <= 0 {
		return fmt.Errorf("cost_cap_usd must be positive, got %g", *cfg.CostCapUSD)
	}
	for i, entry := range cfg.Chain {
		if strings.TrimSpace(entry.Provider) == "" {
			return fmt.Errorf("chain[%d]: provider must not be empty", i)
		}
	}
	switch cfg.Audit.Driver {
	case "", "none", "fs", "sqlite", "postgres":
	default:
		return fmt.Errorf("audit.driver must be none, fs, sqlite or postgres, got %q", cfg.Audit.Driver)
	}
	if cb := cfg.CircuitBreaker; cb != nil {
		if cb.FailureThreshold < 0 {
			return fmt.Errorf("circuit_breaker.failure_threshold must not be negative, got %d", cb.FailureThreshold)
		}
		if cb.SuccessThreshold < 0 {
			return fmt.Errorf("circuit_breaker.success_threshold must not be negative, got %d", cb.SuccessThreshold)
		}
		if cb.Cooldown != "" {
			if _, err := time.ParseDuration(cb.Cooldown); err != nil {
				return fmt.Errorf("circuit_breaker.cooldown: %w", err)
			}
		}
	}
	return nil
}
