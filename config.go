package llmgateway

import (
	"github.com/ferro-labs/llm-gateway/providers"
)

// Config holds the configuration for the LLM call gateway.
type Config struct {
	// DefaultProvider is used when a call carries no provider hint.
	DefaultProvider string `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
	// DefaultModel is used when a call or chain entry names no model.
	DefaultModel string `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	// Chain lists fallback candidates tried in order after the primary.
	Chain []providers.ChainEntry `json:"chain,omitempty" yaml:"chain,omitempty"`

	// RetryMax is the number of retries per chain entry after the first
	// attempt (default 2). Any negative value disables retries.
	RetryMax int `json:"retry_max,omitempty" yaml:"retry_max,omitempty"`
	// RetryBackoffBaseMs is the backoff base in milliseconds (default 50).
	RetryBackoffBaseMs int `json:"retry_backoff_base_ms,omitempty" yaml:"retry_backoff_base_ms,omitempty"`
	// RetryBackoffJitterMs bounds the uniform jitter added to each
	// backoff (default 25).
	RetryBackoffJitterMs int `json:"retry_backoff_jitter_ms,omitempty" yaml:"retry_backoff_jitter_ms,omitempty"`

	// TokensCap caps estimated completion tokens per call (optional).
	// The effective cap is the minimum of this and the call's max_tokens.
	TokensCap *int `json:"tokens_cap,omitempty" yaml:"tokens_cap,omitempty"`
	// CostCapUSD caps accumulated USD cost per call (optional).
	CostCapUSD *float64 `json:"cost_cap_usd,omitempty" yaml:"cost_cap_usd,omitempty"`

	// CircuitBreaker configures the per-provider breaker (optional).
	CircuitBreaker *BreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`

	// Audit, Server, and Telemetry are consumed by the llmgw binary.
	// Library embedders wire stores and tracing themselves.
	Audit     AuditConfig     `json:"audit,omitempty" yaml:"audit,omitempty"`
	Server    ServerConfig    `json:"server,omitempty" yaml:"server,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// AuditConfig selects the audit store backend for the server binary.
type AuditConfig struct {
	// Driver is one of "none" (default), "fs", "sqlite", or "postgres".
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	// Dir is the artifact root for the fs driver.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// DSN is the connection string for sqlite/postgres drivers.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// ServerConfig holds HTTP listener settings for the server binary.
type ServerConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// TelemetryConfig holds tracing settings for the server binary.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Exporter    string `json:"exporter,omitempty" yaml:"exporter,omitempty"` // "otlp" or "stdout"
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty" yaml:"service_name,omitempty"`
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int    `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int    `json:"success_threshold" yaml:"success_threshold"`
	Cooldown         string `json:"cooldown" yaml:"cooldown"` // duration, e.g. "30s"
}

// Defaults applied by New for zero-valued retry settings.
const (
	DefaultRetryMax             = 2
	DefaultRetryBackoffBaseMs   = 50
	DefaultRetryBackoffJitterMs = 25
)

// withDefaults returns cfg with zero retry settings replaced by defaults.
// A negative RetryMax means "no retries" and is normalised to zero.
func (c Config) withDefaults() Config {
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.RetryBackoffBaseMs == 0 {
		c.RetryBackoffBaseMs = DefaultRetryBackoffBaseMs
	}
	if c.RetryBackoffBaseMs < 0 {
		c.RetryBackoffBaseMs = 0
	}
	if c.RetryBackoffJitterMs == 0 {
		c.RetryBackoffJitterMs = DefaultRetryBackoffJitterMs
	}
	if c.RetryBackoffJitterMs < 0 {
		c.RetryBackoffJitterMs = 0
	}
	return c
}
