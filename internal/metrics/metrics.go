// Package metrics registers the Prometheus metrics used by the gateway.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FailuresTotal counts provider attempt failures by category.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_failures_total",
			Help: "Total provider attempt failures by category.",
		},
		[]string{"provider", "model", "category"},
	)

	// FallbackTotal counts cross-provider failovers.
	FallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_provider_fallback_total",
			Help: "Total failovers from one provider to the next chain entry.",
		},
		[]string{"from_provider", "to_provider"},
	)

	// TokensTotal counts prompt and completion tokens, by kind.
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total tokens processed, labelled by kind (prompt|completion).",
		},
		[]string{"provider", "model", "kind"},
	)

	// BudgetAbortTotal counts streams aborted by a token or cost cap.
	BudgetAbortTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_budget_abort_total",
			Help: "Total streams aborted by budget caps, labelled by reason.",
		},
		[]string{"provider", "model", "reason"},
	)

	// StreamConsumers tracks live event-stream subscribers.
	StreamConsumers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llm_stream_consumers",
			Help: "Number of live event stream subscribers.",
		},
		[]string{"stream"},
	)
)
