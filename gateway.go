// Package llmgateway orchestrates streaming LLM calls across a chain of
// provider adapters. A Gateway resolves the provider chain for each
// call, persists a redacted audit record before every provider is
// invoked, retries transient failures with exponential backoff, fails
// over to the next chain entry when a provider is exhausted, enforces
// token and cost budgets mid-stream, and emits lifecycle events for
// live observers throughout.
package llmgateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ferro-labs/llm-gateway/internal/audit"
	"github.com/ferro-labs/llm-gateway/internal/budget"
	"github.com/ferro-labs/llm-gateway/internal/events"
	"github.com/ferro-labs/llm-gateway/internal/logging"
	"github.com/ferro-labs/llm-gateway/internal/metrics"
	"github.com/ferro-labs/llm-gateway/internal/redact"
	"github.com/ferro-labs/llm-gateway/internal/telemetry"
	"github.com/ferro-labs/llm-gateway/providers"
)

// CancelFlag is a cooperative cancellation signal shared between the
// caller and an in-flight call. The consume loop checks it once per
// streamed token.
type CancelFlag struct {
	set atomic.Bool
}

// Set requests cancellation. Safe to call from any goroutine.
func (f *CancelFlag) Set() { f.set.Store(true) }

// IsSet reports whether cancellation was requested. Nil-safe.
func (f *CancelFlag) IsSet() bool { return f != nil && f.set.Load() }

// CallRequest describes one logical streaming call.
type CallRequest struct {
	// RunID correlates events, audit records, and logs. Required.
	RunID string
	// TraceID is an external correlation ID recorded in audit records
	// and spans. Optional.
	TraceID string
	// Prompt is the user prompt. Never logged or persisted raw.
	Prompt string
	// Params carries the provider/model hint and sampling parameters.
	Params providers.CallParams
	// ContextHash optionally identifies the conversation context that
	// produced this prompt. Stored in the audit record as-is.
	ContextHash string
	// Cancel, when non-nil, allows the caller to abort the stream.
	Cancel *CancelFlag
}

// CallSummary is the result of a finished call.
type CallSummary struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	TokensPrompt     int     `json:"tokens_prompt"`
	TokensCompletion int     `json:"tokens_completion"`
	FinishReason     string  `json:"finish_reason"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
	// Error is set to "budget_exhausted" on a budget abort; the call
	// itself still returns successfully.
	Error string `json:"error,omitempty"`
}

// Gateway coordinates provider selection, retries, failover, budget
// enforcement, events, and audit persistence for streaming LLM calls.
// All dependencies are injected; the zero-dependency default emits no
// events and persists no audit records.
type Gateway struct {
	config   Config
	registry *providers.Registry
	emitter  events.Emitter
	store    audit.Store
	estimate budget.Estimator

	mu       sync.Mutex
	seqs     map[string]int
	breakers map[string]breaker

	// sleep is swapped out in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// breaker is the subset of circuitbreaker.Breaker the gateway needs.
type breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
}

// New creates a Gateway from a validated configuration. Adapters are
// registered afterwards with RegisterAdapter.
func New(cfg Config) (*Gateway, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Gateway{
		config:   cfg.withDefaults(),
		registry: providers.NewRegistry(),
		emitter:  events.NopEmitter{},
		store:    audit.NopStore{},
		estimate: budget.WordCount,
		seqs:     make(map[string]int),
		breakers: make(map[string]breaker),
		sleep:    sleepContext,
	}, nil
}

// RegisterAdapter registers a stream factory under a provider name.
func (g *Gateway) RegisterAdapter(name string, f providers.StreamFactory) {
	g.registry.Register(name, f)
}

// SetEmitter installs the lifecycle event sink. Nil restores the no-op.
func (g *Gateway) SetEmitter(e events.Emitter) {
	if e == nil {
		e = events.NopEmitter{}
	}
	g.emitter = e
}

// SetAuditStore installs the audit record sink. Nil restores the no-op.
func (g *Gateway) SetAuditStore(s audit.Store) {
	if s == nil {
		s = audit.NopStore{}
	}
	g.store = s
}

// SetEstimator replaces the token estimator used for prompts and for
// streams whose provider reports no exact usage. Nil restores the
// word-count default.
func (g *Gateway) SetEstimator(e budget.Estimator) {
	if e == nil {
		e = budget.WordCount
	}
	g.estimate = e
}

// SetBreaker installs a circuit breaker for one provider. Without a
// breaker the provider is always allowed.
func (g *Gateway) SetBreaker(provider string, b breaker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.breakers[providers.NormalizeName(provider)] = b
}

// Run executes one streaming call against the resolved provider chain
// and blocks until the stream terminates. Budget aborts return a
// successful summary with FinishReason "stop_on_budget". A fully failed
// chain returns *providers.ExhaustedError.
func (g *Gateway) Run(ctx context.Context, req CallRequest) (*CallSummary, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	ctx = logging.WithRunID(ctx, req.RunID)
	if req.TraceID != "" {
		ctx = logging.WithTraceID(ctx, req.TraceID)
	}
	log := logging.FromContext(ctx)

	chain, err := providers.ResolveChain(
		req.Params.Provider, req.Params.Model,
		g.config.DefaultProvider, g.config.DefaultModel,
		g.config.Chain,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve provider chain: %w", err)
	}

	labels := make([]string, len(chain))
	for i, h := range chain {
		labels[i] = h.Label()
	}

	ctx, span := telemetry.Tracer().Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("llm.run_id", req.RunID),
		attribute.String("llm.trace_id", req.TraceID),
		attribute.StringSlice("llm.chain", labels),
	))
	defer span.End()

	attempted := make([]string, 0, len(chain))
	for i, handle := range chain {
		eff := req.Params.Merged(handle)
		// A caller-pinned model overrides the entry's model, so labels
		// come from the effective params, not the chain entry.
		effLabel := providers.Handle{Provider: eff.Provider, Model: eff.Model}.Label()
		h := callHashes{
			params: redact.HashJSON(redact.Value(eff.Payload())),
			prompt: redact.HashText(req.Prompt),
		}
		if ins := eff.Instructions(); ins != "" {
			h.instructions = redact.HashText(ins)
		}

		// The audit record must be issued before the provider is invoked.
		seq := g.nextSequence(req.RunID)
		g.persistRequest(ctx, req, eff, h, seq, log)

		g.emit(ctx, req.RunID, events.TypeProviderSelected, map[string]any{
			"provider":          eff.Provider,
			"model":             eff.Model,
			"params_hash":       h.params,
			"prompt_hash":       h.prompt,
			"instructions_hash": orNil(h.instructions),
			"chain_index":       i,
			"chain_length":      len(chain),
		})

		attemptCtx, attemptSpan := telemetry.Tracer().Start(ctx, "llm.attempt", trace.WithAttributes(
			attribute.String("llm.provider", eff.Provider),
			attribute.String("llm.model", eff.Model),
			attribute.Int("llm.chain_index", i),
		))

		summary, attempts, entryErr := g.runEntry(attemptCtx, req, eff, h, i, len(chain), log)
		if entryErr == nil {
			attemptSpan.End()
			return summary, nil
		}
		attemptSpan.RecordError(entryErr)
		attemptSpan.SetStatus(codes.Error, entryErr.Error())
		attemptSpan.End()

		attempted = append(attempted, effLabel)
		perr := providers.AsError(entryErr, providers.CategoryProviderError)

		if !providers.FailoverEligible(perr) {
			span.SetStatus(codes.Error, perr.Error())
			return nil, perr
		}
		if i == len(chain)-1 {
			exhausted := &providers.ExhaustedError{Attempted: attempted}
			span.SetStatus(codes.Error, exhausted.Error())
			return nil, exhausted
		}

		nextEff := req.Params.Merged(chain[i+1])
		g.emit(ctx, req.RunID, events.TypeProviderFailover, map[string]any{
			"from_provider": eff.Provider,
			"from_model":    eff.Model,
			"to_provider":   nextEff.Provider,
			"to_model":      nextEff.Model,
			"attempt":       attempts,
			"chain_index":   i,
			"category":      perr.Category,
		})
		metrics.FallbackTotal.WithLabelValues(eff.Provider, nextEff.Provider).Inc()
		log.Warn("provider failover",
			"from", effLabel,
			"to", providers.Handle{Provider: nextEff.Provider, Model: nextEff.Model}.Label(),
			"category", perr.Category, "error", perr.Message)
	}

	// Unreachable: the loop always returns from the last entry.
	return nil, &providers.ExhaustedError{Attempted: attempted}
}

// runEntry executes the retry loop for one chain entry. It returns the
// summary on success, or the last attempt's error and the number of
// attempts made.
func (g *Gateway) runEntry(ctx context.Context, req CallRequest, eff providers.CallParams, h callHashes, chainIndex, chainLen int, log *slog.Logger) (*CallSummary, int, error) {
	attempt := 0
	for {
		attempt++
		summary, err := g.runAttempt(ctx, req, eff, h, attempt, chainIndex, chainLen)
		if err == nil {
			g.emit(ctx, req.RunID, events.TypeProviderSucceeded, map[string]any{
				"provider":    eff.Provider,
				"model":       eff.Model,
				"attempt":     attempt,
				"chain_index": chainIndex,
			})
			return summary, attempt, nil
		}

		perr := providers.AsError(err, providers.CategoryProviderError)
		g.emit(ctx, req.RunID, events.TypeError, map[string]any{
			"provider":  eff.Provider,
			"model":     eff.Model,
			"category":  perr.Category,
			"message":   perr.Message,
			"retryable": perr.Retryable,
			"violation": perr.Violation,
			"attempt":   attempt,
		})
		metrics.FailuresTotal.WithLabelValues(eff.Provider, eff.Model, perr.Category).Inc()
		log.Error("provider attempt failed",
			"provider", eff.Provider, "model", eff.Model,
			"attempt", attempt, "category", perr.Category, "error", perr.Message)

		if shouldRetry(perr, attempt, g.config.RetryMax) {
			delay := backoffDelay(attempt-1, g.config.RetryBackoffBaseMs, g.config.RetryBackoffJitterMs)
			if serr := g.sleep(ctx, delay); serr == nil {
				continue
			}
			// Backoff interrupted by context cancellation. The entry is
			// done, so it still gets its terminal marker.
		}

		g.emit(ctx, req.RunID, events.TypeProviderFailed, map[string]any{
			"provider":    eff.Provider,
			"model":       eff.Model,
			"attempt":     attempt,
			"chain_index": chainIndex,
		})
		return nil, attempt, perr
	}
}

// callHashes carries the per-entry content hashes shared between the
// audit record and lifecycle events.
type callHashes struct {
	params       string
	prompt       string
	instructions string
}

// persistRequest writes the redacted audit record for one chain entry.
// Failures are logged but never fail the call.
func (g *Gateway) persistRequest(ctx context.Context, req CallRequest, eff providers.CallParams, h callHashes, seq int, log *slog.Logger) {
	params, _ := redact.Value(eff.Payload()).(map[string]any)
	rec := audit.Record{
		TraceID:          req.TraceID,
		RunID:            req.RunID,
		Provider:         eff.Provider,
		Model:            eff.Model,
		Params:           params,
		PromptHash:       h.prompt,
		InstructionsHash: h.instructions,
		ContextHash:      req.ContextHash,
	}
	data, err := rec.Encode()
	if err != nil {
		log.Warn("encode audit record", "error", err)
		return
	}
	path := audit.RequestPath(req.RunID, seq)
	if _, err := g.store.Put(ctx, req.RunID, path, data, "application/json"); err != nil {
		log.Warn("persist audit record", "path", path, "error", err)
	}
}

// nextSequence increments and returns the per-run audit sequence.
func (g *Gateway) nextSequence(runID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seqs[runID]++
	return g.seqs[runID]
}

// breakerFor returns the breaker installed for a provider, or nil.
func (g *Gateway) breakerFor(provider string) breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breakers[providers.NormalizeName(provider)]
}

func (g *Gateway) emit(ctx context.Context, runID, eventType string, fields map[string]any) {
	g.emitter.Emit(ctx, runID, eventType, fields)
}

// orNil turns an empty string into JSON null for event payloads.
func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// sleepContext pauses for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
