package llmgateway

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ferro-labs/llm-gateway/internal/budget"
	"github.com/ferro-labs/llm-gateway/internal/events"
	"github.com/ferro-labs/llm-gateway/internal/metrics"
	"github.com/ferro-labs/llm-gateway/providers"
)

// runAttempt opens one provider stream and consumes it to termination.
// It returns a summary when the stream ends in success, budget abort,
// or cancellation, and an error for every failure outcome.
func (g *Gateway) runAttempt(ctx context.Context, req CallRequest, eff providers.CallParams, h callHashes, attempt, chainIndex, chainLen int) (*CallSummary, error) {
	runID := req.RunID

	g.emit(ctx, runID, events.TypeStarting, map[string]any{
		"provider":          eff.Provider,
		"model":             eff.Model,
		"params_hash":       h.params,
		"prompt_hash":       h.prompt,
		"instructions_hash": orNil(h.instructions),
		"attempt":           attempt,
		"chain_index":       chainIndex,
		"chain_length":      chainLen,
		"violation":         false,
	})

	br := g.breakerFor(eff.Provider)
	if br != nil && !br.Allow() {
		return nil, providers.New(
			fmt.Sprintf("provider %q circuit open", eff.Provider),
			providers.CategoryProviderUnavailable,
		)
	}

	factory, ok := g.registry.Get(eff.Provider)
	if !ok {
		return nil, providers.New(
			fmt.Sprintf("no stream adapter registered for provider %q", eff.Provider),
			providers.CategoryProviderUnavailable,
		)
	}

	meta := providers.CallMeta{RunID: runID, TraceID: req.TraceID, Attempt: attempt}
	stream, err := factory.OpenStream(ctx, req.Prompt, eff, providers.Handle{Provider: eff.Provider, Model: eff.Model}, meta)
	if err != nil {
		if br != nil {
			br.RecordFailure()
		}
		return nil, providers.AsError(err, providers.CategoryProviderError)
	}

	enforcer := budget.NewEnforcer(g.config.TokensCap, eff.MaxTokens, g.config.CostCapUSD, g.estimate)

	promptTokens := stream.Usage().PromptTokens
	if promptTokens == 0 {
		promptTokens = enforcer.Estimate(req.Prompt)
	}
	if promptTokens > 0 {
		metrics.TokensTotal.WithLabelValues(eff.Provider, eff.Model, "prompt").Add(float64(promptTokens))
	}

	var (
		completionTokens int
		costUSD          float64
		exactUsage       bool
		finishReason     string
		idx              int
		terminated       bool
	)

	newSummary := func(reason, errStr string) *CallSummary {
		return &CallSummary{
			Provider:         eff.Provider,
			Model:            eff.Model,
			TokensPrompt:     promptTokens,
			TokensCompletion: completionTokens,
			FinishReason:     reason,
			CostUSD:          costUSD,
			Error:            errStr,
		}
	}

consume:
	for {
		// Cooperative cancellation, checked once per loop iteration.
		if req.Cancel.IsSet() || ctx.Err() != nil {
			stream.Cancel()
			reason := "flag"
			if ctx.Err() != nil {
				reason = "context"
			}
			g.emit(ctx, runID, events.TypeCanceled, map[string]any{
				"provider": eff.Provider,
				"model":    eff.Model,
				"reason":   reason,
			})
			return newSummary(providers.FinishCanceled, ""), nil
		}

		ev, open := <-stream.Events
		if !open {
			// Channel closed without a terminal event: treat as a
			// normal stop with whatever was observed so far.
			break consume
		}

		switch ev.Type {
		case providers.EventToken:
			g.emit(ctx, runID, events.TypeToken, map[string]any{
				"delta": ev.Delta,
				"idx":   idx,
			})
			idx++

			if ev.Usage != nil && ev.Usage.CompletionTokens > 0 {
				if inc := ev.Usage.CompletionTokens - completionTokens; inc > 0 {
					metrics.TokensTotal.WithLabelValues(eff.Provider, eff.Model, "completion").Add(float64(inc))
				}
				completionTokens = ev.Usage.CompletionTokens
				exactUsage = true
			} else if !exactUsage {
				if inc := enforcer.Estimate(ev.Delta); inc > 0 {
					completionTokens += inc
					metrics.TokensTotal.WithLabelValues(eff.Provider, eff.Model, "completion").Add(float64(inc))
				}
			}
			if ev.Usage != nil && ev.Usage.CostUSD > 0 {
				costUSD = ev.Usage.CostUSD
			}

			if reason, hit := enforcer.Check(completionTokens, costUSD); hit {
				stream.Cancel()
				if br != nil {
					br.RecordSuccess()
				}
				return g.abortOnBudget(ctx, req, eff, newSummary, reason, attempt, chainIndex, completionTokens, promptTokens, costUSD)
			}

		case providers.EventComplete:
			finishReason = ev.FinishReason
			if u := ev.Usage; u != nil {
				if u.PromptTokens > 0 {
					promptTokens = u.PromptTokens
				}
				if u.CompletionTokens > 0 {
					if inc := u.CompletionTokens - completionTokens; inc > 0 {
						metrics.TokensTotal.WithLabelValues(eff.Provider, eff.Model, "completion").Add(float64(inc))
					}
					completionTokens = u.CompletionTokens
				}
				if u.CostUSD > 0 {
					costUSD = u.CostUSD
				}
			}
			terminated = true
			break consume

		case providers.EventError:
			stream.Cancel()
			if br != nil {
				br.RecordFailure()
			}
			return nil, ev.Err()
		}
	}

	// Providers may publish a final usage snapshot on the stream itself.
	if u := stream.Usage(); terminated || u.CompletionTokens > 0 {
		if u.PromptTokens > promptTokens {
			promptTokens = u.PromptTokens
		}
		if u.CompletionTokens > completionTokens {
			completionTokens = u.CompletionTokens
		}
		if u.CostUSD > costUSD {
			costUSD = u.CostUSD
		}
	}
	if finishReason == "" {
		finishReason = providers.FinishStop
	}

	if br != nil {
		br.RecordSuccess()
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("llm.tokens_prompt", promptTokens),
		attribute.Int("llm.tokens_completion", completionTokens),
		attribute.String("llm.finish_reason", finishReason),
	)

	fields := map[string]any{
		"provider":          eff.Provider,
		"model":             eff.Model,
		"finish_reason":     finishReason,
		"tokens_prompt":     promptTokens,
		"tokens_completion": completionTokens,
	}
	if costUSD > 0 {
		fields["cost_usd"] = costUSD
	}
	g.emit(ctx, runID, events.TypeComplete, fields)

	return newSummary(finishReason, ""), nil
}

// abortOnBudget finishes an attempt whose stream hit a token or cost
// cap. The abort is a successful return: the caller keeps the partial
// output, and the summary flags the truncation.
func (g *Gateway) abortOnBudget(ctx context.Context, req CallRequest, eff providers.CallParams, newSummary func(reason, errStr string) *CallSummary, reason budget.Reason, attempt, chainIndex, completionTokens, promptTokens int, costUSD float64) (*CallSummary, error) {
	runID := req.RunID

	g.emit(ctx, runID, events.TypeError, map[string]any{
		"provider":  eff.Provider,
		"model":     eff.Model,
		"category":  providers.CategoryBudgetExhausted,
		"message":   fmt.Sprintf("budget exhausted: %s", reason),
		"retryable": false,
		"violation": true,
		"attempt":   attempt,
	})
	g.emit(ctx, runID, events.TypeBudgetExhausted, map[string]any{
		"provider":          eff.Provider,
		"model":             eff.Model,
		"reason":            string(reason),
		"chain_index":       chainIndex,
		"tokens_prompt":     promptTokens,
		"tokens_completion": completionTokens,
		"cost_usd":          costUSD,
	})
	metrics.BudgetAbortTotal.WithLabelValues(eff.Provider, eff.Model, string(reason)).Inc()

	fields := map[string]any{
		"provider":          eff.Provider,
		"model":             eff.Model,
		"finish_reason":     providers.FinishBudget,
		"tokens_prompt":     promptTokens,
		"tokens_completion": completionTokens,
		"budget_exhausted":  true,
	}
	if costUSD > 0 {
		fields["cost_usd"] = costUSD
	}
	g.emit(ctx, runID, events.TypeComplete, fields)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("llm.budget_abort_reason", string(reason)),
		attribute.Int("llm.tokens_completion", completionTokens),
	)

	return newSummary(providers.FinishBudget, "budget_exhausted"), nil
}
