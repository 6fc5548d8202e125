// Package events defines the flat JSON lifecycle events the gateway
// emits for live observers, and a per-run fan-out that broadcasts them
// to multiple subscribers (e.g. SSE connections).
package events

import "context"

// Event type names emitted over a call's lifetime.
const (
	TypeProviderSelected  = "provider_selected"
	TypeStarting          = "starting"
	TypeToken             = "token"
	TypeComplete          = "complete"
	TypeError             = "error"
	TypeProviderFailed    = "provider_failed"
	TypeProviderSucceeded = "provider_succeeded"
	TypeProviderFailover  = "provider_failover"
	TypeBudgetExhausted   = "budget_exhausted"
	TypeCanceled          = "canceled"
)

// Emitter receives one flat, JSON-serializable event per lifecycle
// transition. Implementations must be safe for concurrent use and must
// not block the gateway for long: a slow observer must not stall a call.
type Emitter interface {
	Emit(ctx context.Context, runID, eventType string, fields map[string]any)
}

// Envelope wraps event fields in the shared envelope. Every payload
// carries event="llm", the type, and the run id so consumers can always
// correlate without reading transport framing.
func Envelope(runID, eventType string, fields map[string]any) map[string]any {
	payload := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		payload[k] = v
	}
	payload["event"] = "llm"
	payload["type"] = eventType
	payload["run_id"] = runID
	return payload
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, runID, eventType string, fields map[string]any)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, runID, eventType string, fields map[string]any) {
	f(ctx, runID, eventType, fields)
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(context.Context, string, string, map[string]any) {}
