// Package providers defines the data model shared between the gateway
// orchestrator and the per-vendor stream adapters: call parameters, the
// provider chain, stream events, and the error taxonomy.
//
// A StreamFactory must be implemented by any backend that integrates with
// the gateway. Factories are registered in a Registry and looked up by
// provider name (case-insensitive).
package providers

import (
	"context"
	"strings"
	"sync"
)

// FinishReason values reported in call summaries and complete events.
const (
	FinishStop     = "stop"
	FinishBudget   = "stop_on_budget"
	FinishCanceled = "canceled"
)

// CallParams holds the immutable per-attempt configuration for a call.
// Extra carries vendor-specific fields (e.g. a system prompt under
// "system", "system_prompt", or "instructions").
type CallParams struct {
	Provider    string         `json:"provider,omitempty"`
	Model       string         `json:"model,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Merged returns a copy of p with the chain entry's provider applied.
// A caller-specified model takes precedence over the entry's model.
func (p CallParams) Merged(h Handle) CallParams {
	out := p
	out.Provider = h.Provider
	if out.Model == "" {
		out.Model = h.Model
	}
	return out
}

// Payload renders the parameters as a plain map suitable for redaction
// and hashing. Nil optional fields are omitted so identical logical
// inputs hash identically.
func (p CallParams) Payload() map[string]any {
	out := map[string]any{}
	if p.Provider != "" {
		out["provider"] = p.Provider
	}
	if p.Model != "" {
		out["model"] = p.Model
	}
	if p.Temperature != nil {
		out["temperature"] = *p.Temperature
	}
	if p.TopP != nil {
		out["top_p"] = *p.TopP
	}
	if p.MaxTokens != nil {
		out["max_tokens"] = *p.MaxTokens
	}
	if len(p.Extra) > 0 {
		extra := make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			extra[k] = v
		}
		out["extra"] = extra
	}
	return out
}

// Instructions returns the system-prompt text carried in Extra, if any.
func (p CallParams) Instructions() string {
	for _, key := range []string{"system", "system_prompt", "instructions"} {
		if s, ok := p.Extra[key].(string); ok {
			return s
		}
	}
	return ""
}

// Handle identifies one (provider, model) candidate in a chain, along
// with its position. Handles carry no mutable state.
type Handle struct {
	Provider string
	Model    string
	Index    int
}

// Label returns the "provider:model" form used in events and spans.
func (h Handle) Label() string {
	return h.Provider + ":" + h.Model
}

// CallMeta is the correlation metadata passed to stream adapters.
type CallMeta struct {
	RunID   string
	TraceID string
	Attempt int
}

// EventType discriminates the Event union.
type EventType string

// Stream event variants. Exactly one EventComplete or EventError
// terminates a stream; any number of EventToken may precede it.
const (
	EventToken    EventType = "token"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Usage carries token counts and accumulated cost for a stream.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Event is a single element of a provider stream.
type Event struct {
	Type EventType

	// Token fields.
	Delta string

	// Complete fields.
	FinishReason string

	// Usage deltas may accompany token or complete events.
	Usage *Usage

	// Error fields.
	Message   string
	Retryable bool
	Category  string
	Violation bool
}

// Err converts an error event into the taxonomy error it describes.
func (e Event) Err() *Error {
	msg := e.Message
	if msg == "" {
		msg = "provider error"
	}
	category := e.Category
	if category == "" {
		category = CategoryProviderError
	}
	return &Error{
		Message:   msg,
		Retryable: e.Retryable,
		Category:  category,
		Violation: e.Violation,
	}
}

// Stream is an open provider stream: a single-consumer, forward-only,
// non-restartable sequence of events plus an optional cancel action and
// a usage snapshot updated as events arrive.
type Stream struct {
	Events <-chan Event

	cancel func()
	once   sync.Once

	mu    sync.Mutex
	usage Usage
}

// NewStream wraps an event channel and an optional cancel action.
func NewStream(events <-chan Event, cancel func()) *Stream {
	return &Stream{Events: events, cancel: cancel}
}

// Cancel invokes the stream's cancel action at most once. A failing
// cancel must never mask the termination reason, so panics are swallowed.
func (s *Stream) Cancel() {
	s.once.Do(func() {
		if s.cancel == nil {
			return
		}
		defer func() { _ = recover() }()
		s.cancel()
	})
}

// SetUsage replaces the usage snapshot. Safe for concurrent use with
// Usage: producers update it while the consumer reads.
func (s *Stream) SetUsage(u Usage) {
	s.mu.Lock()
	s.usage = u
	s.mu.Unlock()
}

// Usage returns the current usage snapshot.
func (s *Stream) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// StreamFactory opens a provider stream for a prompt. Implementations
// must return either a *Error from this package or a generic error,
// which the orchestrator wraps with category "provider_error".
type StreamFactory interface {
	OpenStream(ctx context.Context, prompt string, params CallParams, handle Handle, meta CallMeta) (*Stream, error)
}

// StreamFactoryFunc adapts a function to the StreamFactory interface.
type StreamFactoryFunc func(ctx context.Context, prompt string, params CallParams, handle Handle, meta CallMeta) (*Stream, error)

// OpenStream implements StreamFactory.
func (f StreamFactoryFunc) OpenStream(ctx context.Context, prompt string, params CallParams, handle Handle, meta CallMeta) (*Stream, error) {
	return f(ctx, prompt, params, handle, meta)
}

// Base provides common fields shared by REST-based adapter
// implementations. Embed it to avoid repeating name, apiKey, and
// baseURL handling across adapters.
type Base struct {
	name    string
	apiKey  string
	baseURL string
}

// Name returns the adapter's provider name.
func (b *Base) Name() string { return b.name }

// BaseURL returns the adapter's API root (no trailing slash).
func (b *Base) BaseURL() string { return b.baseURL }

// NormalizeName lowercases a provider name for registry lookup.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
