package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestEnvelopeFields(t *testing.T) {
	payload := Envelope("run-1", TypeToken, map[string]any{"delta": "hi", "idx": 0})
	if payload["event"] != "llm" {
		t.Errorf("event = %v", payload["event"])
	}
	if payload["type"] != "token" || payload["run_id"] != "run-1" {
		t.Errorf("envelope = %v", payload)
	}
	if payload["delta"] != "hi" || payload["idx"] != 0 {
		t.Errorf("fields lost: %v", payload)
	}
}

func TestEnvelopeDoesNotMutateInput(t *testing.T) {
	fields := map[string]any{"delta": "x"}
	Envelope("r", TypeToken, fields)
	if len(fields) != 1 {
		t.Errorf("input fields mutated: %v", fields)
	}
}

// envelopeSchema pins the wire shape consumers rely on.
const envelopeSchema = `{
  "type": "object",
  "required": ["event", "type", "run_id"],
  "properties": {
    "event": {"const": "llm"},
    "type": {"enum": [
      "provider_selected", "starting", "token", "complete", "error",
      "provider_failed", "provider_succeeded", "provider_failover",
      "budget_exhausted", "canceled"
    ]},
    "run_id": {"type": "string", "minLength": 1},
    "delta": {"type": "string"},
    "idx": {"type": "integer", "minimum": 0},
    "provider": {"type": "string"},
    "model": {"type": "string"},
    "attempt": {"type": "integer", "minimum": 1},
    "chain_index": {"type": "integer", "minimum": 0},
    "chain_length": {"type": "integer", "minimum": 1},
    "params_hash": {"type": "string", "pattern": "^sha256:[0-9a-f]{64}$"},
    "prompt_hash": {"type": "string", "pattern": "^sha256:[0-9a-f]{64}$"},
    "instructions_hash": {"type": ["string", "null"]},
    "finish_reason": {"type": "string"},
    "tokens_prompt": {"type": "integer", "minimum": 0},
    "tokens_completion": {"type": "integer", "minimum": 0},
    "cost_usd": {"type": "number", "minimum": 0},
    "category": {"type": "string"},
    "message": {"type": "string"},
    "retryable": {"type": "boolean"},
    "violation": {"type": "boolean"},
    "reason": {"type": "string"},
    "from_provider": {"type": "string"},
    "from_model": {"type": "string"},
    "to_provider": {"type": "string"},
    "to_model": {"type": "string"}
  }
}`

func TestBrokerPayloadsMatchSchema(t *testing.T) {
	schema, err := jsonschema.CompileString("envelope.json", envelopeSchema)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	broker := NewBroker(16)
	sub := broker.Run("run-s").Subscribe()

	emissions := []struct {
		typ    string
		fields map[string]any
	}{
		{TypeProviderSelected, map[string]any{
			"provider": "openai", "model": "gpt-4o", "chain_index": 0, "chain_length": 2,
			"params_hash":       "sha256:0000000000000000000000000000000000000000000000000000000000000000",
			"prompt_hash":       "sha256:0000000000000000000000000000000000000000000000000000000000000000",
			"instructions_hash": nil,
		}},
		{TypeToken, map[string]any{"delta": "hi", "idx": 0}},
		{TypeError, map[string]any{
			"provider": "openai", "model": "gpt-4o", "category": "rate_limit",
			"message": "slow down", "retryable": true, "violation": false, "attempt": 1,
		}},
		{TypeBudgetExhausted, map[string]any{
			"provider": "openai", "model": "gpt-4o", "reason": "token_cap",
			"tokens_prompt": 3, "tokens_completion": 10, "cost_usd": 0.0,
		}},
		{TypeComplete, map[string]any{
			"provider": "openai", "model": "gpt-4o", "finish_reason": "stop",
			"tokens_prompt": 3, "tokens_completion": 10,
		}},
	}
	for _, em := range emissions {
		broker.Emit(context.Background(), "run-s", em.typ, em.fields)
	}

	for range emissions {
		payload, ok := <-sub
		if !ok {
			t.Fatal("subscriber closed early")
		}
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if err := schema.Validate(decoded); err != nil {
			t.Errorf("payload %s violates schema: %v", payload, err)
		}
	}
}

func TestFanoutDeliversToAllSubscribers(t *testing.T) {
	f := NewFanout(4)
	a := f.Subscribe()
	b := f.Subscribe()

	f.Publish([]byte("one"))
	if got := string(<-a); got != "one" {
		t.Errorf("a got %q", got)
	}
	if got := string(<-b); got != "one" {
		t.Errorf("b got %q", got)
	}
}

func TestFanoutEvictsSlowSubscriber(t *testing.T) {
	f := NewFanout(2)
	slow := f.Subscribe()
	fast := f.Subscribe()

	// Fill the slow subscriber's queue, then overflow it.
	f.Publish([]byte("1"))
	f.Publish([]byte("2"))
	f.Publish([]byte("3")) // evicts slow

	var got []string
	for p := range slow {
		got = append(got, string(p))
	}
	if len(got) != 2 {
		t.Errorf("slow received %v before eviction, want 2 payloads", got)
	}

	// Fast subscriber keeps its queue drained and stays subscribed.
	for i := 0; i < 3; i++ {
		<-fast
	}
	f.Publish([]byte("4"))
	if got := string(<-fast); got != "4" {
		t.Errorf("fast got %q after eviction of slow", got)
	}
}

func TestFanoutCloseClosesSubscribers(t *testing.T) {
	f := NewFanout(2)
	sub := f.Subscribe()
	f.Close()
	if _, ok := <-sub; ok {
		t.Error("subscriber channel not closed")
	}
	// Publishing after close is a no-op, and subscribing yields a
	// closed channel.
	f.Publish([]byte("x"))
	if _, ok := <-f.Subscribe(); ok {
		t.Error("post-close subscriber channel not closed")
	}
}

func TestBrokerCloseRun(t *testing.T) {
	broker := NewBroker(4)
	sub := broker.Run("r1").Subscribe()
	broker.CloseRun("r1")
	if _, ok := <-sub; ok {
		t.Error("subscriber not closed on CloseRun")
	}
	// A new fan-out is created for the same run id afterwards.
	sub2 := broker.Run("r1").Subscribe()
	broker.Emit(context.Background(), "r1", TypeToken, map[string]any{"delta": "x", "idx": 0})
	if _, ok := <-sub2; !ok {
		t.Error("new fan-out after CloseRun did not deliver")
	}
}

func TestBrokerIgnoresEmptyRunID(t *testing.T) {
	broker := NewBroker(4)
	broker.Emit(context.Background(), "", TypeToken, map[string]any{"delta": "x"})
	// Nothing to assert beyond "no panic, no stray fan-out".
	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.runs) != 0 {
		t.Errorf("runs = %d, want 0", len(broker.runs))
	}
}
