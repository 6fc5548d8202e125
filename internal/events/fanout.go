package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ferro-labs/llm-gateway/internal/metrics"
)

// DefaultQueueSize bounds each subscriber's buffer. A subscriber that
// falls this far behind is evicted rather than stalling publishers.
const DefaultQueueSize = 256

// Fanout broadcasts serialized events to multiple subscribers. Publish
// never blocks: full or abandoned subscriber queues are evicted.
type Fanout struct {
	mu     sync.Mutex
	max    int
	subs   map[chan []byte]struct{}
	closed bool
}

// NewFanout creates a fan-out with the given per-subscriber queue size
// (<= 0 uses DefaultQueueSize).
func NewFanout(queueSize int) *Fanout {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Fanout{max: queueSize, subs: make(map[chan []byte]struct{})}
}

// Subscribe returns a channel of serialized events. The channel is
// closed when the fan-out closes or the subscriber is evicted.
func (f *Fanout) Subscribe() <-chan []byte {
	ch := make(chan []byte, f.max)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.subs[ch] = struct{}{}
	metrics.StreamConsumers.WithLabelValues("llm").Inc()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (f *Fanout) Unsubscribe(ch <-chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		if sub == ch {
			delete(f.subs, sub)
			close(sub)
			metrics.StreamConsumers.WithLabelValues("llm").Dec()
			return
		}
	}
}

// Publish delivers payload to all live subscribers, best effort.
func (f *Fanout) Publish(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for sub := range f.subs {
		select {
		case sub <- payload:
		default:
			delete(f.subs, sub)
			close(sub)
			metrics.StreamConsumers.WithLabelValues("llm").Dec()
		}
	}
}

// Close closes every subscriber channel and rejects further publishes.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subs {
		close(sub)
		metrics.StreamConsumers.WithLabelValues("llm").Dec()
	}
	f.subs = make(map[chan []byte]struct{})
}

// Broker owns one Fanout per run and implements Emitter by serializing
// the envelope and publishing it to the run's subscribers.
type Broker struct {
	mu        sync.Mutex
	queueSize int
	runs      map[string]*Fanout
}

// NewBroker creates an empty broker.
func NewBroker(queueSize int) *Broker {
	return &Broker{queueSize: queueSize, runs: make(map[string]*Fanout)}
}

// Run returns the fan-out for a run id, creating it on first use.
func (b *Broker) Run(runID string) *Fanout {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.runs[runID]
	if !ok {
		f = NewFanout(b.queueSize)
		b.runs[runID] = f
	}
	return f
}

// CloseRun closes and forgets the fan-out for a run id.
func (b *Broker) CloseRun(runID string) {
	b.mu.Lock()
	f, ok := b.runs[runID]
	delete(b.runs, runID)
	b.mu.Unlock()
	if ok {
		f.Close()
	}
}

// Emit implements Emitter.
func (b *Broker) Emit(_ context.Context, runID, eventType string, fields map[string]any) {
	if runID == "" {
		return
	}
	payload, err := json.Marshal(Envelope(runID, eventType, fields))
	if err != nil {
		return
	}
	b.Run(runID).Publish(payload)
}
