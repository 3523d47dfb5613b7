package bus

import (
	"context"
	"sync"

	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Memory is an in-process Bus for tests and single-binary runs. Delivery is
// synchronous by default so tests can assert on pipeline output without
// sleeping; WithAsync switches to goroutine delivery.
type Memory struct {
	mu      sync.RWMutex
	subs    []memorySub
	async   bool
	closed  bool
	history []*types.Envelope
}

type memorySub struct {
	pattern string
	handler Handler
}

// MemoryOption configures a Memory bus.
type MemoryOption func(*Memory)

// WithAsync delivers envelopes on fresh goroutines.
func WithAsync() MemoryOption {
	return func(m *Memory) { m.async = true }
}

// NewMemory creates an in-memory bus.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish delivers the envelope to every matching subscriber.
func (m *Memory) Publish(ctx context.Context, env *types.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return context.Canceled
	}
	m.history = append(m.history, env)
	subs := make([]memorySub, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	topic := env.Topic()
	for _, sub := range subs {
		if !TopicMatches(sub.pattern, topic) {
			continue
		}
		if m.async {
			go sub.handler(ctx, env)
		} else {
			sub.handler(ctx, env)
		}
	}
	return nil
}

// Subscribe registers a handler for the pattern.
func (m *Memory) Subscribe(_ context.Context, pattern string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, memorySub{pattern: pattern, handler: handler})
	return nil
}

// Close stops accepting publishes.
func (m *Memory) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Published returns every envelope published so far. Test helper.
func (m *Memory) Published() []*types.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Envelope, len(m.history))
	copy(out, m.history)
	return out
}

// PublishedOn returns envelopes whose topic matches the pattern. Test helper.
func (m *Memory) PublishedOn(pattern string) []*types.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Envelope
	for _, env := range m.history {
		if TopicMatches(pattern, env.Topic()) {
			out = append(out, env)
		}
	}
	return out
}
