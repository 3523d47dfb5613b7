package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/natsclient"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// NATSBus is the production Bus backed by a NATS connection. Envelope
// topics map directly onto NATS subjects; wildcard subscription semantics
// are NATS-native. When a stream name is configured, publishes go through
// JetStream for durable retention.
type NATSBus struct {
	client     *natsclient.Client
	logger     *slog.Logger
	streamName string
	queueGroup string
}

// NATSOption configures a NATSBus.
type NATSOption func(*NATSBus)

// WithStream routes publishes through a JetStream stream of the given name.
func WithStream(name string) NATSOption {
	return func(b *NATSBus) { b.streamName = name }
}

// WithQueueGroup makes subscriptions use a queue group so horizontally
// scaled stage instances split the work.
func WithQueueGroup(group string) NATSOption {
	return func(b *NATSBus) { b.queueGroup = group }
}

// NewNATSBus creates a Bus over an already-constructed NATS client.
func NewNATSBus(client *natsclient.Client, logger *slog.Logger, opts ...NATSOption) *NATSBus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &NATSBus{client: client, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EnsureStream provisions the durable stream capturing all pipeline topics.
// Call once at startup when durable publishing is configured.
func (b *NATSBus) EnsureStream(ctx context.Context) error {
	if b.streamName == "" {
		return nil
	}
	return b.client.EnsureStream(ctx, b.streamName, []string{">"})
}

// Publish serializes the envelope and publishes it on its topic.
func (b *NATSBus) Publish(ctx context.Context, env *types.Envelope) error {
	if err := env.Validate(); err != nil {
		return errors.WrapInvalid(err, "NATSBus", "Publish", "validate envelope")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "NATSBus", "Publish", "marshal envelope")
	}

	topic := env.Topic()
	if b.streamName != "" {
		err = b.client.PublishToStream(ctx, topic, data)
	} else {
		err = b.client.Publish(ctx, topic, data)
	}
	if err != nil {
		return errors.WrapTransient(err, "NATSBus", "Publish", "publish "+topic)
	}

	b.logger.Debug("published envelope",
		"topic", topic,
		"event_id", env.EventID,
		"trace_id", env.TraceID)
	return nil
}

// Subscribe registers a handler for all topics matching the pattern.
// Envelopes that fail to decode are logged and dropped; one malformed
// message must not wedge a subscription.
func (b *NATSBus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	wrapped := func(msgCtx context.Context, data []byte) {
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.logger.Error("dropping undecodable envelope",
				"pattern", pattern,
				"error", err)
			return
		}
		handler(msgCtx, &env)
	}

	var err error
	if b.queueGroup != "" {
		err = b.client.QueueSubscribe(ctx, pattern, b.queueGroup, wrapped)
	} else {
		err = b.client.Subscribe(ctx, pattern, wrapped)
	}
	if err != nil {
		return errors.WrapTransient(err, "NATSBus", "Subscribe", "subscribe "+pattern)
	}
	return nil
}

// Close drains and closes the underlying connection.
func (b *NATSBus) Close(ctx context.Context) error {
	return b.client.Close(ctx)
}
