// Package bus provides the topic-based publish/subscribe transport the
// pipeline stages communicate over. Topics are dot-separated:
// {stage}.{entityType} or {integrationType}.{stage}.{entityType}.
// Subscriptions may use a single-token wildcard (*) per segment.
package bus

import (
	"context"
	"strings"

	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Handler consumes one envelope. Handlers must tolerate redelivery and
// out-of-order arrival; the pipeline's hash-diff logic makes that safe.
type Handler func(ctx context.Context, env *types.Envelope)

// Bus is the transport contract stage components are constructed with.
// Production uses the NATS implementation; tests use the in-memory one.
type Bus interface {
	Publish(ctx context.Context, env *types.Envelope) error
	Subscribe(ctx context.Context, pattern string, handler Handler) error
	Close(ctx context.Context) error
}

// TopicMatches reports whether a concrete topic matches a subscription
// pattern. Each pattern segment matches the corresponding topic segment
// literally or via the * wildcard; segment counts must agree.
func TopicMatches(pattern, topic string) bool {
	ps := strings.Split(pattern, ".")
	ts := strings.Split(topic, ".")
	if len(ps) != len(ts) {
		return false
	}
	for i, p := range ps {
		if p != "*" && p != ts[i] {
			return false
		}
	}
	return true
}
