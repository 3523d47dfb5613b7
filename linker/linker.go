// Package linker implements the link stage. It consumes processed-stage
// events, applies per-integration rules that turn references inside a
// changed entity into relationship edges, upserts those edges idempotently,
// and publishes linked-stage events that trigger analysis.
package linker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mythidas/MSPByte-Remake-sub005/bus"
	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/metric"
	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Rule turns one source entity into relationship edges. Refs extracts the
// external IDs of the rule's target type referenced by the source entity;
// the linker resolves those to stored entities and emits one edge per
// resolved reference. References to entities that have not been synced yet
// are skipped, not errors; the edge appears on a later sync.
type Rule struct {
	TargetType types.EntityType
	RelType    types.RelationshipType
	Refs       func(e *types.Entity) []string
}

// Linker is the link stage.
type Linker struct {
	entities      *store.Entities
	relationships *store.Relationships
	bus           bus.Bus
	metrics       *metric.Registry
	logger        *slog.Logger

	mu    sync.RWMutex
	rules map[string][]Rule // integrationType/entityType -> rules
}

// Option configures a Linker.
type Option func(*Linker)

// WithMetrics enables stage metrics.
func WithMetrics(m *metric.Registry) Option {
	return func(l *Linker) { l.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Linker) { l.logger = lg }
}

// New creates a linker over the entity and relationship repositories.
func New(entities *store.Entities, relationships *store.Relationships, b bus.Bus, opts ...Option) *Linker {
	l := &Linker{
		entities:      entities,
		relationships: relationships,
		bus:           b,
		logger:        slog.Default(),
		rules:         make(map[string][]Rule),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register adds a rule for source entities of (integrationType, sourceType).
func (l *Linker) Register(integrationType string, sourceType types.EntityType, rule Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := integrationType + "/" + string(sourceType)
	l.rules[key] = append(l.rules[key], rule)
}

func (l *Linker) rulesFor(integrationType string, sourceType types.EntityType) []Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rules[integrationType+"/"+string(sourceType)]
}

// Start subscribes to all processed-stage topics.
func (l *Linker) Start(ctx context.Context) error {
	pattern := fmt.Sprintf("%s.*", types.StageProcessed)
	if err := l.bus.Subscribe(ctx, pattern, l.handleProcessed); err != nil {
		return errors.WrapTransient(err, "Linker", "Start", "subscribe to processed topics")
	}
	l.logger.Info("linker started", "pattern", pattern)
	return nil
}

func (l *Linker) handleProcessed(ctx context.Context, env *types.Envelope) {
	start := time.Now()
	err := l.link(ctx, env)

	if l.metrics != nil {
		l.metrics.Core.StageDuration.
			WithLabelValues(string(types.StageLinked), env.IntegrationType).
			Observe(time.Since(start).Seconds())
		if err != nil {
			l.metrics.Core.StageErrorsTotal.
				WithLabelValues(string(types.StageLinked), env.IntegrationType,
					errors.Classify(err).String()).
				Inc()
		}
	}
	if err != nil {
		l.logger.Error("link failed",
			"event_id", env.EventID,
			"integration", env.IntegrationType,
			"entity_type", env.EntityType,
			"error", err)
	}
}

func (l *Linker) link(ctx context.Context, env *types.Envelope) error {
	var payload types.ProcessedPayload
	if err := env.DecodePayload(&payload); err != nil {
		return errors.WrapInvalid(err, "Linker", "link", "decode processed payload")
	}

	upserted := 0
	rules := l.rulesFor(env.IntegrationType, env.EntityType)
	if len(rules) > 0 {
		changed := make(map[string]struct{}, len(payload.EntityIDs))
		for _, id := range payload.EntityIDs {
			changed[id] = struct{}{}
		}

		all, err := l.entities.FindByIntegration(ctx, env.TenantID, env.IntegrationType, env.EntityType)
		if err != nil {
			return err
		}
		var sources []*types.Entity
		for _, e := range all {
			if _, ok := changed[e.ID]; ok {
				sources = append(sources, e)
			}
		}

		for _, rule := range rules {
			n, err := l.applyRule(ctx, env, rule, sources)
			if err != nil {
				return err
			}
			upserted += n
		}
	}

	if l.metrics != nil {
		l.metrics.Core.StageEventsTotal.
			WithLabelValues(string(types.StageLinked), env.IntegrationType, string(env.EntityType)).
			Inc()
	}

	l.logger.Info("link completed",
		"integration", env.IntegrationType,
		"entity_type", env.EntityType,
		"entities", len(payload.EntityIDs),
		"edges_upserted", upserted)

	// The linked event fires even when no new edges appeared: analysis
	// must still re-evaluate the changed entities.
	child, err := env.Child(types.StageLinked, types.LinkedPayload{
		SyncID:    payload.SyncID,
		EntityIDs: payload.EntityIDs,
	})
	if err != nil {
		return errors.WrapInvalid(err, "Linker", "link", "build linked event")
	}
	return l.bus.Publish(ctx, child)
}

// applyRule resolves one rule's references against stored targets and
// upserts the resulting edges. Returns how many edges were new.
func (l *Linker) applyRule(ctx context.Context, env *types.Envelope, rule Rule, sources []*types.Entity) (int, error) {
	targets, err := l.entities.FindByIntegration(ctx, env.TenantID, env.IntegrationType, rule.TargetType)
	if err != nil {
		return 0, err
	}
	byExternalID := make(map[string]*types.Entity, len(targets))
	for _, t := range targets {
		byExternalID[t.ExternalID] = t
	}

	var rels []*types.Relationship
	for _, src := range sources {
		for _, ref := range rule.Refs(src) {
			target, ok := byExternalID[ref]
			if !ok {
				l.logger.Debug("dangling reference skipped",
					"source_id", src.ID,
					"target_type", rule.TargetType,
					"target_external_id", ref)
				continue
			}
			rels = append(rels, &types.Relationship{
				TenantID:         env.TenantID,
				SourceEntityType: src.EntityType,
				SourceEntityID:   src.ID,
				TargetEntityType: target.EntityType,
				TargetEntityID:   target.ID,
				Type:             rule.RelType,
			})
		}
	}

	return l.relationships.Upsert(ctx, env.TenantID, rels)
}

// StringRefs is a Refs helper reading a []string (or []any of strings)
// field out of the entity's normalized data.
func StringRefs(field string) func(e *types.Entity) []string {
	return func(e *types.Entity) []string {
		switch v := e.NormalizedData[field].(type) {
		case []string:
			return v
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		default:
			return nil
		}
	}
}
