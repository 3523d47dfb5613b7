package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mythidas/MSPByte-Remake-sub005/analysis/alerting"
	"github.com/Mythidas/MSPByte-Remake-sub005/analysis/loadctx"
	"github.com/Mythidas/MSPByte-Remake-sub005/bus"
	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/metric"
	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Engine consumes linked-stage events and runs the node sequence over the
// changed entities. A run is all-or-nothing: a node failure aborts the run
// before anything is flushed.
type Engine struct {
	nodes    []Node            // default worker
	workers  map[string][]Node // per-integration overrides
	loader   *loadctx.Loader
	entities *store.Entities
	alerts   *alerting.Service
	bus      bus.Bus
	metrics  *metric.Registry
	logger   *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics enables stage metrics.
func WithMetrics(m *metric.Registry) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine validates the node ordering and builds the engine.
func NewEngine(loader *loadctx.Loader, entities *store.Entities, alerts *alerting.Service,
	b bus.Bus, nodes []Node, opts ...EngineOption) (*Engine, error) {
	if err := ValidateOrder(nodes); err != nil {
		return nil, err
	}
	e := &Engine{
		nodes:    nodes,
		workers:  make(map[string][]Node),
		loader:   loader,
		entities: entities,
		alerts:   alerts,
		bus:      b,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RegisterWorker assigns a node sequence to one integration type, replacing
// the default sequence for its events. An empty sequence is valid: that
// integration's syncs complete without analysis. Call before Start.
func (e *Engine) RegisterWorker(integrationType string, nodes []Node) error {
	if err := ValidateOrder(nodes); err != nil {
		return err
	}
	e.workers[integrationType] = nodes
	return nil
}

// workerFor returns the node sequence for an integration.
func (e *Engine) workerFor(integrationType string) []Node {
	if nodes, ok := e.workers[integrationType]; ok {
		return nodes
	}
	return e.nodes
}

// Start subscribes to all linked-stage topics.
func (e *Engine) Start(ctx context.Context) error {
	pattern := fmt.Sprintf("%s.*", types.StageLinked)
	if err := e.bus.Subscribe(ctx, pattern, e.handleLinked); err != nil {
		return errors.WrapTransient(err, "Engine", "Start", "subscribe to linked topics")
	}
	names := make([]string, 0, len(e.nodes))
	for _, n := range e.nodes {
		names = append(names, n.Name())
	}
	e.logger.Info("analysis engine started", "pattern", pattern, "nodes", names)
	return nil
}

func (e *Engine) handleLinked(ctx context.Context, env *types.Envelope) {
	start := time.Now()
	err := e.analyze(ctx, env)

	if e.metrics != nil {
		e.metrics.Core.StageDuration.
			WithLabelValues(string(types.StageCompleted), env.IntegrationType).
			Observe(time.Since(start).Seconds())
		if err != nil {
			e.metrics.Core.StageErrorsTotal.
				WithLabelValues(string(types.StageCompleted), env.IntegrationType,
					errors.Classify(err).String()).
				Inc()
		}
	}
	if err != nil {
		e.logger.Error("analysis failed",
			"event_id", env.EventID,
			"integration", env.IntegrationType,
			"error", err)
	}
}

// Analyze runs the node sequence for one linked event. Exposed for direct
// invocation outside a bus subscription (replays, backfills).
func (e *Engine) Analyze(ctx context.Context, env *types.Envelope) error {
	return e.analyze(ctx, env)
}

func (e *Engine) analyze(ctx context.Context, env *types.Envelope) error {
	var payload types.LinkedPayload
	if err := env.DecodePayload(&payload); err != nil {
		return errors.WrapInvalid(err, "Engine", "analyze", "decode linked payload")
	}

	nodes := e.workerFor(env.IntegrationType)

	rc := &RunContext{Batch: NewBatch()}
	if len(nodes) > 0 {
		data, err := e.loader.Load(ctx, env.TenantID, env.DataSourceID)
		if err != nil {
			return err
		}
		rc.Data = data
		for _, id := range payload.EntityIDs {
			if entity := data.Entity(id); entity != nil {
				rc.Changed = append(rc.Changed, entity)
			}
		}
	}

	for _, node := range nodes {
		if err := node.Run(ctx, rc); err != nil {
			return errors.Wrap(err, "Engine", "analyze", fmt.Sprintf("run node %q", node.Name()))
		}
	}

	if err := e.flush(ctx, env.TenantID, rc.Batch); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.Core.StageEventsTotal.
			WithLabelValues(string(types.StageCompleted), env.IntegrationType, string(env.EntityType)).
			Inc()
	}

	e.logger.Info("analysis completed",
		"integration", env.IntegrationType,
		"entities", len(rc.Changed),
		"entity_updates", len(rc.Batch.Updates()),
		"alert_intents", len(rc.Batch.alerts))

	child, err := env.Child(types.StageCompleted, types.LinkedPayload{
		SyncID:    payload.SyncID,
		EntityIDs: payload.EntityIDs,
	})
	if err != nil {
		return errors.WrapInvalid(err, "Engine", "analyze", "build completed event")
	}
	return e.bus.Publish(ctx, child)
}

// flush applies the batch: one bulk entity write, then the staged alert
// transitions.
func (e *Engine) flush(ctx context.Context, tenantID string, batch *Batch) error {
	if batch.Empty() {
		return nil
	}

	if err := e.entities.Update(ctx, tenantID, batch.Updates()); err != nil {
		return err
	}

	for _, intent := range batch.alerts {
		if intent.raise {
			if _, _, err := e.alerts.Raise(ctx, tenantID, intent.entityID, intent.rule, intent.message); err != nil {
				return err
			}
		} else {
			if _, err := e.alerts.ResolveByRule(ctx, tenantID, intent.entityID, intent.rule); err != nil {
				return err
			}
		}
	}
	return nil
}
