// Package processor implements the normalize stage. It consumes
// fetched-stage events, diffs each raw record's content hash against the
// stored entity, normalizes only the records that actually changed, and
// publishes processed-stage events carrying the changed identifiers.
// Replaying a fetched event whose records already match storage is a no-op:
// nothing is written and nothing propagates downstream.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mythidas/MSPByte-Remake-sub005/bus"
	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/metric"
	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Normalizer maps one raw vendor record to the normalized attribute map
// stored on the entity. Implementations are registered per
// (integrationType, entityType).
type Normalizer interface {
	Normalize(raw map[string]any) (map[string]any, error)
}

// NormalizerFunc adapts a function to the Normalizer interface.
type NormalizerFunc func(raw map[string]any) (map[string]any, error)

// Normalize implements Normalizer.
func (f NormalizerFunc) Normalize(raw map[string]any) (map[string]any, error) {
	return f(raw)
}

// identityNormalizer copies the raw record verbatim. Used when no
// vendor-specific normalizer is registered.
var identityNormalizer = NormalizerFunc(func(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out, nil
})

// Processor is the normalize stage.
type Processor struct {
	entities *store.Entities
	bus      bus.Bus
	metrics  *metric.Registry
	logger   *slog.Logger

	mu          sync.RWMutex
	normalizers map[string]Normalizer
}

// Option configures a Processor.
type Option func(*Processor)

// WithMetrics enables stage metrics.
func WithMetrics(m *metric.Registry) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New creates a processor over the entity repository.
func New(entities *store.Entities, b bus.Bus, opts ...Option) *Processor {
	p := &Processor{
		entities:    entities,
		bus:         b,
		logger:      slog.Default(),
		normalizers: make(map[string]Normalizer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterNormalizer installs a normalizer for an (integrationType,
// entityType) pair, replacing any previous registration.
func (p *Processor) RegisterNormalizer(integrationType string, entityType types.EntityType, n Normalizer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.normalizers[integrationType+"/"+string(entityType)] = n
}

func (p *Processor) normalizerFor(integrationType string, entityType types.EntityType) Normalizer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if n, ok := p.normalizers[integrationType+"/"+string(entityType)]; ok {
		return n
	}
	return identityNormalizer
}

// Start subscribes to all fetched-stage topics.
func (p *Processor) Start(ctx context.Context) error {
	pattern := fmt.Sprintf("%s.*", types.StageFetched)
	if err := p.bus.Subscribe(ctx, pattern, p.handleFetched); err != nil {
		return errors.WrapTransient(err, "Processor", "Start", "subscribe to fetched topics")
	}
	p.logger.Info("processor started", "pattern", pattern)
	return nil
}

func (p *Processor) handleFetched(ctx context.Context, env *types.Envelope) {
	start := time.Now()
	err := p.process(ctx, env)

	if p.metrics != nil {
		p.metrics.Core.StageDuration.
			WithLabelValues(string(types.StageProcessed), env.IntegrationType).
			Observe(time.Since(start).Seconds())
		if err != nil {
			p.metrics.Core.StageErrorsTotal.
				WithLabelValues(string(types.StageProcessed), env.IntegrationType,
					errors.Classify(err).String()).
				Inc()
		}
	}
	if err != nil {
		p.logger.Error("normalize failed",
			"event_id", env.EventID,
			"integration", env.IntegrationType,
			"entity_type", env.EntityType,
			"error", err)
	}
}

func (p *Processor) process(ctx context.Context, env *types.Envelope) error {
	var payload types.FetchedPayload
	if err := env.DecodePayload(&payload); err != nil {
		return errors.WrapInvalid(err, "Processor", "process", "decode fetched payload")
	}

	existing, err := p.entities.FindByIntegration(ctx, env.TenantID, env.IntegrationType, env.EntityType)
	if err != nil {
		return err
	}
	byExternalID := make(map[string]*types.Entity, len(existing))
	for _, e := range existing {
		if e.DataSourceID == env.DataSourceID {
			byExternalID[e.ExternalID] = e
		}
	}

	normalizer := p.normalizerFor(env.IntegrationType, env.EntityType)
	now := time.Now().UTC()

	var inserts, updates []*types.Entity
	var changedExternalIDs, entityIDs []string
	unchanged := 0
	skipped := 0

	for _, rec := range payload.Records {
		prev, exists := byExternalID[rec.ExternalID]
		if exists && prev.DataHash == rec.DataHash && prev.DeletedAt == nil {
			unchanged++
			continue
		}

		normalized, err := normalizer.Normalize(rec.RawData)
		if err != nil {
			// One bad record never poisons the page; it is skipped and
			// surfaced through logs and metrics.
			skipped++
			p.logger.Warn("record normalization skipped",
				"integration", env.IntegrationType,
				"entity_type", env.EntityType,
				"external_id", rec.ExternalID,
				"error", errors.WrapInvalid(errors.ErrNormalizationFailed, "Processor", "process", err.Error()))
			continue
		}

		if exists {
			prev.DataHash = rec.DataHash
			prev.NormalizedData = normalized
			prev.RawData = rec.RawData
			prev.SiteID = rec.SiteID
			prev.UpdatedAt = now
			prev.DeletedAt = nil
			updates = append(updates, prev)
			entityIDs = append(entityIDs, prev.ID)
		} else {
			entity := &types.Entity{
				ID:              uuid.New().String(),
				TenantID:        env.TenantID,
				IntegrationType: env.IntegrationType,
				DataSourceID:    env.DataSourceID,
				EntityType:      env.EntityType,
				ExternalID:      rec.ExternalID,
				DataHash:        rec.DataHash,
				SiteID:          rec.SiteID,
				NormalizedData:  normalized,
				RawData:         rec.RawData,
				UpdatedAt:       now,
			}
			inserts = append(inserts, entity)
			entityIDs = append(entityIDs, entity.ID)
		}
		changedExternalIDs = append(changedExternalIDs, rec.ExternalID)
	}

	if err := p.entities.Insert(ctx, env.TenantID, inserts); err != nil {
		return err
	}
	if err := p.entities.Update(ctx, env.TenantID, updates); err != nil {
		return err
	}

	p.countChanges(env, len(inserts), len(updates), unchanged)

	p.logger.Info("normalize completed",
		"integration", env.IntegrationType,
		"entity_type", env.EntityType,
		"created", len(inserts),
		"updated", len(updates),
		"unchanged", unchanged,
		"skipped", skipped)

	// Unchanged records are dropped here; downstream stages only ever see
	// identifiers that actually changed.
	if len(changedExternalIDs) == 0 {
		return nil
	}

	child, err := env.Child(types.StageProcessed, types.ProcessedPayload{
		SyncID:             payload.SyncID,
		ChangedExternalIDs: changedExternalIDs,
		EntityIDs:          entityIDs,
	})
	if err != nil {
		return errors.WrapInvalid(err, "Processor", "process", "build processed event")
	}
	return p.bus.Publish(ctx, child)
}

func (p *Processor) countChanges(env *types.Envelope, created, updated, unchanged int) {
	if p.metrics == nil {
		return
	}
	counts := map[string]int{"created": created, "updated": updated, "unchanged": unchanged}
	for change, n := range counts {
		if n > 0 {
			p.metrics.Core.EntityChangesTotal.
				WithLabelValues(env.IntegrationType, string(env.EntityType), change).
				Add(float64(n))
		}
	}
	p.metrics.Core.StageEventsTotal.
		WithLabelValues(string(types.StageProcessed), env.IntegrationType, string(env.EntityType)).
		Inc()
}
