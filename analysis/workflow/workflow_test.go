package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mythidas/MSPByte-Remake-sub005/analysis/alerting"
	"github.com/Mythidas/MSPByte-Remake-sub005/analysis/loadctx"
	"github.com/Mythidas/MSPByte-Remake-sub005/bus"
	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

func TestValidateOrder(t *testing.T) {
	tagger := AdminTagger()
	evaluator := MFAEnforcementEvaluator()

	require.NoError(t, ValidateOrder([]Node{tagger, evaluator}))

	// The evaluator before its tag provider is a wiring bug.
	err := ValidateOrder([]Node{evaluator, tagger})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "evaluate-enforcement")
	assert.Contains(t, err.Error(), TagAdmin)
}

func TestBatch_DeduplicatesEntityUpdates(t *testing.T) {
	b := NewBatch()
	e := &types.Entity{ID: "e1"}

	b.UpdateEntity(e)
	b.UpdateEntity(e)
	b.UpdateEntity(&types.Entity{ID: "e2"})

	updates := b.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, "e1", updates[0].ID)
	assert.Equal(t, "e2", updates[1].ID)
	assert.False(t, b.Empty())
	assert.True(t, NewBatch().Empty())
}

type engineFixture struct {
	mem      *store.Memory
	entities *store.Entities
	alerts   *alerting.Service
	bus      *bus.Memory
	engine   *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	mem := store.NewMemory()
	entities := store.NewEntities(mem)
	relationships := store.NewRelationships(mem)
	alertsRepo := store.NewAlerts(mem)
	b := bus.NewMemory()

	loader := loadctx.NewLoader(entities, relationships,
		[]types.EntityType{types.EntityIdentity, types.EntityGroup, types.EntityRole})
	alerts := alerting.NewService(alertsRepo)

	engine, err := NewEngine(loader, entities, alerts, b,
		[]Node{AdminTagger(), MFAEnforcementEvaluator()})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))

	return &engineFixture{mem: mem, entities: entities, alerts: alerts, bus: b, engine: engine}
}

func (f *engineFixture) seedIdentity(t *testing.T, id string, mfa bool) {
	t.Helper()
	require.NoError(t, f.entities.Insert(context.Background(), "tenant-1", []*types.Entity{{
		ID: id, TenantID: "tenant-1", IntegrationType: "vendor-x", DataSourceID: "ds-1",
		EntityType: types.EntityIdentity, ExternalID: id, DataHash: "h",
		NormalizedData: map[string]any{"mfa_enabled": mfa},
	}}))
}

func (f *engineFixture) seedAdminRole(t *testing.T, identityID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.entities.Insert(ctx, "tenant-1", []*types.Entity{{
		ID: "e-role-admin", TenantID: "tenant-1", IntegrationType: "vendor-x", DataSourceID: "ds-1",
		EntityType: types.EntityRole, ExternalID: "global-admin", DataHash: "h",
		NormalizedData: map[string]any{"is_admin": true},
	}}))
	rels := store.NewRelationships(f.mem)
	_, err := rels.Upsert(ctx, "tenant-1", []*types.Relationship{{
		TenantID:         "tenant-1",
		SourceEntityType: types.EntityIdentity,
		SourceEntityID:   identityID,
		TargetEntityType: types.EntityRole,
		TargetEntityID:   "e-role-admin",
		Type:             types.RelAssignedRole,
	}})
	require.NoError(t, err)
}

func (f *engineFixture) linkedEvent(t *testing.T, entityIDs []string) *types.Envelope {
	t.Helper()
	env, err := types.NewEnvelope(types.StageLinked, "tenant-1", "vendor-x", types.EntityIdentity,
		types.LinkedPayload{SyncID: "s1", EntityIDs: entityIDs})
	require.NoError(t, err)
	env.DataSourceID = "ds-1"
	return env
}

func TestEngine_TagsAdminAndRaisesAlert(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedIdentity(t, "e-u1", false)
	f.seedAdminRole(t, "e-u1")

	require.NoError(t, f.bus.Publish(ctx, f.linkedEvent(t, []string{"e-u1"})))

	stored, err := f.entities.FindByDataSource(ctx, "tenant-1", "ds-1", types.EntityIdentity)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].HasTag(TagAdmin))

	alertsRepo := store.NewAlerts(f.mem)
	open, err := alertsRepo.FindByEntityAndRule(ctx, "tenant-1", "e-u1", RuleAdminWithoutMFA)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, types.AlertActive, open[0].Status)

	// Analysis completion is announced downstream.
	assert.Len(t, f.bus.PublishedOn("completed.identities"), 1)
}

func TestEngine_ResolvesAlertOnceMFAEnforced(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedIdentity(t, "e-u1", false)
	f.seedAdminRole(t, "e-u1")

	require.NoError(t, f.bus.Publish(ctx, f.linkedEvent(t, []string{"e-u1"})))

	// The tenant enables MFA; the next sync re-evaluates the entity.
	stored, err := f.entities.FindByDataSource(ctx, "tenant-1", "ds-1", types.EntityIdentity)
	require.NoError(t, err)
	stored[0].NormalizedData["mfa_enabled"] = true
	require.NoError(t, f.entities.Update(ctx, "tenant-1", stored))

	require.NoError(t, f.bus.Publish(ctx, f.linkedEvent(t, []string{"e-u1"})))

	alertsRepo := store.NewAlerts(f.mem)
	all, err := alertsRepo.FindByEntityAndRule(ctx, "tenant-1", "e-u1", RuleAdminWithoutMFA)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.AlertResolved, all[0].Status)

	stored, err = f.entities.FindByDataSource(ctx, "tenant-1", "ds-1", types.EntityIdentity)
	require.NoError(t, err)
	assert.True(t, stored[0].HasTag(TagMFAEnforced))
}

func TestEngine_ReplayDoesNotDuplicateAlerts(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedIdentity(t, "e-u1", false)
	f.seedAdminRole(t, "e-u1")

	require.NoError(t, f.bus.Publish(ctx, f.linkedEvent(t, []string{"e-u1"})))
	require.NoError(t, f.bus.Publish(ctx, f.linkedEvent(t, []string{"e-u1"})))

	alertsRepo := store.NewAlerts(f.mem)
	all, err := alertsRepo.FindByEntityAndRule(ctx, "tenant-1", "e-u1", RuleAdminWithoutMFA)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEngine_NonAdminGetsNoAlert(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedIdentity(t, "e-u2", false)

	require.NoError(t, f.bus.Publish(ctx, f.linkedEvent(t, []string{"e-u2"})))

	alertsRepo := store.NewAlerts(f.mem)
	all, err := alertsRepo.FindByEntityAndRule(ctx, "tenant-1", "e-u2", RuleAdminWithoutMFA)
	require.NoError(t, err)
	assert.Empty(t, all)

	stored, err := f.entities.FindByDataSource(ctx, "tenant-1", "ds-1", types.EntityIdentity)
	require.NoError(t, err)
	assert.False(t, stored[0].HasTag(TagAdmin))
}

func TestEngine_WorkerSelectionByIntegration(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedIdentity(t, "e-u1", false)
	f.seedAdminRole(t, "e-u1")

	// Reversed ordering is rejected at registration, same as construction.
	err := f.engine.RegisterWorker("vendor-x", []Node{MFAEnforcementEvaluator(), AdminTagger()})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// An empty worker: syncs for this integration complete without analysis.
	require.NoError(t, f.engine.RegisterWorker("vendor-x", nil))
	require.NoError(t, f.bus.Publish(ctx, f.linkedEvent(t, []string{"e-u1"})))

	stored, err := f.entities.FindByDataSource(ctx, "tenant-1", "ds-1", types.EntityIdentity)
	require.NoError(t, err)
	assert.False(t, stored[0].HasTag(TagAdmin))
	assert.Len(t, f.bus.PublishedOn("completed.identities"), 1)
}

func TestEngine_NodeFailureAbortsRunBeforeFlush(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	entities := store.NewEntities(mem)
	relationships := store.NewRelationships(mem)
	b := bus.NewMemory()
	loader := loadctx.NewLoader(entities, relationships, []types.EntityType{types.EntityIdentity})
	alerts := alerting.NewService(store.NewAlerts(mem))

	failing := &FuncNode{
		NodeName: "boom",
		RunFunc: func(_ context.Context, rc *RunContext) error {
			for _, e := range rc.Changed {
				e.AddTag("should-not-persist")
				rc.Batch.UpdateEntity(e)
			}
			return errors.WrapTransient(errors.ErrStorageUnavailable, "boom", "Run", "simulated failure")
		},
	}
	engine, err := NewEngine(loader, entities, alerts, b, []Node{failing})
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))

	require.NoError(t, entities.Insert(ctx, "tenant-1", []*types.Entity{{
		ID: "e-u1", TenantID: "tenant-1", DataSourceID: "ds-1",
		EntityType: types.EntityIdentity, ExternalID: "u1", DataHash: "h",
	}}))

	env, err := types.NewEnvelope(types.StageLinked, "tenant-1", "vendor-x", types.EntityIdentity,
		types.LinkedPayload{SyncID: "s1", EntityIDs: []string{"e-u1"}})
	require.NoError(t, err)
	env.DataSourceID = "ds-1"
	require.NoError(t, b.Publish(ctx, env))

	stored, err := entities.FindByDataSource(ctx, "tenant-1", "ds-1", types.EntityIdentity)
	require.NoError(t, err)
	assert.False(t, stored[0].HasTag("should-not-persist"))
	assert.Empty(t, b.PublishedOn("completed.*"))
}
