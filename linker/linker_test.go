package linker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mythidas/MSPByte-Remake-sub005/bus"
	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

type fixture struct {
	entities      *store.Entities
	relationships *store.Relationships
	bus           *bus.Memory
	linker        *Linker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	f := &fixture{
		entities:      store.NewEntities(mem),
		relationships: store.NewRelationships(mem),
		bus:           bus.NewMemory(),
	}
	f.linker = New(f.entities, f.relationships, f.bus)
	f.linker.Register("vendor-x", types.EntityIdentity, Rule{
		TargetType: types.EntityGroup,
		RelType:    types.RelMember,
		Refs:       StringRefs("member_of"),
	})
	require.NoError(t, f.linker.Start(context.Background()))
	return f
}

func (f *fixture) seedGroup(t *testing.T, id, externalID string) {
	t.Helper()
	require.NoError(t, f.entities.Insert(context.Background(), "tenant-1", []*types.Entity{{
		ID: id, TenantID: "tenant-1", IntegrationType: "vendor-x",
		EntityType: types.EntityGroup, ExternalID: externalID, DataHash: "g-hash",
	}}))
}

func (f *fixture) seedIdentity(t *testing.T, id, externalID string, memberOf []string) {
	t.Helper()
	require.NoError(t, f.entities.Insert(context.Background(), "tenant-1", []*types.Entity{{
		ID: id, TenantID: "tenant-1", IntegrationType: "vendor-x",
		EntityType: types.EntityIdentity, ExternalID: externalID, DataHash: "u-hash",
		NormalizedData: map[string]any{"member_of": memberOf},
	}}))
}

func (f *fixture) processedEvent(t *testing.T, entityIDs []string) *types.Envelope {
	t.Helper()
	env, err := types.NewEnvelope(types.StageProcessed, "tenant-1", "vendor-x", types.EntityIdentity,
		types.ProcessedPayload{SyncID: "s1", ChangedExternalIDs: nil, EntityIDs: entityIDs})
	require.NoError(t, err)
	return env
}

func TestLinker_ResolvesMembershipEdges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedGroup(t, "e-g1", "g1")
	f.seedIdentity(t, "e-u1", "u1", []string{"g1"})

	require.NoError(t, f.bus.Publish(ctx, f.processedEvent(t, []string{"e-u1"})))

	rels, err := f.relationships.FindByTenant(ctx, "tenant-1", types.RelMember)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "e-u1", rels[0].SourceEntityID)
	assert.Equal(t, "e-g1", rels[0].TargetEntityID)

	linked := f.bus.PublishedOn("linked.identities")
	require.Len(t, linked, 1)

	var payload types.LinkedPayload
	require.NoError(t, linked[0].DecodePayload(&payload))
	assert.Equal(t, []string{"e-u1"}, payload.EntityIDs)
}

func TestLinker_ReplayUpsertsNoDuplicateEdges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedGroup(t, "e-g1", "g1")
	f.seedIdentity(t, "e-u1", "u1", []string{"g1"})

	require.NoError(t, f.bus.Publish(ctx, f.processedEvent(t, []string{"e-u1"})))
	require.NoError(t, f.bus.Publish(ctx, f.processedEvent(t, []string{"e-u1"})))

	rels, err := f.relationships.FindByTenant(ctx, "tenant-1", types.RelMember)
	require.NoError(t, err)
	assert.Len(t, rels, 1)

	// Both replays still produce a linked event for analysis.
	assert.Len(t, f.bus.PublishedOn("linked.identities"), 2)
}

func TestLinker_DanglingReferenceSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedIdentity(t, "e-u1", "u1", []string{"g-not-synced-yet"})

	require.NoError(t, f.bus.Publish(ctx, f.processedEvent(t, []string{"e-u1"})))

	rels, err := f.relationships.FindByTenant(ctx, "tenant-1", "")
	require.NoError(t, err)
	assert.Empty(t, rels)

	// The linked event still fires so analysis sees the changed entity.
	assert.Len(t, f.bus.PublishedOn("linked.identities"), 1)
}

func TestLinker_NoRulesStillEmitsLinkedEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	env, err := types.NewEnvelope(types.StageProcessed, "tenant-1", "vendor-x", types.EntityDevice,
		types.ProcessedPayload{SyncID: "s1", EntityIDs: []string{"e-d1"}})
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(ctx, env))

	assert.Len(t, f.bus.PublishedOn("linked.devices"), 1)
}

func TestLinker_OnlyChangedEntitiesAreLinked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedGroup(t, "e-g1", "g1")
	f.seedIdentity(t, "e-u1", "u1", []string{"g1"})
	f.seedIdentity(t, "e-u2", "u2", []string{"g1"})

	// Only u1 changed this sync; u2's edges are left alone.
	require.NoError(t, f.bus.Publish(ctx, f.processedEvent(t, []string{"e-u1"})))

	rels, err := f.relationships.FindByTenant(ctx, "tenant-1", types.RelMember)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "e-u1", rels[0].SourceEntityID)
}
