package syncd_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mythidas/MSPByte-Remake-sub005/adapter"
	"github.com/Mythidas/MSPByte-Remake-sub005/bus"
	"github.com/Mythidas/MSPByte-Remake-sub005/connector"
	"github.com/Mythidas/MSPByte-Remake-sub005/linker"
	"github.com/Mythidas/MSPByte-Remake-sub005/pkg/contenthash"
	"github.com/Mythidas/MSPByte-Remake-sub005/pkg/retry"
	"github.com/Mythidas/MSPByte-Remake-sub005/processor"
	"github.com/Mythidas/MSPByte-Remake-sub005/queue"
	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// TestPipeline_IdentitySyncEndToEnd drives one identity sync through every
// stage over in-memory backends: schedule -> dispatch -> fetch -> normalize
// -> link. Two changed identities must yield two stored entities, one
// processed event carrying both external IDs, and one membership edge.
func TestPipeline_IdentitySyncEndToEnd(t *testing.T) {
	ctx := context.Background()

	mem := store.NewMemory()
	entities := store.NewEntities(mem)
	relationships := store.NewRelationships(mem)
	history := store.NewHistory(mem)
	b := bus.NewMemory()

	cfg := queue.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Backoff = retry.Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
	q := queue.New(queue.NewMemoryBackend(), b, history, nil, nil, cfg)

	fake := connector.NewFake("vendor-x", 100)
	fake.Seed(types.EntityIdentity, []connector.Record{
		{ExternalID: "u1", Data: map[string]any{"name": "U One", "member_of": []string{"g1"}}},
		{ExternalID: "u2", Data: map[string]any{"name": "U Two"}},
	})

	a := adapter.New(fake, b, q, contenthash.NewHasher())
	proc := processor.New(entities, b)
	lnk := linker.New(entities, relationships, b)
	lnk.Register("vendor-x", types.EntityIdentity, linker.Rule{
		TargetType: types.EntityGroup,
		RelType:    types.RelMember,
		Refs:       linker.StringRefs("member_of"),
	})

	require.NoError(t, a.Start(ctx))
	require.NoError(t, proc.Start(ctx))
	require.NoError(t, lnk.Start(ctx))
	require.NoError(t, q.Start(ctx))
	defer q.Stop(time.Second)

	// The group a prior sync created; the membership ref must resolve to it.
	require.NoError(t, entities.Insert(ctx, "tenant-1", []*types.Entity{{
		ID: "e-g1", TenantID: "tenant-1", IntegrationType: "vendor-x", DataSourceID: "ds-1",
		EntityType: types.EntityGroup, ExternalID: "g1", DataHash: "h",
		NormalizedData: map[string]any{"name": "Group One"},
	}}))

	jobID, err := q.Schedule(ctx, &types.Job{
		TenantID:        "tenant-1",
		IntegrationType: "vendor-x",
		EntityType:      types.EntityIdentity,
		DataSourceID:    "ds-1",
		Action:          "sync.identities",
		Priority:        2,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := q.Status(ctx, jobID)
		return err == nil && info.Status == types.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := entities.FindByDataSource(ctx, "tenant-1", "ds-1", types.EntityIdentity)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	processed := b.PublishedOn("processed.identities")
	require.Len(t, processed, 1)
	var payload types.ProcessedPayload
	require.NoError(t, processed[0].DecodePayload(&payload))
	assert.ElementsMatch(t, []string{"u1", "u2"}, payload.ChangedExternalIDs)

	edges, err := relationships.FindByTenant(ctx, "tenant-1", types.RelMember)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "e-g1", edges[0].TargetEntityID)

	byExternal := map[string]string{}
	for _, e := range stored {
		byExternal[e.ExternalID] = e.ID
	}
	assert.Equal(t, byExternal["u1"], edges[0].SourceEntityID)

	// Lineage: every downstream event traces back to this sync.
	linked := b.PublishedOn("linked.identities")
	require.Len(t, linked, 1)
	assert.Equal(t, processed[0].TraceID, linked[0].TraceID)
	assert.Equal(t, processed[0].EventID, linked[0].ParentEventID)
}
