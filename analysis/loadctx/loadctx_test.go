package loadctx

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

func seed(t *testing.T, mem *store.Memory, identities, groups int) (*store.Entities, *store.Relationships) {
	t.Helper()
	ctx := context.Background()
	entities := store.NewEntities(mem)
	relationships := store.NewRelationships(mem)

	var groupIDs []string
	for i := 0; i < groups; i++ {
		id := fmt.Sprintf("e-g%d", i)
		groupIDs = append(groupIDs, id)
		require.NoError(t, entities.Insert(ctx, "tenant-1", []*types.Entity{{
			ID: id, TenantID: "tenant-1", IntegrationType: "vendor-x", DataSourceID: "ds-1",
			EntityType: types.EntityGroup, ExternalID: fmt.Sprintf("g%d", i), DataHash: "h",
		}}))
	}

	for i := 0; i < identities; i++ {
		id := fmt.Sprintf("e-u%d", i)
		require.NoError(t, entities.Insert(ctx, "tenant-1", []*types.Entity{{
			ID: id, TenantID: "tenant-1", IntegrationType: "vendor-x", DataSourceID: "ds-1",
			EntityType: types.EntityIdentity, ExternalID: fmt.Sprintf("u%d", i), DataHash: "h",
		}}))
		if len(groupIDs) > 0 {
			_, err := relationships.Upsert(ctx, "tenant-1", []*types.Relationship{{
				TenantID:         "tenant-1",
				SourceEntityType: types.EntityIdentity,
				SourceEntityID:   id,
				TargetEntityType: types.EntityGroup,
				TargetEntityID:   groupIDs[i%len(groupIDs)],
				Type:             types.RelMember,
			}})
			require.NoError(t, err)
		}
	}
	return entities, relationships
}

func TestLoader_QueryCountIsConstant(t *testing.T) {
	ctx := context.Background()
	entityTypes := []types.EntityType{types.EntityIdentity, types.EntityGroup}

	small := store.NewMemory()
	entities, relationships := seed(t, small, 3, 1)
	loader := NewLoader(entities, relationships, entityTypes)

	before := small.Reads()
	_, err := loader.Load(ctx, "tenant-1", "ds-1")
	require.NoError(t, err)
	smallReads := small.Reads() - before

	big := store.NewMemory()
	entities, relationships = seed(t, big, 300, 40)
	loader = NewLoader(entities, relationships, entityTypes)

	before = big.Reads()
	_, err = loader.Load(ctx, "tenant-1", "ds-1")
	require.NoError(t, err)
	bigReads := big.Reads() - before

	// One query per entity type plus one for relationships, no matter the
	// entity count.
	assert.Equal(t, int64(len(entityTypes)+1), smallReads)
	assert.Equal(t, smallReads, bigReads)

	stats := loader.Stats()
	assert.Equal(t, len(entityTypes)+1, stats.Queries)
	assert.Equal(t, 340, stats.Entities)
	assert.Equal(t, 300, stats.Relationships)
}

func TestLoader_IndexesAndTraversal(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	entities, relationships := seed(t, mem, 4, 2)
	loader := NewLoader(entities, relationships, []types.EntityType{types.EntityIdentity, types.EntityGroup})

	c, err := loader.Load(ctx, "tenant-1", "ds-1")
	require.NoError(t, err)

	assert.Len(t, c.OfType(types.EntityIdentity), 4)
	assert.Len(t, c.OfType(types.EntityGroup), 2)
	require.NotNil(t, c.Entity("e-u0"))

	// u0 and u2 landed in g0; u1 and u3 in g1.
	groups := c.Targets("e-u0", types.RelMember)
	require.Len(t, groups, 1)
	assert.Equal(t, "e-g0", groups[0].ID)

	members := c.Sources("e-g0", types.RelMember)
	require.Len(t, members, 2)

	// Empty relationship type traverses every edge type.
	assert.Len(t, c.Targets("e-u0", ""), 1)
	assert.Nil(t, c.Entity("missing"))
}

func TestLoader_ScopedToDataSource(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	entities, relationships := seed(t, mem, 2, 1)

	require.NoError(t, entities.Insert(ctx, "tenant-1", []*types.Entity{{
		ID: "e-other", TenantID: "tenant-1", IntegrationType: "vendor-x", DataSourceID: "ds-2",
		EntityType: types.EntityIdentity, ExternalID: "u-other", DataHash: "h",
	}}))

	loader := NewLoader(entities, relationships, []types.EntityType{types.EntityIdentity})
	c, err := loader.Load(ctx, "tenant-1", "ds-1")
	require.NoError(t, err)

	assert.Len(t, c.OfType(types.EntityIdentity), 2)
	assert.Nil(t, c.Entity("e-other"))
}
