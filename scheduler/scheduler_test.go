package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mythidas/MSPByte-Remake-sub005/bus"
	"github.com/Mythidas/MSPByte-Remake-sub005/queue"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

func newScheduler(t *testing.T) (*Scheduler, *queue.Queue, *queue.MemoryBackend) {
	t.Helper()
	backend := queue.NewMemoryBackend()
	q := queue.New(backend, bus.NewMemory(), nil, nil, nil, queue.DefaultConfig())
	return New(q, nil, nil), q, backend
}

func ds() DataSource {
	return DataSource{ID: "ds-1", TenantID: "tenant-1", IntegrationType: "vendor-x"}
}

func TestScheduler_RegisterFiltersToSupportedTypes(t *testing.T) {
	s, q, _ := newScheduler(t)

	n, err := s.Register(ds(), []types.EntityType{types.EntityIdentity, types.EntityGroup})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	names := q.RecurringNames()
	assert.Len(t, names, 2)
	assert.Contains(t, names, "tenant-1/vendor-x/ds-1/identities")
	assert.Contains(t, names, "tenant-1/vendor-x/ds-1/groups")
}

func TestScheduler_GlobalEntriesNotScopedToDataSource(t *testing.T) {
	s, q, backend := newScheduler(t)

	_, err := s.Register(ds(), []types.EntityType{types.EntityCompany})
	require.NoError(t, err)
	assert.Contains(t, q.RecurringNames(), "tenant-1/vendor-x/global/companies")

	ids, err := s.KickOff(context.Background(), ds(), []types.EntityType{types.EntityCompany, types.EntityIdentity})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	companies, err := backend.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Empty(t, companies.DataSourceID)

	identities, err := backend.Get(context.Background(), ids[1])
	require.NoError(t, err)
	assert.Equal(t, "ds-1", identities.DataSourceID)
}

func TestScheduler_KickOffHonorsPriorityOrder(t *testing.T) {
	s, _, backend := newScheduler(t)
	ctx := context.Background()

	_, err := s.KickOff(ctx, ds(), []types.EntityType{types.EntityIdentity, types.EntityCompany, types.EntityGroup})
	require.NoError(t, err)

	// Companies (priority 1) dequeue before identities (2) before groups (3).
	first, err := backend.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, types.EntityCompany, first.EntityType)

	second, err := backend.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, types.EntityIdentity, second.EntityType)

	third, err := backend.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, types.EntityGroup, third.EntityType)
}

func TestScheduler_Unregister(t *testing.T) {
	s, q, _ := newScheduler(t)

	_, err := s.Register(ds(), []types.EntityType{types.EntityIdentity})
	require.NoError(t, err)
	require.Len(t, q.RecurringNames(), 1)

	s.Unregister(ds())
	assert.Empty(t, q.RecurringNames())
}
