package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

func newService() (*Service, *store.Alerts) {
	repo := store.NewAlerts(store.NewMemory())
	return NewService(repo), repo
}

func TestService_RaiseIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	alert, created, err := s.Raise(ctx, "tenant-1", "e-u1", "admin_without_mfa", "admin u1 has no MFA")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.AlertActive, alert.Status)

	again, created, err := s.Raise(ctx, "tenant-1", "e-u1", "admin_without_mfa", "admin u1 has no MFA")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, alert.ID, again.ID)

	// Same rule against a different entity is a distinct alert.
	other, created, err := s.Raise(ctx, "tenant-1", "e-u2", "admin_without_mfa", "admin u2 has no MFA")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, alert.ID, other.ID)
}

func TestService_SuppressLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	alert, _, err := s.Raise(ctx, "tenant-1", "e-u1", "admin_without_mfa", "no MFA")
	require.NoError(t, err)

	until := time.Now().Add(24 * time.Hour)
	suppressed, err := s.Suppress(ctx, "tenant-1", alert.ID, "operator@msp", "break-glass account", &until)
	require.NoError(t, err)
	assert.Equal(t, types.AlertSuppressed, suppressed.Status)
	assert.Equal(t, "operator@msp", suppressed.SuppressedBy)
	require.NotNil(t, suppressed.SuppressedUntil)

	// Suppressing a suppressed alert is rejected.
	_, err = s.Suppress(ctx, "tenant-1", alert.ID, "operator@msp", "again", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	active, err := s.Unsuppress(ctx, "tenant-1", alert.ID, "operator@msp", "account decommissioned")
	require.NoError(t, err)
	assert.Equal(t, types.AlertActive, active.Status)
	assert.Empty(t, active.SuppressedBy)
	assert.Nil(t, active.SuppressedAt)

	// Unsuppressing an active alert is rejected.
	_, err = s.Unsuppress(ctx, "tenant-1", alert.ID, "operator@msp", "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestService_SuppressRequiresActorAndReason(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	alert, _, err := s.Raise(ctx, "tenant-1", "e-u1", "rule", "msg")
	require.NoError(t, err)

	_, err = s.Suppress(ctx, "tenant-1", alert.ID, "", "reason", nil)
	require.Error(t, err)
	_, err = s.Suppress(ctx, "tenant-1", alert.ID, "actor", "", nil)
	require.Error(t, err)
}

func TestService_EveryTransitionWritesOneAudit(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	alert, _, err := s.Raise(ctx, "tenant-1", "e-u1", "rule", "msg")
	require.NoError(t, err)

	_, err = s.Suppress(ctx, "tenant-1", alert.ID, "op", "reason", nil)
	require.NoError(t, err)
	_, err = s.Unsuppress(ctx, "tenant-1", alert.ID, "op", "fixed")
	require.NoError(t, err)
	_, err = s.Resolve(ctx, "tenant-1", alert.ID, SystemActor)
	require.NoError(t, err)

	audits, err := s.Audits(ctx, "tenant-1", alert.ID)
	require.NoError(t, err)
	require.Len(t, audits, 4)

	transitions := make(map[types.AlertStatus]int)
	for _, a := range audits {
		transitions[a.To]++
	}
	assert.Equal(t, 1, transitions[types.AlertSuppressed])
	assert.Equal(t, 1, transitions[types.AlertResolved])
	assert.Equal(t, 2, transitions[types.AlertActive]) // raise + unsuppress
}

func TestService_ResolveIsIdempotentAndRaiseAfterResolveIsNew(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	alert, _, err := s.Raise(ctx, "tenant-1", "e-u1", "rule", "msg")
	require.NoError(t, err)

	_, err = s.Resolve(ctx, "tenant-1", alert.ID, SystemActor)
	require.NoError(t, err)
	resolved, err := s.Resolve(ctx, "tenant-1", alert.ID, SystemActor)
	require.NoError(t, err)
	assert.Equal(t, types.AlertResolved, resolved.Status)

	audits, err := s.Audits(ctx, "tenant-1", alert.ID)
	require.NoError(t, err)
	assert.Len(t, audits, 2) // the second resolve wrote nothing

	// The condition recurring raises a fresh alert.
	fresh, created, err := s.Raise(ctx, "tenant-1", "e-u1", "rule", "msg")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, alert.ID, fresh.ID)
}

func TestService_RaiseOnSuppressedKeepsSuppression(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	alert, _, err := s.Raise(ctx, "tenant-1", "e-u1", "rule", "msg")
	require.NoError(t, err)
	_, err = s.Suppress(ctx, "tenant-1", alert.ID, "op", "known exception", nil)
	require.NoError(t, err)

	got, created, err := s.Raise(ctx, "tenant-1", "e-u1", "rule", "msg")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, types.AlertSuppressed, got.Status)
}
