package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/principal"
)

func seedStaff(t *testing.T, m *Memory) *principal.Principal {
	t.Helper()
	p := &principal.Principal{
		ID:          "stf-1",
		Type:        principal.TypeStaff,
		DisplayName: "Jamie Ruiz",
		Status:      principal.StatusActive,
		FacilityIDs: []string{"fac-1"},
		StaffRole:   principal.RoleCaregiver,
	}
	require.NoError(t, m.CreatePrincipal(context.Background(), p))
	return p
}

func TestMemoryGetPrincipalClones(t *testing.T) {
	m := NewMemory()
	seedStaff(t, m)

	got, err := m.GetPrincipal(context.Background(), "stf-1")
	require.NoError(t, err)

	// Mutating the returned copy must not leak into the store.
	got.FacilityIDs[0] = "fac-other"
	got.Status = principal.StatusDisabled

	again, err := m.GetPrincipal(context.Background(), "stf-1")
	require.NoError(t, err)
	assert.Equal(t, "fac-1", again.FacilityIDs[0])
	assert.Equal(t, principal.StatusActive, again.Status)
}

func TestMemoryFindStaffByPINKey(t *testing.T) {
	m := NewMemory()
	seedStaff(t, m)
	m.SetPINKey("stf-1", "abc123")

	p, err := m.FindStaffByPINKey(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "stf-1", p.ID)

	_, err = m.FindStaffByPINKey(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
}

func TestMemoryFindStaffByName(t *testing.T) {
	m := NewMemory()
	seedStaff(t, m)

	p, err := m.FindStaffByName(context.Background(), "fac-1", "jamie ruiz")
	require.NoError(t, err)
	assert.Equal(t, "stf-1", p.ID)

	_, err = m.FindStaffByName(context.Background(), "fac-2", "Jamie Ruiz")
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
}

func TestMemoryFailedAttemptCounters(t *testing.T) {
	m := NewMemory()
	seedStaff(t, m)
	ctx := context.Background()

	n, err := m.IncrementFailedAttempts(ctx, "stf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = m.IncrementFailedAttempts(ctx, "stf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, m.ResetFailedAttempts(ctx, "stf-1"))
	p, err := m.GetPrincipal(ctx, "stf-1")
	require.NoError(t, err)
	assert.Zero(t, p.FailedAttempts)
}

func TestMemoryUpdateStatusLock(t *testing.T) {
	m := NewMemory()
	seedStaff(t, m)
	ctx := context.Background()

	lockedAt := time.Now()
	require.NoError(t, m.UpdateStatus(ctx, "stf-1", principal.StatusLocked, &lockedAt))

	p, err := m.GetPrincipal(ctx, "stf-1")
	require.NoError(t, err)
	assert.Equal(t, principal.StatusLocked, p.Status)
	require.NotNil(t, p.LockedAt)
	assert.WithinDuration(t, lockedAt, *p.LockedAt, time.Second)

	require.NoError(t, m.UpdateStatus(ctx, "stf-1", principal.StatusActive, nil))
	p, err = m.GetPrincipal(ctx, "stf-1")
	require.NoError(t, err)
	assert.Nil(t, p.LockedAt)
}

func TestMemorySecurityPolicy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.CreateFacility(&principal.Facility{ID: "fac-1", Name: "Willow Grove"})

	_, err := m.GetSecurityPolicy(ctx, "fac-1")
	assert.ErrorIs(t, err, policy.ErrPolicyNotSet)

	custom := policy.Default()
	custom.SessionTimeoutMinutes = 45
	require.NoError(t, m.UpdateSecurityPolicy(ctx, "fac-1", custom))

	got, err := m.GetSecurityPolicy(ctx, "fac-1")
	require.NoError(t, err)
	assert.Equal(t, 45, got.SessionTimeoutMinutes)

	_, err = m.GetSecurityPolicy(ctx, "fac-missing")
	assert.ErrorIs(t, err, ErrFacilityNotFound)
}

func TestMemoryGetOwnerForFacility(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.CreateFacility(&principal.Facility{ID: "fac-1", Name: "Willow Grove", OwnerID: "own-1"})
	require.NoError(t, m.CreatePrincipal(ctx, &principal.Principal{
		ID: "own-1", Type: principal.TypeOwner, FacilityIDs: []string{"fac-1"},
	}))

	owner, err := m.GetOwnerForFacility(ctx, "fac-1")
	require.NoError(t, err)
	assert.Equal(t, "own-1", owner.ID)
}

func TestMemoryCredentialHistoryCloned(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SetCredential(ctx, &principal.Credential{
		PrincipalID: "stf-1",
		Hash:        "h1",
		Version:     1,
		History:     []string{"h0"},
	}))

	c, err := m.GetCredential(ctx, "stf-1")
	require.NoError(t, err)
	c.History[0] = "mutated"

	again, err := m.GetCredential(ctx, "stf-1")
	require.NoError(t, err)
	assert.Equal(t, "h0", again.History[0])
}
