package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/impersonate"
	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/principal"
	"github.com/carehaven/carehaven/pkg/session"
	"github.com/carehaven/carehaven/pkg/store"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type env struct {
	store       *store.Memory
	sessions    *session.Manager
	recorder    *audit.MemoryRecorder
	resolver    *Resolver
	impersonate *impersonate.Manager
	clock       *fakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	mem := store.NewMemory()
	sessions := session.NewManager(session.NewMemoryStore(), session.WithClock(clock.Now))
	recorder := audit.NewMemoryRecorder()

	ctx := context.Background()
	require.NoError(t, mem.CreatePrincipal(ctx, &principal.Principal{
		ID:             "adm-1",
		Type:           principal.TypeAdministrator,
		DisplayName:    "Admin One",
		Status:         principal.StatusActive,
		CanImpersonate: true,
	}))
	require.NoError(t, mem.CreatePrincipal(ctx, &principal.Principal{
		ID:          "own-1",
		Type:        principal.TypeOwner,
		DisplayName: "Pat Vega",
		Status:      principal.StatusActive,
		FacilityIDs: []string{"fac-a", "fac-b"},
	}))
	require.NoError(t, mem.CreatePrincipal(ctx, &principal.Principal{
		ID:          "stf-1",
		Type:        principal.TypeStaff,
		DisplayName: "Jamie Ruiz",
		Status:      principal.StatusActive,
		FacilityIDs: []string{"fac-a"},
		StaffRole:   principal.RoleNurse,
	}))
	mem.CreateFacility(&principal.Facility{ID: "fac-a", Name: "Willow Grove", OwnerID: "own-1"})
	mem.CreateFacility(&principal.Facility{ID: "fac-b", Name: "Cedar Court", OwnerID: "own-1"})

	return &env{
		store:       mem,
		sessions:    sessions,
		recorder:    recorder,
		resolver:    NewResolver(mem, sessions, recorder),
		impersonate: impersonate.NewManager(mem, mem, sessions, recorder),
		clock:       clock,
	}
}

func (e *env) issue(t *testing.T, principalID string) (string, *session.Session) {
	t.Helper()
	p, err := e.store.GetPrincipal(context.Background(), principalID)
	require.NoError(t, err)
	token, sess, _, err := e.sessions.Issue(context.Background(), p, policy.Default(), false)
	require.NoError(t, err)
	return token, sess
}

func TestResolveStaff(t *testing.T) {
	e := newEnv(t)
	token, _ := e.issue(t, "stf-1")

	actor, sess, err := e.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "stf-1", actor.PrincipalID)
	assert.Equal(t, principal.TypeStaff, actor.Type)
	assert.Equal(t, principal.RoleNurse, actor.StaffRole)
	assert.False(t, actor.IsImpersonated)
	assert.True(t, actor.InScope("fac-a"))
	assert.False(t, actor.InScope("fac-b"))
	assert.Equal(t, "stf-1", sess.PrincipalID)
}

func TestResolveTouchesSession(t *testing.T) {
	e := newEnv(t)
	token, sess := e.issue(t, "stf-1")

	e.clock.Advance(10 * time.Minute)
	_, _, err := e.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)

	stored, err := e.sessions.ActiveSessions(context.Background(), "stf-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].LastActivityAt.After(sess.LastActivityAt))
}

func TestResolveExpiredPassesThrough(t *testing.T) {
	e := newEnv(t)
	token, _ := e.issue(t, "stf-1")

	e.clock.Advance(policy.Default().SessionTimeout() + time.Second)
	_, _, err := e.resolver.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

// advanceOnLookup wraps the principal store so each principal load moves the
// clock, making the session lapse in the middle of a request.
type advanceOnLookup struct {
	*store.Memory
	advance func()
}

func (s *advanceOnLookup) GetPrincipal(ctx context.Context, id string) (*principal.Principal, error) {
	s.advance()
	return s.Memory.GetPrincipal(ctx, id)
}

func TestResolveExpiryMidRequestSignalsTimeout(t *testing.T) {
	e := newEnv(t)
	token, _ := e.issue(t, "stf-1")

	wrapped := &advanceOnLookup{Memory: e.store, advance: func() {
		e.clock.Advance(policy.Default().SessionTimeout() + time.Second)
	}}
	resolver := NewResolver(wrapped, e.sessions, e.recorder)

	// The session was live at validation but lapsed before the activity
	// touch; the caller still learns it was a timeout.
	_, _, err := resolver.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestResolveBadToken(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.resolver.Resolve(context.Background(), "chs_bm90LWEtcmVhbC10b2tlbg")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveRevokesSessionWhenAccountLocked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	token, _ := e.issue(t, "stf-1")

	lockedAt := e.clock.Now()
	require.NoError(t, e.store.UpdateStatus(ctx, "stf-1", principal.StatusLocked, &lockedAt))

	_, _, err := e.resolver.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// The session is gone, and the revocation reached the trail.
	_, err = e.sessions.Validate(ctx, token)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	revoked, err := e.recorder.Search(ctx, audit.Filter{
		EventTypes: []audit.EventType{audit.EventTypeSessionRevoked},
	})
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	assert.Equal(t, "account locked", revoked[0].Reason)
}

func TestImpersonationNarrowsToTargetFacility(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	token, sess := e.issue(t, "adm-1")

	// own-1 operates fac-a and fac-b, but the overlay targets fac-a only.
	_, err := e.impersonate.Start(ctx, sess, "fac-a")
	require.NoError(t, err)

	actor, _, err := e.resolver.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "own-1", actor.PrincipalID)
	assert.Equal(t, principal.TypeOwner, actor.Type)
	assert.True(t, actor.IsImpersonated)
	assert.Equal(t, "adm-1", actor.ImpersonatedBy)
	assert.Equal(t, []string{"fac-a"}, actor.FacilityIDs)
	assert.True(t, actor.InScope("fac-a"))
	assert.False(t, actor.InScope("fac-b"))
}

func TestImpersonationDroppedWhenTargetDeactivated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	token, sess := e.issue(t, "adm-1")

	_, err := e.impersonate.Start(ctx, sess, "fac-a")
	require.NoError(t, err)

	require.NoError(t, e.store.UpdateStatus(ctx, "own-1", principal.StatusDisabled, nil))

	actor, _, err := e.resolver.Resolve(ctx, token)
	require.NoError(t, err)
	assert.False(t, actor.IsImpersonated)
	assert.Equal(t, "adm-1", actor.PrincipalID)

	// The overlay is gone from the stored session too.
	got, err := e.sessions.Validate(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, got.Impersonation)
}

func TestAdministratorScopeIsGlobal(t *testing.T) {
	e := newEnv(t)
	token, _ := e.issue(t, "adm-1")

	actor, _, err := e.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, actor.InScope("fac-a"))
	assert.True(t, actor.InScope("anything"))
}
