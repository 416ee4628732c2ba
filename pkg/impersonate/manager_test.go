package impersonate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/principal"
	"github.com/carehaven/carehaven/pkg/session"
	"github.com/carehaven/carehaven/pkg/store"
)

type env struct {
	store    *store.Memory
	sessions *session.Manager
	recorder *audit.MemoryRecorder
	mgr      *Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := store.NewMemory()
	sessions := session.NewManager(session.NewMemoryStore())
	recorder := audit.NewMemoryRecorder()
	mgr := NewManager(mem, mem, sessions, recorder)

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
		FacilityIDs: []string{"fac-1", "fac-2"},
	}))
	mem.CreateFacility(&principal.Facility{ID: "fac-1", Name: "Willow Grove", OwnerID: "own-1"})
	mem.CreateFacility(&principal.Facility{ID: "fac-2", Name: "Cedar Court", OwnerID: "own-1"})
	mem.CreateFacility(&principal.Facility{ID: "fac-orphan", Name: "No Owner Yet"})

	return &env{store: mem, sessions: sessions, recorder: recorder, mgr: mgr}
}

func (e *env) adminSession(t *testing.T) (string, *session.Session) {
	t.Helper()
	admin, err := e.store.GetPrincipal(context.Background(), "adm-1")
	require.NoError(t, err)
	token, sess, _, err := e.sessions.Issue(context.Background(), admin, policy.Default(), false)
	require.NoError(t, err)
	return token, sess
}

func (e *env) stopEntries(t *testing.T) []*audit.Entry {
	t.Helper()
	entries, err := e.recorder.Search(context.Background(), audit.Filter{
		EventTypes: []audit.EventType{audit.EventTypeImpersonateStop},
	})
	require.NoError(t, err)
	return entries
}

func TestStartAttachesOverlay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	token, sess := e.adminSession(t)

	imp, err := e.mgr.Start(ctx, sess, "fac-1")
	require.NoError(t, err)
	assert.Equal(t, "own-1", imp.TargetOwnerID)
	assert.Equal(t, "fac-1", imp.TargetFacilityID)

	// The same token now carries the overlay.
	got, err := e.sessions.Validate(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, got.Impersonation)
	assert.Equal(t, "adm-1", got.PrincipalID)
	assert.Equal(t, "fac-1", got.Impersonation.TargetFacilityID)
}

func TestStartRequiresGrant(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.store.CreatePrincipal(ctx, &principal.Principal{
		ID:     "adm-2",
		Type:   principal.TypeAdministrator,
		Status: principal.StatusActive,
		// No impersonation grant.
	}))
	ungranted, err := e.store.GetPrincipal(ctx, "adm-2")
	require.NoError(t, err)
	_, sess, _, err := e.sessions.Issue(ctx, ungranted, policy.Default(), false)
	require.NoError(t, err)

	_, err = e.mgr.Start(ctx, sess, "fac-1")
	assert.ErrorIs(t, err, ErrNotPermitted)

	denied, err := e.recorder.Search(ctx, audit.Filter{Status: audit.EventStatusDenied})
	require.NoError(t, err)
	assert.Len(t, denied, 1)
}

func TestStartRejectsNonAdministrators(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	owner, err := e.store.GetPrincipal(ctx, "own-1")
	require.NoError(t, err)
	_, sess, _, err := e.sessions.Issue(ctx, owner, policy.Default(), false)
	require.NoError(t, err)

	_, err = e.mgr.Start(ctx, sess, "fac-2")
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestStartUnknownFacility(t *testing.T) {
	e := newEnv(t)
	_, sess := e.adminSession(t)

	_, err := e.mgr.Start(context.Background(), sess, "fac-missing")
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestStartFacilityWithoutOwner(t *testing.T) {
	e := newEnv(t)
	_, sess := e.adminSession(t)

	_, err := e.mgr.Start(context.Background(), sess, "fac-orphan")
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestStartSupersedesPriorOverlay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	token, sess := e.adminSession(t)

	_, err := e.mgr.Start(ctx, sess, "fac-1")
	require.NoError(t, err)
	_, err = e.mgr.Start(ctx, sess, "fac-2")
	require.NoError(t, err)

	got, err := e.sessions.Validate(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, got.Impersonation)
	assert.Equal(t, "fac-2", got.Impersonation.TargetFacilityID)

	stops := e.stopEntries(t)
	require.Len(t, stops, 1)
	assert.Equal(t, "superseded", stops[0].Reason)
	assert.Equal(t, "fac-1", stops[0].FacilityID)
}

func TestStopIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	token, sess := e.adminSession(t)

	_, err := e.mgr.Start(ctx, sess, "fac-1")
	require.NoError(t, err)

	prior, err := e.mgr.Stop(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "own-1", prior.TargetOwnerID)

	// A second stop finds nothing and records nothing.
	prior, err = e.mgr.Stop(ctx, sess)
	require.NoError(t, err)
	assert.Nil(t, prior)

	stops := e.stopEntries(t)
	require.Len(t, stops, 1)
	assert.Equal(t, "manual", stops[0].Reason)

	got, err := e.sessions.Validate(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, got.Impersonation)
}

func TestOverlayCarriesStartTime(t *testing.T) {
	e := newEnv(t)
	_, sess := e.adminSession(t)

	before := time.Now()
	imp, err := e.mgr.Start(context.Background(), sess, "fac-1")
	require.NoError(t, err)
	assert.WithinDuration(t, before, imp.StartedAt, 5*time.Second)
}
