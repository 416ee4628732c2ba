package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/authn"
	"github.com/carehaven/carehaven/pkg/authz"
	"github.com/carehaven/carehaven/pkg/impersonate"
	"github.com/carehaven/carehaven/pkg/observability"
	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/principal"
	"github.com/carehaven/carehaven/pkg/session"
	"github.com/carehaven/carehaven/pkg/store"
)

const (
	testPassword = "Sunrise7Valley"
	testPIN      = "428913"
)

type apiEnv struct {
	server   *Server
	store    *store.Memory
	sessions *session.Manager
	recorder *audit.MemoryRecorder
	auth     *authn.Authenticator
	metrics  *observability.Metrics
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	mem := store.NewMemory()
	mem.CreateFacility(&principal.Facility{ID: "fac-1", Name: "Willow Grove", OwnerID: "own-1"})
	mem.CreateFacility(&principal.Facility{ID: "fac-2", Name: "Cedar House", OwnerID: "own-1"})

	recorder := audit.NewMemoryRecorder()
	policies := policy.NewResolver(mem)
	sessions := session.NewManager(session.NewMemoryStore())
	auth := authn.NewAuthenticator(mem, policies, sessions, recorder)
	resolver := authz.NewResolver(mem, sessions, recorder)
	impersonator := impersonate.NewManager(mem, mem, sessions, recorder)

	metrics := observability.NewMetrics()
	server := NewServer(Deps{
		Authenticator: auth,
		Sessions:      sessions,
		Resolver:      resolver,
		Impersonator:  impersonator,
		Policies:      policies,
		Facilities:    mem,
		Recorder:      recorder,
		Metrics:       metrics,
	})
	return &apiEnv{
		server:   server,
		store:    mem,
		sessions: sessions,
		recorder: recorder,
		auth:     auth,
		metrics:  metrics,
	}
}

func (e *apiEnv) addPrincipal(t *testing.T, p *principal.Principal, secret string) {
	t.Helper()
	require.NoError(t, e.store.CreatePrincipal(context.Background(), p))
	hash, err := authn.HashSecret(secret)
	require.NoError(t, err)
	require.NoError(t, e.store.SetCredential(context.Background(), &principal.Credential{
		PrincipalID: p.ID,
		Hash:        hash,
		Version:     1,
		UpdatedAt:   time.Now(),
	}))
}

func (e *apiEnv) addAdmin(t *testing.T, id string, canImpersonate bool) {
	t.Helper()
	e.addPrincipal(t, &principal.Principal{
		ID:             id,
		Type:           principal.TypeAdministrator,
		DisplayName:    "Platform Admin",
		Email:          id + "@carehaven.test",
		Status:         principal.StatusActive,
		CanImpersonate: canImpersonate,
	}, testPassword)
}

func (e *apiEnv) addOwner(t *testing.T, id string, facilityIDs ...string) {
	t.Helper()
	e.addPrincipal(t, &principal.Principal{
		ID:          id,
		Type:        principal.TypeOwner,
		DisplayName: "Facility Owner",
		Email:       id + "@carehaven.test",
		Status:      principal.StatusActive,
		FacilityIDs: facilityIDs,
	}, testPassword)
}

func (e *apiEnv) addStaff(t *testing.T, id, facilityID, name string) {
	t.Helper()
	e.addPrincipal(t, &principal.Principal{
		ID:          id,
		Type:        principal.TypeStaff,
		DisplayName: name,
		Status:      principal.StatusActive,
		FacilityIDs: []string{facilityID},
		StaffRole:   principal.RoleCaregiver,
	}, testPIN)
	e.store.SetPINKey(id, authn.PINLookupKey(testPIN))
}

func (e *apiEnv) setSharedPIN(t *testing.T, facilityID, pin string) {
	t.Helper()
	hash, err := authn.HashSecret(pin)
	require.NoError(t, err)
	e.store.SetFacilityPIN(facilityID, &principal.Credential{
		Hash:      hash,
		Version:   1,
		UpdatedAt: time.Now(),
	})
}

// loginEmail signs the principal in through the API and returns the token.
func (e *apiEnv) loginEmail(t *testing.T, typ principal.Type, email string) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]interface{}{
		"method":         "email",
		"principal_type": string(typ),
		"email":          email,
		"password":       testPassword,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// do performs a request against the server, JSON-encoding body when non-nil.
func (e *apiEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}
