package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditSearchAdminOnly(t *testing.T) {
	env := newAPIEnv(t)
	env.addOwner(t, "own-1", "fac-1")
	token := env.loginEmail(t, "owner", "own-1@carehaven.test")

	rr := env.do(t, http.MethodGet, "/v1/audit", token, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAuditSearchReturnsLoginTrail(t *testing.T) {
	env := newAPIEnv(t)
	env.addAdmin(t, "adm-1", false)
	env.addOwner(t, "own-1", "fac-1")
	env.loginEmail(t, "owner", "own-1@carehaven.test")
	token := env.loginEmail(t, "administrator", "adm-1@carehaven.test")

	rr := env.do(t, http.MethodGet, "/v1/audit?event_type=auth.login", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeJSON(t, rr)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	// Newest first: the admin's own login precedes the owner's.
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "adm-1", first["actor_id"])
	assert.Equal(t, "auth.login", first["event_type"])
}

func TestAuditSearchFiltersByActor(t *testing.T) {
	env := newAPIEnv(t)
	env.addAdmin(t, "adm-1", false)
	env.addOwner(t, "own-1", "fac-1")
	env.loginEmail(t, "owner", "own-1@carehaven.test")
	token := env.loginEmail(t, "administrator", "adm-1@carehaven.test")

	rr := env.do(t, http.MethodGet, "/v1/audit?actor_id=own-1", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	for _, raw := range decodeJSON(t, rr)["entries"].([]interface{}) {
		assert.Equal(t, "own-1", raw.(map[string]interface{})["actor_id"])
	}
}

func TestAuditExportCSV(t *testing.T) {
	env := newAPIEnv(t)
	env.addAdmin(t, "adm-1", false)
	token := env.loginEmail(t, "administrator", "adm-1@carehaven.test")

	rr := env.do(t, http.MethodGet, "/v1/audit?format=csv", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID,Timestamp,EventType"))
}

func TestAuditExportNDJSON(t *testing.T) {
	env := newAPIEnv(t)
	env.addAdmin(t, "adm-1", false)
	token := env.loginEmail(t, "administrator", "adm-1@carehaven.test")

	rr := env.do(t, http.MethodGet, "/v1/audit?format=ndjson", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/x-ndjson", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "{"))
}

func TestAuditRejectsUnknownFormat(t *testing.T) {
	env := newAPIEnv(t)
	env.addAdmin(t, "adm-1", false)
	token := env.loginEmail(t, "administrator", "adm-1@carehaven.test")

	rr := env.do(t, http.MethodGet, "/v1/audit?format=xml", token, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuditRejectsBadTimestamp(t *testing.T) {
	env := newAPIEnv(t)
	env.addAdmin(t, "adm-1", false)
	token := env.loginEmail(t, "administrator", "adm-1@carehaven.test")

	rr := env.do(t, http.MethodGet, "/v1/audit?since=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
