package httputil

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rr, 200, map[string]string{"status": "ok"}))

	assert.Equal(t, 200, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])
}

func TestWriteErrorMessage(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteErrorMessage(rr, 422, "name too short")

	assert.Equal(t, 422, rr.Code)
	assert.Equal(t, "name too short", decodeBody(t, rr)["error"])
}

func TestWriteErrorHelpers(t *testing.T) {
	tests := []struct {
		name  string
		write func(rr *httptest.ResponseRecorder)
		code  int
		msg   string
	}{
		{"bad request", func(rr *httptest.ResponseRecorder) { WriteBadRequest(rr, "bad") }, 400, "bad"},
		{"unauthorized", func(rr *httptest.ResponseRecorder) { WriteUnauthorized(rr, "no session") }, 401, "no session"},
		{"forbidden", func(rr *httptest.ResponseRecorder) { WriteForbidden(rr, "nope") }, 403, "nope"},
		{"not found", func(rr *httptest.ResponseRecorder) { WriteNotFound(rr, "gone") }, 404, "gone"},
		{"conflict", func(rr *httptest.ResponseRecorder) { WriteConflict(rr, "taken") }, 409, "taken"},
		{"internal", func(rr *httptest.ResponseRecorder) { WriteInternalError(rr, errors.New("boom")) }, 500, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.write(rr)
			assert.Equal(t, tt.code, rr.Code)
			assert.Equal(t, tt.msg, decodeBody(t, rr)["error"])
		})
	}
}

func TestWriteNoContent(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteNoContent(rr)
	assert.Equal(t, 204, rr.Code)
	assert.Zero(t, rr.Body.Len())
}
