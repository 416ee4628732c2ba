package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginAttemptCounters(t *testing.T) {
	m := NewMetrics()

	m.LoginAttempts.WithLabelValues("staff", "success").Inc()
	m.LoginAttempts.WithLabelValues("staff", "failure").Inc()
	m.LoginAttempts.WithLabelValues("staff", "failure").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginAttempts.WithLabelValues("staff", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.LoginAttempts.WithLabelValues("staff", "failure")))
}

func TestActiveSessionsGauge(t *testing.T) {
	m := NewMetrics()

	m.ActiveSessions.Inc()
	m.ActiveSessions.Inc()
	m.ActiveSessions.Dec()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveSessions))
}

func TestHTTPMiddlewareObserves(t *testing.T) {
	m := NewMetrics()
	handler := m.HTTPMiddleware("/v1/auth/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	count := testutil.CollectAndCount(m.HTTPDuration)
	assert.Equal(t, 1, count)
}

func TestMetricsHandlerExposition(t *testing.T) {
	m := NewMetrics()
	m.Lockouts.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "carehaven_lockouts_total 1"))
}
