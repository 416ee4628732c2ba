package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	LoginAttempts  *prometheus.CounterVec
	Lockouts       prometheus.Counter
	ActiveSessions prometheus.Gauge
	SessionsIssued *prometheus.CounterVec
	SessionsEnded  *prometheus.CounterVec
	Impersonations *prometheus.CounterVec
	PolicyUpdates  prometheus.Counter

	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a fresh registry so tests don't
// collide on the global default.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carehaven_login_attempts_total",
			Help: "Login attempts by principal type and outcome.",
		}, []string{"principal_type", "outcome"}),
		Lockouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "carehaven_lockouts_total",
			Help: "Accounts locked for exceeding the failed-attempt limit.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "carehaven_active_sessions",
			Help: "Sessions currently live (issued minus ended).",
		}),
		SessionsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carehaven_sessions_issued_total",
			Help: "Sessions issued by principal type.",
		}, []string{"principal_type"}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carehaven_sessions_ended_total",
			Help: "Sessions ended by cause.",
		}, []string{"cause"}),
		Impersonations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carehaven_impersonations_total",
			Help: "Impersonation overlays by action (start, stop, denied).",
		}, []string{"action"}),
		PolicyUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "carehaven_policy_updates_total",
			Help: "Facility security policy updates.",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carehaven_http_request_duration_seconds",
			Help:    "HTTP request latency by method, route, and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware observes request latency and status per route.
func (m *Metrics) HTTPMiddleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			m.HTTPDuration.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).
				Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
