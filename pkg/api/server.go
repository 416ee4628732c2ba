// Package api exposes the security core over HTTP: sign-in and sign-out,
// session metadata, impersonation, per-facility policy, and the audit trail.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/authn"
	"github.com/carehaven/carehaven/pkg/authz"
	"github.com/carehaven/carehaven/pkg/httputil"
	"github.com/carehaven/carehaven/pkg/impersonate"
	"github.com/carehaven/carehaven/pkg/observability"
	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/session"
	"github.com/carehaven/carehaven/pkg/store"
)

// Deps are the collaborators the API server wires handlers over.
type Deps struct {
	Authenticator *authn.Authenticator
	Sessions      *session.Manager
	Resolver      *authz.Resolver
	Impersonator  *impersonate.Manager
	Policies      *policy.Resolver
	Facilities    store.FacilityStore
	Recorder      audit.Recorder

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Health  *observability.HealthChecker
}

// Server is the HTTP API server.
type Server struct {
	deps   Deps
	router *mux.Router
}

// NewServer creates the API server and registers all routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewDiscardLogger()
	}
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.RecoveryMiddleware(s.deps.Logger))
	s.router.Use(httputil.LoggingMiddleware(s.deps.Logger))
	s.router.Use(s.metricsMiddleware)
	s.router.Use(httputil.ContentTypeMiddleware)

	if s.deps.Health != nil {
		s.router.HandleFunc("/healthz", s.deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.deps.Health.Readiness).Methods("GET")
	}
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}

	authHandlers := NewAuthHandlers(s.deps.Authenticator, s.deps.Resolver, s.deps.Metrics)
	authHandlers.RegisterRoutes(s.router)

	sessionHandlers := NewSessionHandlers(s.deps.Sessions, s.deps.Resolver)
	sessionHandlers.RegisterRoutes(s.router)

	impersonationHandlers := NewImpersonationHandlers(s.deps.Impersonator, s.deps.Resolver, s.deps.Metrics)
	impersonationHandlers.RegisterRoutes(s.router)

	policyHandlers := NewPolicyHandlers(s.deps.Facilities, s.deps.Policies, s.deps.Recorder, s.deps.Resolver, s.deps.Metrics)
	policyHandlers.RegisterRoutes(s.router)

	auditHandlers := NewAuditHandlers(s.deps.Recorder, s.deps.Resolver)
	auditHandlers.RegisterRoutes(s.router)
}

// metricsMiddleware records request durations against the route template so
// path parameters don't explode label cardinality.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.deps.Metrics.HTTPMiddleware(route)(next).ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router so binaries can mount extra routes.
func (s *Server) Router() *mux.Router {
	return s.router
}
