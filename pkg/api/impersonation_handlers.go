package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carehaven/carehaven/pkg/authz"
	"github.com/carehaven/carehaven/pkg/httputil"
	"github.com/carehaven/carehaven/pkg/impersonate"
	"github.com/carehaven/carehaven/pkg/observability"
)

// ImpersonationHandlers serves the impersonation overlay lifecycle.
type ImpersonationHandlers struct {
	manager  *impersonate.Manager
	resolver *authz.Resolver
	metrics  *observability.Metrics
}

// NewImpersonationHandlers creates the impersonation handler group.
func NewImpersonationHandlers(manager *impersonate.Manager, resolver *authz.Resolver, metrics *observability.Metrics) *ImpersonationHandlers {
	return &ImpersonationHandlers{manager: manager, resolver: resolver, metrics: metrics}
}

// RegisterRoutes registers impersonation routes. All three act on the raw
// session principal rather than the effective actor: an impersonating
// session presents as the target owner, yet must still be able to stop, and
// starting again from it supersedes the prior overlay. The manager enforces
// who may impersonate.
func (h *ImpersonationHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/v1/impersonation",
		h.resolver.Middleware(http.HandlerFunc(h.start))).Methods("POST")
	router.Handle("/v1/impersonation",
		h.resolver.Middleware(http.HandlerFunc(h.stop))).Methods("DELETE")
	router.Handle("/v1/impersonation",
		h.resolver.Middleware(http.HandlerFunc(h.status))).Methods("GET")
}

type startImpersonationRequest struct {
	FacilityID string `json:"facility_id"`
}

func (h *ImpersonationHandlers) start(w http.ResponseWriter, r *http.Request) {
	sess, ok := authz.SessionFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req startImpersonationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.FacilityID, "facility_id") {
		return
	}

	imp, err := h.manager.Start(r.Context(), sess, req.FacilityID)
	switch {
	case errors.Is(err, impersonate.ErrNotPermitted):
		httputil.WriteForbidden(w, "impersonation not permitted")
		return
	case errors.Is(err, impersonate.ErrTargetNotFound):
		httputil.WriteNotFound(w, "facility has no impersonable owner")
		return
	case err != nil:
		httputil.WriteInternalError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.Impersonations.WithLabelValues("start").Inc()
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"impersonation": imp,
	})
}

func (h *ImpersonationHandlers) stop(w http.ResponseWriter, r *http.Request) {
	sess, ok := authz.SessionFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	prior, err := h.manager.Stop(r.Context(), sess)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if prior != nil && h.metrics != nil {
		h.metrics.Impersonations.WithLabelValues("stop").Inc()
	}
	httputil.WriteNoContent(w)
}

func (h *ImpersonationHandlers) status(w http.ResponseWriter, r *http.Request) {
	sess, ok := authz.SessionFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if sess.Impersonation == nil {
		httputil.WriteSuccess(w, map[string]interface{}{"active": false})
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"active":        true,
		"impersonation": sess.Impersonation,
	})
}
