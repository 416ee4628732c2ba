package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/authz"
	"github.com/carehaven/carehaven/pkg/httputil"
	"github.com/carehaven/carehaven/pkg/observability"
	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/store"
)

// PolicyHandlers serves per-facility security policy reads and updates.
type PolicyHandlers struct {
	facilities store.FacilityStore
	policies   *policy.Resolver
	recorder   audit.Recorder
	resolver   *authz.Resolver
	metrics    *observability.Metrics
}

// NewPolicyHandlers creates the policy handler group.
func NewPolicyHandlers(facilities store.FacilityStore, policies *policy.Resolver, recorder audit.Recorder, resolver *authz.Resolver, metrics *observability.Metrics) *PolicyHandlers {
	return &PolicyHandlers{
		facilities: facilities,
		policies:   policies,
		recorder:   recorder,
		resolver:   resolver,
		metrics:    metrics,
	}
}

// RegisterRoutes registers policy routes
func (h *PolicyHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/v1/facilities/{id}/policy",
		h.resolver.Middleware(http.HandlerFunc(h.get))).Methods("GET")
	router.Handle("/v1/facilities/{id}/policy",
		h.resolver.Middleware(http.HandlerFunc(h.update))).Methods("PUT")
}

func (h *PolicyHandlers) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	facilityID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if !actor.InScope(facilityID) {
		httputil.WriteForbidden(w, "facility out of scope")
		return
	}

	effective, err := h.policies.Resolve(r.Context(), facilityID)
	if err != nil {
		if errors.Is(err, store.ErrFacilityNotFound) {
			httputil.WriteNotFound(w, "facility not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"facility_id": facilityID,
		"policy":      effective,
	})
}

// update stores a new policy for the facility. Out-of-range values are
// clamped, never rejected, and the clamped policy is echoed back so the
// caller sees what actually took effect.
func (h *PolicyHandlers) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.FromContext(r.Context())
	sess, sok := authz.SessionFromContext(r.Context())
	if !ok || !sok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	facilityID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if !actor.IsOwner() && !actor.IsAdministrator() {
		httputil.WriteForbidden(w, "owner access required")
		return
	}
	if !actor.InScope(facilityID) {
		httputil.WriteForbidden(w, "facility out of scope")
		return
	}

	var submitted policy.SecurityPolicy
	if !httputil.ParseJSONOrError(w, r, &submitted) {
		return
	}
	clamped := submitted.Clamp()

	if err := h.facilities.UpdateSecurityPolicy(r.Context(), facilityID, clamped); err != nil {
		if errors.Is(err, store.ErrFacilityNotFound) {
			httputil.WriteNotFound(w, "facility not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	h.policies.Invalidate(facilityID)
	if h.metrics != nil {
		h.metrics.PolicyUpdates.Inc()
	}

	// The audit actor is the real principal behind the session, so an
	// impersonating administrator is recorded as themselves.
	entry := &audit.Entry{
		EventType:  audit.EventTypePolicyUpdate,
		Status:     audit.EventStatusSuccess,
		ActorID:    sess.PrincipalID,
		ActorType:  string(sess.Type),
		TargetID:   facilityID,
		FacilityID: facilityID,
	}
	if actor.IsImpersonated {
		entry.Metadata = map[string]string{"impersonating": actor.PrincipalID}
	}
	_ = h.recorder.Record(r.Context(), entry)

	httputil.WriteSuccess(w, map[string]interface{}{
		"facility_id": facilityID,
		"policy":      clamped,
	})
}
