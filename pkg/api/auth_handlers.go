package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/carehaven/carehaven/pkg/authn"
	"github.com/carehaven/carehaven/pkg/authz"
	"github.com/carehaven/carehaven/pkg/httputil"
	"github.com/carehaven/carehaven/pkg/observability"
	"github.com/carehaven/carehaven/pkg/principal"
	"github.com/carehaven/carehaven/pkg/session"
)

// AuthHandlers serves sign-in, sign-out, and password rotation.
type AuthHandlers struct {
	auth     *authn.Authenticator
	resolver *authz.Resolver
	metrics  *observability.Metrics
}

// NewAuthHandlers creates the authentication handler group.
func NewAuthHandlers(auth *authn.Authenticator, resolver *authz.Resolver, metrics *observability.Metrics) *AuthHandlers {
	return &AuthHandlers{auth: auth, resolver: resolver, metrics: metrics}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/auth/login", h.login).Methods("POST")
	router.Handle("/v1/auth/logout", h.resolver.Middleware(http.HandlerFunc(h.logout))).Methods("POST")
	router.Handle("/v1/auth/password", h.resolver.Middleware(http.HandlerFunc(h.changePassword))).Methods("POST")
}

type loginRequest struct {
	// Method selects the credential flow: "email", "pin", or "shared_pin".
	Method string `json:"method"`

	// Email flow (administrators and owners).
	PrincipalType string `json:"principal_type,omitempty"`
	Email         string `json:"email,omitempty"`
	Password      string `json:"password,omitempty"`

	// PIN flows (staff).
	PIN        string `json:"pin,omitempty"`
	FacilityID string `json:"facility_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

type loginResponse struct {
	Token              string             `json:"token"`
	TokenPrefix        string             `json:"token_prefix"`
	ExpiresAt          time.Time          `json:"expires_at"`
	WarningAt          time.Time          `json:"warning_at"`
	MustChangePassword bool               `json:"must_change_password"`
	EvictedSessions    int                `json:"evicted_sessions"`
	Principal          loginPrincipalInfo `json:"principal"`
}

type loginPrincipalInfo struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	FacilityIDs []string `json:"facility_ids,omitempty"`
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var (
		result *authn.Result
		err    error
	)
	switch req.Method {
	case "email":
		typ := principal.Type(req.PrincipalType)
		if typ != principal.TypeAdministrator && typ != principal.TypeOwner {
			httputil.WriteBadRequest(w, "principal_type must be administrator or owner")
			return
		}
		if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
			return
		}
		result, err = h.auth.LoginWithEmail(r.Context(), typ, req.Email, req.Password)
	case "pin":
		if !httputil.RequireNonEmpty(w, req.PIN, "pin") {
			return
		}
		result, err = h.auth.LoginStaffWithPIN(r.Context(), req.PIN)
	case "shared_pin":
		if !httputil.RequireNonEmpty(w, req.FacilityID, "facility_id") ||
			!httputil.RequireNonEmpty(w, req.Name, "name") ||
			!httputil.RequireNonEmpty(w, req.PIN, "pin") {
			return
		}
		result, err = h.auth.LoginStaffShared(r.Context(), req.FacilityID, req.Name, req.PIN)
	default:
		httputil.WriteBadRequest(w, "method must be email, pin, or shared_pin")
		return
	}

	if err != nil {
		h.writeLoginFailure(w, req, err)
		return
	}

	sess := result.Session
	h.observeLogin(string(sess.Type), "success")
	if h.metrics != nil {
		h.metrics.SessionsIssued.WithLabelValues(string(sess.Type)).Inc()
		h.metrics.ActiveSessions.Inc()
		if result.Evicted > 0 {
			h.metrics.SessionsEnded.WithLabelValues("evicted").Add(float64(result.Evicted))
			h.metrics.ActiveSessions.Sub(float64(result.Evicted))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authz.SessionCookieName,
		Value:    result.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	httputil.WriteSuccess(w, loginResponse{
		Token:              result.Token,
		TokenPrefix:        sess.TokenPrefix,
		ExpiresAt:          sess.ExpiresAt(),
		WarningAt:          sess.ExpiresAt().Add(-sess.WarningBefore),
		MustChangePassword: sess.MustChangePassword,
		EvictedSessions:    result.Evicted,
		Principal: loginPrincipalInfo{
			ID:          sess.PrincipalID,
			Type:        string(sess.Type),
			FacilityIDs: sess.FacilityIDs,
		},
	})
}

// writeLoginFailure maps every credential failure to the same generic message
// so callers cannot probe which accounts exist or are disabled. Lockouts are
// the one distinguishable case: the client needs the retry window.
func (h *AuthHandlers) writeLoginFailure(w http.ResponseWriter, req loginRequest, err error) {
	h.observeLogin(loginPrincipalLabel(req), "failure")

	var locked *authn.LockedError
	if errors.As(err, &locked) {
		if h.metrics != nil {
			h.metrics.Lockouts.Inc()
		}
		httputil.WriteJSON(w, http.StatusLocked, map[string]interface{}{
			"error":               "sign-in failed",
			"retry_after_seconds": int(locked.RetryAfter.Seconds()),
		})
		return
	}

	if errors.Is(err, authn.ErrInvalidCredentials) || errors.Is(err, authn.ErrAccountDisabled) {
		httputil.WriteUnauthorized(w, "sign-in failed")
		return
	}
	httputil.WriteInternalError(w, errors.New("sign-in failed"))
}

func loginPrincipalLabel(req loginRequest) string {
	if req.Method == "email" {
		return req.PrincipalType
	}
	return string(principal.TypeStaff)
}

func (h *AuthHandlers) observeLogin(principalType, outcome string) {
	if h.metrics != nil {
		h.metrics.LoginAttempts.WithLabelValues(principalType, outcome).Inc()
	}
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := authz.SessionFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if err := h.auth.Logout(r.Context(), sess); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		httputil.WriteInternalError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsEnded.WithLabelValues("logout").Inc()
		h.metrics.ActiveSessions.Dec()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authz.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	httputil.WriteNoContent(w)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	sess, _ := authz.SessionFromContext(r.Context())
	if actor.IsImpersonated {
		httputil.WriteForbidden(w, "cannot change passwords while impersonating")
		return
	}

	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.CurrentPassword, "current_password") ||
		!httputil.RequireNonEmpty(w, req.NewPassword, "new_password") {
		return
	}

	keep := ""
	if sess != nil {
		keep = sess.TokenHash
	}
	err := h.auth.ChangePassword(r.Context(), actor.PrincipalID, req.CurrentPassword, req.NewPassword, keep)
	switch {
	case err == nil:
		httputil.WriteNoContent(w)
	case errors.Is(err, authn.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, "current password is incorrect")
	case errors.Is(err, authn.ErrPasswordReused):
		httputil.WriteConflict(w, "new password was used recently")
	default:
		httputil.WriteBadRequest(w, err.Error())
	}
}
