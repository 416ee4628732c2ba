package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/carehaven/carehaven/pkg/authz"
	"github.com/carehaven/carehaven/pkg/httputil"
	"github.com/carehaven/carehaven/pkg/session"
)

// SessionHandlers serves session metadata and the per-principal session list.
type SessionHandlers struct {
	sessions *session.Manager
	resolver *authz.Resolver
}

// NewSessionHandlers creates the session handler group.
func NewSessionHandlers(sessions *session.Manager, resolver *authz.Resolver) *SessionHandlers {
	return &SessionHandlers{sessions: sessions, resolver: resolver}
}

// RegisterRoutes registers session routes
func (h *SessionHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/v1/session", h.resolver.Middleware(http.HandlerFunc(h.current))).Methods("GET")
	router.Handle("/v1/sessions", h.resolver.Middleware(http.HandlerFunc(h.list))).Methods("GET")
}

type sessionMetadata struct {
	Principal          *authz.EffectivePrincipal `json:"principal"`
	IssuedAt           time.Time                 `json:"issued_at"`
	LastActivityAt     time.Time                 `json:"last_activity_at"`
	ExpiresAt          time.Time                 `json:"expires_at"`
	WarningAt          time.Time                 `json:"warning_at"`
	InWarningWindow    bool                      `json:"in_warning_window"`
	RemainingSeconds   int                       `json:"remaining_seconds"`
	MustChangePassword bool                      `json:"must_change_password"`

	Impersonation *session.Impersonation `json:"impersonation,omitempty"`
}

// current returns metadata for the caller's own session, including the
// timeout and warning deadlines clients drive their idle countdown from.
func (h *SessionHandlers) current(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.FromContext(r.Context())
	sess, sok := authz.SessionFromContext(r.Context())
	if !ok || !sok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	now := time.Now()
	httputil.WriteSuccess(w, sessionMetadata{
		Principal:          actor,
		IssuedAt:           sess.IssuedAt,
		LastActivityAt:     sess.LastActivityAt,
		ExpiresAt:          sess.ExpiresAt(),
		WarningAt:          sess.ExpiresAt().Add(-sess.WarningBefore),
		InWarningWindow:    sess.InWarningWindow(now),
		RemainingSeconds:   int(sess.Remaining(now).Seconds()),
		MustChangePassword: sess.MustChangePassword,
		Impersonation:      sess.Impersonation,
	})
}

type sessionSummary struct {
	TokenPrefix    string    `json:"token_prefix"`
	IssuedAt       time.Time `json:"issued_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Current        bool      `json:"current"`
}

// list returns the caller's live sessions, newest activity first. Tokens are
// never echoed back; the prefix is enough to recognize a device. The list is
// always keyed by the session's real principal, even under impersonation.
func (h *SessionHandlers) list(w http.ResponseWriter, r *http.Request) {
	sess, sok := authz.SessionFromContext(r.Context())
	if !sok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	active, err := h.sessions.ActiveSessions(r.Context(), sess.PrincipalID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	summaries := make([]sessionSummary, 0, len(active))
	for _, s := range active {
		summaries = append(summaries, sessionSummary{
			TokenPrefix:    s.TokenPrefix,
			IssuedAt:       s.IssuedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt(),
			Current:        s.TokenHash == sess.TokenHash,
		})
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"sessions": summaries,
	})
}
