package authz

import (
	"net/http"
	"strings"

	"github.com/carehaven/carehaven/pkg/contextkeys"
	"github.com/carehaven/carehaven/pkg/httputil"
	"github.com/carehaven/carehaven/pkg/session"
)

// SessionCookieName is the cookie browser clients carry the token in. API
// clients use "Authorization: Bearer chs_..." instead.
const SessionCookieName = "carehaven_session"

// Middleware authenticates every request, placing the effective principal
// and session on the request context. Expired sessions get a 401 with
// reason "timeout" so clients can distinguish it from a bad token.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token := ExtractToken(req)
		if token == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		effective, sess, err := r.Resolve(req.Context(), token)
		if err == session.ErrSessionExpired {
			httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{
				"error":  "session expired",
				"reason": "timeout",
			})
			return
		} else if err != nil {
			httputil.WriteUnauthorized(w, "invalid session")
			return
		}

		ctx := contextkeys.WithActor(req.Context(), effective)
		ctx = contextkeys.WithSession(ctx, sess)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// RequireAdministrator gates a handler to administrators acting as
// themselves. An impersonating admin is acting as an owner and is refused.
func RequireAdministrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		actor, ok := FromContext(req.Context())
		if !ok || !actor.IsAdministrator() {
			httputil.WriteForbidden(w, "administrator access required")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// RequireOwner gates a handler to owners, including impersonated ones.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		actor, ok := FromContext(req.Context())
		if !ok || !actor.IsOwner() {
			httputil.WriteForbidden(w, "owner access required")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// ExtractToken pulls the session token from the Authorization header or the
// session cookie, header winning when both are present.
func ExtractToken(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if c, err := req.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}
