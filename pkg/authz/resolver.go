package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/principal"
	"github.com/carehaven/carehaven/pkg/session"
	"github.com/carehaven/carehaven/pkg/store"
)

// ErrUnauthenticated indicates the token resolved to no usable identity. It
// deliberately carries no detail about why.
var ErrUnauthenticated = errors.New("unauthenticated")

// Resolver turns a client token into an EffectivePrincipal, enforcing account
// status on every request and applying the impersonation overlay.
type Resolver struct {
	principals store.PrincipalStore
	sessions   *session.Manager
	recorder   audit.Recorder
}

// NewResolver wires the authorization resolver.
func NewResolver(principals store.PrincipalStore, sessions *session.Manager, recorder audit.Recorder) *Resolver {
	return &Resolver{principals: principals, sessions: sessions, recorder: recorder}
}

// Resolve validates the token, checks the principal is still active, records
// the request as session activity, and applies any impersonation overlay.
// session.ErrSessionExpired passes through so callers can signal a timeout;
// every other failure collapses to ErrUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, token string) (*EffectivePrincipal, *session.Session, error) {
	sess, err := r.sessions.Validate(ctx, token)
	if err == session.ErrSessionExpired {
		return nil, nil, err
	} else if err != nil {
		return nil, nil, ErrUnauthenticated
	}

	p, err := r.principals.GetPrincipal(ctx, sess.PrincipalID)
	if err != nil {
		_ = r.sessions.Revoke(ctx, sess.TokenHash)
		return nil, nil, ErrUnauthenticated
	}

	// A lockout or disable lands mid-session: the session dies on the next
	// request, not at the next login.
	if p.Status != principal.StatusActive {
		_ = r.sessions.Revoke(ctx, sess.TokenHash)
		_ = r.recorder.Record(ctx, &audit.Entry{
			EventType: audit.EventTypeSessionRevoked,
			Status:    audit.EventStatusSuccess,
			ActorID:   p.ID,
			ActorType: string(p.Type),
			Reason:    fmt.Sprintf("account %s", p.Status),
			Metadata:  map[string]string{"token_prefix": sess.TokenPrefix},
		})
		return nil, nil, ErrUnauthenticated
	}

	// The session can lapse between Validate and Touch; that is still a
	// timeout, not a bad token.
	if err := r.sessions.Touch(ctx, sess.TokenHash); err == session.ErrSessionExpired {
		return nil, nil, err
	} else if err != nil {
		return nil, nil, ErrUnauthenticated
	}

	effective, err := r.effective(ctx, p, sess)
	if err != nil {
		return nil, nil, err
	}
	return effective, sess, nil
}

// effective builds the identity the request acts as. Under impersonation the
// scope narrows to exactly the target facility, even when the target owner
// operates several.
func (r *Resolver) effective(ctx context.Context, p *principal.Principal, sess *session.Session) (*EffectivePrincipal, error) {
	if sess.Impersonation == nil {
		return &EffectivePrincipal{
			PrincipalID:        p.ID,
			Type:               p.Type,
			DisplayName:        p.DisplayName,
			FacilityIDs:        append([]string(nil), p.FacilityIDs...),
			StaffRole:          p.StaffRole,
			MustChangePassword: sess.MustChangePassword,
		}, nil
	}

	imp := sess.Impersonation
	owner, err := r.principals.GetPrincipal(ctx, imp.TargetOwnerID)
	if err != nil || owner.Status != principal.StatusActive {
		// The target vanished or was deactivated mid-impersonation. Drop the
		// overlay and let the admin continue as themselves.
		_, _ = r.sessions.DetachImpersonation(ctx, sess.TokenHash)
		sess.Impersonation = nil
		return r.effective(ctx, p, sess)
	}

	return &EffectivePrincipal{
		PrincipalID:    owner.ID,
		Type:           principal.TypeOwner,
		DisplayName:    owner.DisplayName,
		FacilityIDs:    []string{imp.TargetFacilityID},
		IsImpersonated: true,
		ImpersonatedBy: p.ID,
	}, nil
}
