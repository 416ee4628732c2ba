// Package authz resolves request tokens to an effective principal: who this
// request acts as, in which facilities, after any impersonation overlay.
package authz

import (
	"context"

	"github.com/carehaven/carehaven/pkg/contextkeys"
	"github.com/carehaven/carehaven/pkg/principal"
	"github.com/carehaven/carehaven/pkg/session"
)

// EffectivePrincipal is the resolved identity a request acts as. Without an
// overlay it mirrors the session's principal; under impersonation it is the
// target owner narrowed to the single target facility, with the real
// administrator recorded in ImpersonatedBy.
type EffectivePrincipal struct {
	PrincipalID string              `json:"principal_id"`
	Type        principal.Type      `json:"type"`
	DisplayName string              `json:"display_name"`
	FacilityIDs []string            `json:"facility_ids,omitempty"`
	StaffRole   principal.StaffRole `json:"staff_role,omitempty"`

	MustChangePassword bool `json:"must_change_password,omitempty"`

	IsImpersonated bool   `json:"is_impersonated,omitempty"`
	ImpersonatedBy string `json:"impersonated_by,omitempty"`
}

// IsAdministrator reports whether the effective identity is an administrator.
func (e *EffectivePrincipal) IsAdministrator() bool {
	return e.Type == principal.TypeAdministrator
}

// IsOwner reports whether the effective identity is a facility owner.
func (e *EffectivePrincipal) IsOwner() bool {
	return e.Type == principal.TypeOwner
}

// InScope reports whether the effective identity may act in facilityID.
// Administrators acting as themselves are in scope everywhere.
func (e *EffectivePrincipal) InScope(facilityID string) bool {
	if e.Type == principal.TypeAdministrator {
		return true
	}
	for _, id := range e.FacilityIDs {
		if id == facilityID {
			return true
		}
	}
	return false
}

// FromContext retrieves the effective principal placed by the middleware.
func FromContext(ctx context.Context) (*EffectivePrincipal, bool) {
	e, ok := ctx.Value(contextkeys.ActorKey).(*EffectivePrincipal)
	return e, ok
}

// SessionFromContext retrieves the validated session placed by the middleware.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(contextkeys.SessionKey).(*session.Session)
	return s, ok
}
