// Package session implements opaque-token sessions with inactivity timeout,
// per-principal concurrency limits, and impersonation overlays.
package session

import (
	"time"

	"github.com/carehaven/carehaven/pkg/principal"
)

// Impersonation is the overlay an administrator attaches to their own session
// while acting as a facility owner. It never replaces the session token; the
// session stays the administrator's and the overlay narrows its scope.
type Impersonation struct {
	TargetOwnerID    string    `json:"target_owner_id"`
	TargetFacilityID string    `json:"target_facility_id"`
	StartedAt        time.Time `json:"started_at"`
}

// Session is a server-side session record, keyed by the SHA-256 hash of the
// opaque token. Timeout and WarningBefore are snapshotted from the resolved
// security policy at issuance; later policy edits do not affect live sessions.
type Session struct {
	TokenHash   string         `json:"token_hash"`
	TokenPrefix string         `json:"token_prefix"`
	PrincipalID string         `json:"principal_id"`
	Type        principal.Type `json:"type"`
	FacilityIDs []string       `json:"facility_ids,omitempty"`

	IssuedAt       time.Time     `json:"issued_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	Timeout        time.Duration `json:"timeout"`
	WarningBefore  time.Duration `json:"warning_before"`

	MustChangePassword bool `json:"must_change_password,omitempty"`

	Impersonation *Impersonation `json:"impersonation,omitempty"`
}

// ExpiresAt is the moment the session lapses absent further activity.
func (s *Session) ExpiresAt() time.Time {
	return s.LastActivityAt.Add(s.Timeout)
}

// Expired reports whether the inactivity window has lapsed as of now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

// InWarningWindow reports whether the session is close enough to expiry that
// clients should surface a timeout warning.
func (s *Session) InWarningWindow(now time.Time) bool {
	if s.Expired(now) {
		return false
	}
	return !now.Before(s.ExpiresAt().Add(-s.WarningBefore))
}

// Remaining is the time left before expiry, zero if already lapsed.
func (s *Session) Remaining(now time.Time) time.Duration {
	d := s.ExpiresAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Clone returns a deep copy so callers can't mutate stored state.
func (s *Session) Clone() *Session {
	cp := *s
	if s.FacilityIDs != nil {
		cp.FacilityIDs = append([]string(nil), s.FacilityIDs...)
	}
	if s.Impersonation != nil {
		imp := *s.Impersonation
		cp.Impersonation = &imp
	}
	return &cp
}
