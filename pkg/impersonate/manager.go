// Package impersonate lets authorized administrators act as a facility owner
// without a separate login. Impersonation is an overlay on the admin's own
// session: the token stays the same and the overlay narrows the scope.
package impersonate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/principal"
	"github.com/carehaven/carehaven/pkg/session"
	"github.com/carehaven/carehaven/pkg/store"
)

var (
	// ErrNotPermitted indicates the session's principal may not impersonate.
	ErrNotPermitted = errors.New("impersonation not permitted")
	// ErrTargetNotFound indicates the facility or its owner doesn't exist.
	ErrTargetNotFound = errors.New("impersonation target not found")
)

// Manager starts and stops impersonation overlays.
type Manager struct {
	principals store.PrincipalStore
	facilities store.FacilityStore
	sessions   *session.Manager
	recorder   audit.Recorder
	now        func() time.Time
}

// NewManager wires the impersonation manager.
func NewManager(principals store.PrincipalStore, facilities store.FacilityStore, sessions *session.Manager, recorder audit.Recorder) *Manager {
	return &Manager{
		principals: principals,
		facilities: facilities,
		sessions:   sessions,
		recorder:   recorder,
		now:        time.Now,
	}
}

// Start attaches an impersonation overlay targeting the owner of facilityID.
// Only administrators whose account carries the impersonation grant may call
// it. Starting while already impersonating supersedes the prior overlay,
// which is audited as its own stop.
func (m *Manager) Start(ctx context.Context, sess *session.Session, facilityID string) (*session.Impersonation, error) {
	actor, err := m.principals.GetPrincipal(ctx, sess.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load actor: %w", err)
	}
	if !actor.IsAdministrator() || !actor.CanImpersonate {
		m.record(ctx, &audit.Entry{
			EventType:  audit.EventTypeImpersonateStart,
			Status:     audit.EventStatusDenied,
			ActorID:    actor.ID,
			ActorType:  string(actor.Type),
			FacilityID: facilityID,
			Reason:     "not permitted",
		})
		return nil, ErrNotPermitted
	}

	if _, err := m.facilities.GetFacility(ctx, facilityID); err == store.ErrFacilityNotFound {
		return nil, ErrTargetNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load facility: %w", err)
	}
	owner, err := m.facilities.GetOwnerForFacility(ctx, facilityID)
	if err == store.ErrPrincipalNotFound || err == store.ErrFacilityNotFound {
		return nil, ErrTargetNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to resolve owner: %w", err)
	}

	if sess.Impersonation != nil {
		m.recordStop(ctx, actor, sess.Impersonation, "superseded")
	}

	imp := session.Impersonation{
		TargetOwnerID:    owner.ID,
		TargetFacilityID: facilityID,
		StartedAt:        m.now(),
	}
	if err := m.sessions.AttachImpersonation(ctx, sess.TokenHash, imp); err != nil {
		return nil, fmt.Errorf("failed to attach overlay: %w", err)
	}
	sess.Impersonation = &imp

	m.record(ctx, &audit.Entry{
		EventType:  audit.EventTypeImpersonateStart,
		Status:     audit.EventStatusSuccess,
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		TargetID:   owner.ID,
		FacilityID: facilityID,
	})

	return &imp, nil
}

// Stop removes the overlay, returning what was attached. Stopping a session
// that isn't impersonating is a no-op and records nothing, so repeated stops
// leave exactly one audit entry.
func (m *Manager) Stop(ctx context.Context, sess *session.Session) (*session.Impersonation, error) {
	prior, err := m.sessions.DetachImpersonation(ctx, sess.TokenHash)
	if err != nil {
		return nil, err
	}
	sess.Impersonation = nil
	if prior == nil {
		return nil, nil
	}

	actor, err := m.principals.GetPrincipal(ctx, sess.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load actor: %w", err)
	}
	m.recordStop(ctx, actor, prior, "manual")
	return prior, nil
}

func (m *Manager) recordStop(ctx context.Context, actor *principal.Principal, imp *session.Impersonation, reason string) {
	m.record(ctx, &audit.Entry{
		EventType:  audit.EventTypeImpersonateStop,
		Status:     audit.EventStatusSuccess,
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		TargetID:   imp.TargetOwnerID,
		FacilityID: imp.TargetFacilityID,
		Reason:     reason,
	})
}

func (m *Manager) record(ctx context.Context, e *audit.Entry) {
	_ = m.recorder.Record(ctx, e)
}
