// Package authn authenticates principals and enforces the failed-attempt
// lockout policy. It owns credential verification, password rotation, and the
// audit entries both produce.
package authn

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/principal"
	"github.com/carehaven/carehaven/pkg/session"
	"github.com/carehaven/carehaven/pkg/store"
)

// Result is a successful login: the plaintext token (returned exactly once)
// and the issued session.
type Result struct {
	Token   string
	Session *session.Session
	Evicted int
}

// Authenticator verifies credentials and issues sessions.
type Authenticator struct {
	principals store.PrincipalStore
	policies   *policy.Resolver
	sessions   *session.Manager
	recorder   audit.Recorder
	now        func() time.Time
}

// NewAuthenticator wires the authenticator over its collaborators.
func NewAuthenticator(principals store.PrincipalStore, policies *policy.Resolver, sessions *session.Manager, recorder audit.Recorder) *Authenticator {
	return &Authenticator{
		principals: principals,
		policies:   policies,
		sessions:   sessions,
		recorder:   recorder,
		now:        time.Now,
	}
}

// LoginWithEmail authenticates an administrator or owner by email and
// password.
func (a *Authenticator) LoginWithEmail(ctx context.Context, typ principal.Type, email, password string) (*Result, error) {
	p, err := a.principals.FindByEmail(ctx, typ, email)
	if err == store.ErrPrincipalNotFound {
		// Burn a comparison so unknown identifiers cost the same as known
		// ones with a wrong secret.
		VerifySecret(dummyHash, password)
		return nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}

	verify := func(ctx context.Context) (bool, error) {
		cred, err := a.principals.GetCredential(ctx, p.ID)
		if err == store.ErrCredentialNotFound {
			return false, nil
		} else if err != nil {
			return false, err
		}
		return VerifySecret(cred.Hash, password), nil
	}
	return a.login(ctx, p, verify, true)
}

// LoginStaffWithPIN authenticates a staff member by their personal PIN. The
// PIN alone identifies the principal via its derived lookup key.
func (a *Authenticator) LoginStaffWithPIN(ctx context.Context, pin string) (*Result, error) {
	p, err := a.principals.FindStaffByPINKey(ctx, PINLookupKey(pin))
	if err == store.ErrPrincipalNotFound {
		VerifySecret(dummyHash, pin)
		return nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}

	verify := func(ctx context.Context) (bool, error) {
		cred, err := a.principals.GetCredential(ctx, p.ID)
		if err == store.ErrCredentialNotFound {
			return false, nil
		} else if err != nil {
			return false, err
		}
		return VerifySecret(cred.Hash, pin), nil
	}
	return a.login(ctx, p, verify, false)
}

// LoginStaffShared authenticates a staff member at a facility that uses one
// shared PIN: the facility PIN proves presence, the name picks the principal.
func (a *Authenticator) LoginStaffShared(ctx context.Context, facilityID, name, pin string) (*Result, error) {
	p, err := a.principals.FindStaffByName(ctx, facilityID, name)
	if err == store.ErrPrincipalNotFound {
		VerifySecret(dummyHash, pin)
		return nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}

	verify := func(ctx context.Context) (bool, error) {
		cred, err := a.principals.GetFacilityPIN(ctx, facilityID)
		if err == store.ErrCredentialNotFound {
			return false, nil
		} else if err != nil {
			return false, err
		}
		return VerifySecret(cred.Hash, pin), nil
	}
	return a.login(ctx, p, verify, false)
}

// login runs the shared flow: status gate, lazy lockout expiry, credential
// check, failure accounting, and session issuance.
func (a *Authenticator) login(ctx context.Context, p *principal.Principal, verify func(context.Context) (bool, error), passwordBased bool) (*Result, error) {
	// The principal's whole tenant scope governs: staff follow their one
	// facility, multi-facility owners get the most restrictive combination,
	// administrators the platform defaults.
	pol, err := a.policies.ResolveFor(ctx, p.FacilityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve security policy: %w", err)
	}

	if p.Status == principal.StatusDisabled {
		a.recordLoginFailed(ctx, p, "account disabled")
		return nil, ErrAccountDisabled
	}

	if p.Status == principal.StatusLocked {
		if remaining, locked := a.lockRemaining(p, pol); locked {
			a.recordLoginFailed(ctx, p, "account locked")
			return nil, &LockedError{RetryAfter: remaining}
		}
		// The lockout window lapsed; clear it on this attempt.
		if err := a.principals.UpdateStatus(ctx, p.ID, principal.StatusActive, nil); err != nil {
			return nil, fmt.Errorf("failed to clear lockout: %w", err)
		}
		if err := a.principals.ResetFailedAttempts(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("failed to reset attempts: %w", err)
		}
		p.Status = principal.StatusActive
		p.LockedAt = nil
	}

	ok, err := verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify credential: %w", err)
	}
	if !ok {
		return nil, a.handleFailedAttempt(ctx, p, pol)
	}

	if err := a.principals.ResetFailedAttempts(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("failed to reset attempts: %w", err)
	}

	mustChange := false
	if passwordBased {
		mustChange = a.passwordExpired(ctx, p.ID, pol)
	}

	token, sess, evicted, err := a.sessions.Issue(ctx, p, pol, mustChange)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	a.record(ctx, &audit.Entry{
		EventType:  audit.EventTypeLogin,
		Status:     audit.EventStatusSuccess,
		ActorID:    p.ID,
		ActorType:  string(p.Type),
		FacilityID: p.HomeFacility(),
		Metadata:   map[string]string{"token_prefix": sess.TokenPrefix},
	})
	if evicted > 0 {
		a.record(ctx, &audit.Entry{
			EventType:  audit.EventTypeSessionEvicted,
			Status:     audit.EventStatusSuccess,
			ActorID:    p.ID,
			ActorType:  string(p.Type),
			FacilityID: p.HomeFacility(),
			Reason:     "concurrent session limit",
			Metadata:   map[string]string{"evicted": strconv.Itoa(evicted)},
		})
	}

	return &Result{Token: token, Session: sess, Evicted: evicted}, nil
}

// lockRemaining reports whether a locked principal is still inside the
// lockout window, and how long is left.
func (a *Authenticator) lockRemaining(p *principal.Principal, pol policy.SecurityPolicy) (time.Duration, bool) {
	if p.LockedAt == nil {
		return 0, false
	}
	liftAt := p.LockedAt.Add(pol.LockoutDuration())
	remaining := liftAt.Sub(a.now())
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

func (a *Authenticator) handleFailedAttempt(ctx context.Context, p *principal.Principal, pol policy.SecurityPolicy) error {
	attempts, err := a.principals.IncrementFailedAttempts(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	a.recordLoginFailed(ctx, p, "credential mismatch")

	if attempts < pol.MaxFailedLoginAttempts {
		return ErrInvalidCredentials
	}

	lockedAt := a.now()
	if err := a.principals.UpdateStatus(ctx, p.ID, principal.StatusLocked, &lockedAt); err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}
	if _, err := a.sessions.RevokeAllForPrincipal(ctx, p.ID, ""); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	a.record(ctx, &audit.Entry{
		EventType:  audit.EventTypeLockout,
		Status:     audit.EventStatusSuccess,
		ActorID:    p.ID,
		ActorType:  string(p.Type),
		TargetID:   p.ID,
		FacilityID: p.HomeFacility(),
		Reason:     "too many failed attempts",
		Metadata:   map[string]string{"failed_attempts": strconv.Itoa(attempts)},
	})

	return &LockedError{RetryAfter: pol.LockoutDuration()}
}

// passwordExpired reports whether the stored password is older than the
// policy's expiry window. Absent credentials or a zero expiry never force a
// change.
func (a *Authenticator) passwordExpired(ctx context.Context, principalID string, pol policy.SecurityPolicy) bool {
	if pol.PasswordExpiryDays <= 0 {
		return false
	}
	cred, err := a.principals.GetCredential(ctx, principalID)
	if err != nil {
		return false
	}
	age := a.now().Sub(cred.UpdatedAt)
	return age > time.Duration(pol.PasswordExpiryDays)*24*time.Hour
}

// Logout revokes the session and records the sign-out.
func (a *Authenticator) Logout(ctx context.Context, sess *session.Session) error {
	if err := a.sessions.Revoke(ctx, sess.TokenHash); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	a.record(ctx, &audit.Entry{
		EventType: audit.EventTypeLogout,
		Status:    audit.EventStatusSuccess,
		ActorID:   sess.PrincipalID,
		ActorType: string(sess.Type),
		Metadata:  map[string]string{"token_prefix": sess.TokenPrefix},
	})
	return nil
}

// ChangePassword rotates a principal's password after verifying the current
// one. The new password must satisfy the resolved complexity policy and must
// not appear in the bounded history. Every other session is revoked;
// keepSessionHash (usually the caller's own) survives.
func (a *Authenticator) ChangePassword(ctx context.Context, principalID, currentPassword, newPassword, keepSessionHash string) error {
	p, err := a.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return err
	}

	cred, err := a.principals.GetCredential(ctx, principalID)
	if err != nil {
		return err
	}
	if !VerifySecret(cred.Hash, currentPassword) {
		return ErrInvalidCredentials
	}

	pol, err := a.policies.ResolveFor(ctx, p.FacilityIDs)
	if err != nil {
		return fmt.Errorf("failed to resolve security policy: %w", err)
	}
	if err := pol.ValidatePassword(newPassword); err != nil {
		return err
	}

	if VerifySecret(cred.Hash, newPassword) {
		return ErrPasswordReused
	}
	history := cred.History
	if len(history) > pol.PasswordHistoryCount {
		history = history[:pol.PasswordHistoryCount]
	}
	for _, old := range history {
		if VerifySecret(old, newPassword) {
			return ErrPasswordReused
		}
	}

	newHash, err := HashSecret(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	updated := &principal.Credential{
		PrincipalID: principalID,
		Hash:        newHash,
		Version:     cred.Version + 1,
		History:     append([]string{cred.Hash}, history...),
		UpdatedAt:   a.now(),
	}
	if pol.PasswordHistoryCount > 0 && len(updated.History) > pol.PasswordHistoryCount {
		updated.History = updated.History[:pol.PasswordHistoryCount]
	} else if pol.PasswordHistoryCount == 0 {
		updated.History = nil
	}
	if err := a.principals.SetCredential(ctx, updated); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	if _, err := a.sessions.RevokeAllForPrincipal(ctx, principalID, keepSessionHash); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	a.record(ctx, &audit.Entry{
		EventType:  audit.EventTypePasswordChange,
		Status:     audit.EventStatusSuccess,
		ActorID:    principalID,
		ActorType:  string(p.Type),
		TargetID:   principalID,
		FacilityID: p.HomeFacility(),
		Metadata:   map[string]string{"credential_version": strconv.Itoa(updated.Version)},
	})
	return nil
}

// Unlock clears a lockout ahead of its natural expiry. Admin tooling calls
// this; actorID identifies who did it.
func (a *Authenticator) Unlock(ctx context.Context, actorID, principalID string) error {
	p, err := a.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if p.Status != principal.StatusLocked {
		return nil
	}
	if err := a.principals.UpdateStatus(ctx, principalID, principal.StatusActive, nil); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if err := a.principals.ResetFailedAttempts(ctx, principalID); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	a.record(ctx, &audit.Entry{
		EventType:  audit.EventTypeUnlock,
		Status:     audit.EventStatusSuccess,
		ActorID:    actorID,
		TargetID:   principalID,
		FacilityID: p.HomeFacility(),
		Reason:     "manual unlock",
	})
	return nil
}

func (a *Authenticator) recordLoginFailed(ctx context.Context, p *principal.Principal, reason string) {
	a.record(ctx, &audit.Entry{
		EventType:  audit.EventTypeLoginFailed,
		Status:     audit.EventStatusFailure,
		ActorID:    p.ID,
		ActorType:  string(p.Type),
		FacilityID: p.HomeFacility(),
		Reason:     reason,
	})
}

// record writes an audit entry; a failing trail never fails the operation.
func (a *Authenticator) record(ctx context.Context, e *audit.Entry) {
	_ = a.recorder.Record(ctx, e)
}
