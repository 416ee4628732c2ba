package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/principal"
)

// Manager owns the session lifecycle: issuance with concurrency eviction,
// validation with lazy expiry, activity touches, and revocation.
type Manager struct {
	store Store
	now   func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager over the given store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue creates a session for an authenticated principal. The inactivity
// timeout and warning window are snapshotted from pol. When the principal is
// already at pol.MaxConcurrentSessions live sessions, the least recently
// active ones are evicted to make room; evicted reports how many.
func (m *Manager) Issue(ctx context.Context, p *principal.Principal, pol policy.SecurityPolicy, mustChangePassword bool) (token string, sess *Session, evicted int, err error) {
	now := m.now()

	existing, err := m.store.ListByPrincipal(ctx, p.ID)
	if err != nil {
		return "", nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	live := existing[:0]
	for _, s := range existing {
		if !s.Expired(now) {
			live = append(live, s)
		}
	}

	if len(live) >= pol.MaxConcurrentSessions {
		sort.Slice(live, func(i, j int) bool {
			return live[i].LastActivityAt.Before(live[j].LastActivityAt)
		})
		drop := len(live) - pol.MaxConcurrentSessions + 1
		for _, s := range live[:drop] {
			if err := m.store.Delete(ctx, s.TokenHash); err != nil {
				return "", nil, 0, fmt.Errorf("failed to evict session: %w", err)
			}
			evicted++
		}
	}

	token, tokenHash, tokenPrefix, err := GenerateToken()
	if err != nil {
		return "", nil, 0, err
	}

	sess = &Session{
		TokenHash:          tokenHash,
		TokenPrefix:        tokenPrefix,
		PrincipalID:        p.ID,
		Type:               p.Type,
		FacilityIDs:        append([]string(nil), p.FacilityIDs...),
		IssuedAt:           now,
		LastActivityAt:     now,
		Timeout:            pol.SessionTimeout(),
		WarningBefore:      time.Duration(pol.SessionWarningMinutes) * time.Minute,
		MustChangePassword: mustChangePassword,
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return "", nil, 0, fmt.Errorf("failed to store session: %w", err)
	}

	return token, sess, evicted, nil
}

// Validate resolves a client token to its session. An expired session is
// removed on sight and reported as ErrSessionExpired.
func (m *Manager) Validate(ctx context.Context, token string) (*Session, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return nil, ErrSessionNotFound
	}

	s, err := m.store.Get(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		_ = m.store.Delete(ctx, s.TokenHash)
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Touch records client activity, restarting the inactivity window. Touching
// an already-expired session fails with ErrSessionExpired rather than
// resurrecting it.
func (m *Manager) Touch(ctx context.Context, tokenHash string) error {
	now := m.now()
	err := m.store.Mutate(ctx, tokenHash, func(s *Session) error {
		if s.Expired(now) {
			return ErrSessionExpired
		}
		s.LastActivityAt = now
		return nil
	})
	if err == ErrSessionExpired {
		_ = m.store.Delete(ctx, tokenHash)
	}
	return err
}

// Revoke terminates one session. Unknown hashes are a no-op.
func (m *Manager) Revoke(ctx context.Context, tokenHash string) error {
	return m.store.Delete(ctx, tokenHash)
}

// RevokeAllForPrincipal terminates every session of a principal except the
// one identified by exceptHash (pass "" to revoke all). Used on lockout,
// disable, and password change.
func (m *Manager) RevokeAllForPrincipal(ctx context.Context, principalID, exceptHash string) (int, error) {
	sessions, err := m.store.ListByPrincipal(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	var revoked int
	for _, s := range sessions {
		if s.TokenHash == exceptHash {
			continue
		}
		if err := m.store.Delete(ctx, s.TokenHash); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

// ActiveSessions lists a principal's live sessions, most recently active
// first. Expired leftovers are skipped (and eventually pruned).
func (m *Manager) ActiveSessions(ctx context.Context, principalID string) ([]*Session, error) {
	sessions, err := m.store.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	live := sessions[:0]
	for _, s := range sessions {
		if !s.Expired(now) {
			live = append(live, s)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].LastActivityAt.After(live[j].LastActivityAt)
	})
	return live, nil
}

// AttachImpersonation sets the impersonation overlay on a session, replacing
// any overlay already present.
func (m *Manager) AttachImpersonation(ctx context.Context, tokenHash string, imp Impersonation) error {
	return m.store.Mutate(ctx, tokenHash, func(s *Session) error {
		cp := imp
		s.Impersonation = &cp
		return nil
	})
}

// DetachImpersonation clears the overlay and returns what was attached, nil
// if the session wasn't impersonating.
func (m *Manager) DetachImpersonation(ctx context.Context, tokenHash string) (*Impersonation, error) {
	var prior *Impersonation
	err := m.store.Mutate(ctx, tokenHash, func(s *Session) error {
		prior = s.Impersonation
		s.Impersonation = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prior, nil
}

// PruneExpired sweeps lapsed sessions out of the store.
func (m *Manager) PruneExpired(ctx context.Context) (int, error) {
	return m.store.PruneExpired(ctx, m.now())
}
