package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound indicates the token hash has no live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session lapsed through inactivity.
	ErrSessionExpired = errors.New("session expired")
)

// Store persists session records keyed by token hash. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the session for a token hash, expired or not. Expiry is the
	// manager's concern.
	Get(ctx context.Context, tokenHash string) (*Session, error)

	// Put inserts or replaces a session record.
	Put(ctx context.Context, s *Session) error

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, tokenHash string) error

	// ListByPrincipal returns all stored sessions for one principal.
	ListByPrincipal(ctx context.Context, principalID string) ([]*Session, error)

	// Mutate applies fn to the stored session under whatever per-key
	// atomicity the backend offers and persists the result. fn returning an
	// error aborts the write.
	Mutate(ctx context.Context, tokenHash string, fn func(*Session) error) error

	// PruneExpired removes sessions whose inactivity window lapsed before
	// now, returning how many were removed.
	PruneExpired(ctx context.Context, now time.Time) (int, error)
}
