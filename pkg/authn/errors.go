package authn

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers every credential mismatch. Callers present
	// it generically so login responses don't leak which part was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is the match target for LockedError.
	ErrAccountLocked = errors.New("account locked")

	// ErrAccountDisabled indicates the account was administratively disabled.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrPasswordReused indicates the new password matches one still in the
	// bounded history window.
	ErrPasswordReused = errors.New("password was used recently")
)

// LockedError reports a lockout along with how long until it lifts.
// errors.Is(err, ErrAccountLocked) matches it.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
