// Package store defines the persistence contracts the security core consumes
// and provides the Postgres and in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/principal"
)

var (
	// ErrPrincipalNotFound indicates no principal matched the lookup.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrFacilityNotFound indicates the facility does not exist.
	ErrFacilityNotFound = errors.New("facility not found")
	// ErrCredentialNotFound indicates the principal has no stored credential.
	ErrCredentialNotFound = errors.New("credential not found")
)

// PrincipalStore is the principal/credential record store. The authenticator
// and authorization resolver consume it; they never touch rows directly.
type PrincipalStore interface {
	// GetPrincipal fetches a principal by id.
	GetPrincipal(ctx context.Context, id string) (*principal.Principal, error)

	// FindByEmail locates a principal of the given type by email address.
	FindByEmail(ctx context.Context, typ principal.Type, email string) (*principal.Principal, error)

	// FindStaffByPINKey locates a staff principal by the lookup key derived
	// from their personal PIN (the PIN itself is only stored hashed).
	FindStaffByPINKey(ctx context.Context, pinKey string) (*principal.Principal, error)

	// FindStaffByName locates a staff principal by display name within one
	// facility, for the facility-shared-PIN login variant.
	FindStaffByName(ctx context.Context, facilityID, name string) (*principal.Principal, error)

	// CreatePrincipal inserts a new principal record.
	CreatePrincipal(ctx context.Context, p *principal.Principal) error

	// UpdateStatus transitions the account status. lockedAt is recorded for
	// StatusLocked and should be nil otherwise.
	UpdateStatus(ctx context.Context, id string, status principal.Status, lockedAt *time.Time) error

	// IncrementFailedAttempts bumps the failed-login counter and returns the
	// new value. Must be atomic per principal.
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)

	// ResetFailedAttempts zeroes the failed-login counter.
	ResetFailedAttempts(ctx context.Context, id string) error

	// GetCredential returns the current credential for a principal.
	GetCredential(ctx context.Context, principalID string) (*principal.Credential, error)

	// SetCredential replaces the credential. The caller supplies the full
	// record including the bounded history (newest prior hash first).
	SetCredential(ctx context.Context, cred *principal.Credential) error

	// GetFacilityPIN returns the facility-wide shared PIN credential, if the
	// facility has one configured.
	GetFacilityPIN(ctx context.Context, facilityID string) (*principal.Credential, error)
}

// FacilityStore is the facility directory surface the security core needs.
type FacilityStore interface {
	GetFacility(ctx context.Context, id string) (*principal.Facility, error)
	GetOwnerForFacility(ctx context.Context, facilityID string) (*principal.Principal, error)

	// GetSecurityPolicy returns the stored policy, or policy.ErrPolicyNotSet
	// when the facility has never customized it.
	GetSecurityPolicy(ctx context.Context, facilityID string) (*policy.SecurityPolicy, error)
	UpdateSecurityPolicy(ctx context.Context, facilityID string, p policy.SecurityPolicy) error
}
