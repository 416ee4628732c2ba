package principal

import "time"

// Type identifies the class of an authenticated identity.
type Type string

const (
	TypeAdministrator Type = "administrator" // platform-level, no tenant scope
	TypeOwner         Type = "owner"         // owns one or more facilities
	TypeStaff         Type = "staff"         // belongs to exactly one facility
)

// Status is the lifecycle state of a principal's account. Principals are
// never hard-deleted; they are disabled so the audit trail stays resolvable.
type Status string

const (
	StatusActive   Status = "active"
	StatusLocked   Status = "locked"
	StatusDisabled Status = "disabled"
)

// StaffRole is the job function of a staff principal. Feature-level
// authorization keyed on these roles lives outside the security core.
type StaffRole string

const (
	RoleCaregiver StaffRole = "caregiver"
	RoleMedTech   StaffRole = "med_tech"
	RoleShiftLead StaffRole = "shift_lead"
	RoleNurse     StaffRole = "nurse"
	RoleAdmin     StaffRole = "admin"
)

// ValidStaffRole reports whether role is one of the known staff roles.
func ValidStaffRole(role StaffRole) bool {
	switch role {
	case RoleCaregiver, RoleMedTech, RoleShiftLead, RoleNurse, RoleAdmin:
		return true
	}
	return false
}

// Principal is a user account of any of the three classes. The tenant scope
// depends on the type: administrators have none (global), owners carry the
// set of facilities they own, staff carry exactly one facility.
type Principal struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Status      Status    `json:"status"`

	// FacilityIDs is the tenant scope. Empty for administrators.
	FacilityIDs []string `json:"facility_ids,omitempty"`

	// StaffRole is set only for staff principals.
	StaffRole StaffRole `json:"staff_role,omitempty"`

	// CanImpersonate gates the impersonation capability. Only meaningful
	// for administrators.
	CanImpersonate bool `json:"can_impersonate,omitempty"`

	// Lockout bookkeeping, maintained by the authenticator.
	FailedAttempts int        `json:"-"`
	LockedAt       *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdministrator reports whether the principal is a platform administrator.
func (p *Principal) IsAdministrator() bool { return p.Type == TypeAdministrator }

// IsOwner reports whether the principal is a facility owner.
func (p *Principal) IsOwner() bool { return p.Type == TypeOwner }

// IsStaff reports whether the principal is facility staff.
func (p *Principal) IsStaff() bool { return p.Type == TypeStaff }

// InScope reports whether facilityID falls inside the principal's tenant
// scope. Administrators are global and always in scope.
func (p *Principal) InScope(facilityID string) bool {
	if p.Type == TypeAdministrator {
		return true
	}
	for _, id := range p.FacilityIDs {
		if id == facilityID {
			return true
		}
	}
	return false
}

// HomeFacility returns the single facility a staff principal belongs to,
// or "" for other principal types.
func (p *Principal) HomeFacility() string {
	if p.Type == TypeStaff && len(p.FacilityIDs) > 0 {
		return p.FacilityIDs[0]
	}
	return ""
}

// Credential is the stored secret material for one principal. A credential
// is superseded by a new version on change; prior hashes are retained (most
// recent first, bounded by policy) to enforce non-reuse.
type Credential struct {
	PrincipalID string
	// Hash is the bcrypt hash of the current secret (password or PIN).
	Hash    string
	Version int
	// History holds hashes of prior secrets, newest first.
	History   []string
	UpdatedAt time.Time
}

// Facility is the tenant unit. Only the fields the security core needs are
// modeled here; the facility directory owns the rest.
type Facility struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}
