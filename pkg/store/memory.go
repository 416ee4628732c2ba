package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/principal"
)

// Memory is an in-memory implementation of both PrincipalStore and
// FacilityStore, used in tests and single-node development.
type Memory struct {
	mu           sync.RWMutex
	principals   map[string]*principal.Principal
	credentials  map[string]*principal.Credential
	pinKeys      map[string]string // pin lookup key -> principal id
	facilities   map[string]*principal.Facility
	facilityPINs map[string]*principal.Credential
	policies     map[string]*policy.SecurityPolicy
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		principals:   make(map[string]*principal.Principal),
		credentials:  make(map[string]*principal.Credential),
		pinKeys:      make(map[string]string),
		facilities:   make(map[string]*principal.Facility),
		facilityPINs: make(map[string]*principal.Credential),
		policies:     make(map[string]*policy.SecurityPolicy),
	}
}

func (m *Memory) GetPrincipal(ctx context.Context, id string) (*principal.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	return clonePrincipal(p), nil
}

func (m *Memory) FindByEmail(ctx context.Context, typ principal.Type, email string) (*principal.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principals {
		if p.Type == typ && strings.EqualFold(p.Email, email) {
			return clonePrincipal(p), nil
		}
	}
	return nil, ErrPrincipalNotFound
}

func (m *Memory) FindStaffByPINKey(ctx context.Context, pinKey string) (*principal.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pinKeys[pinKey]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	return clonePrincipal(p), nil
}

func (m *Memory) FindStaffByName(ctx context.Context, facilityID, name string) (*principal.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principals {
		if p.Type == principal.TypeStaff && p.HomeFacility() == facilityID && strings.EqualFold(p.DisplayName, name) {
			return clonePrincipal(p), nil
		}
	}
	return nil, ErrPrincipalNotFound
}

func (m *Memory) CreatePrincipal(ctx context.Context, p *principal.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[p.ID] = clonePrincipal(p)
	return nil
}

func (m *Memory) UpdateStatus(ctx context.Context, id string, status principal.Status, lockedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.Status = status
	p.LockedAt = lockedAt
	return nil
}

func (m *Memory) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return 0, ErrPrincipalNotFound
	}
	p.FailedAttempts++
	return p.FailedAttempts, nil
}

func (m *Memory) ResetFailedAttempts(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.FailedAttempts = 0
	return nil
}

func (m *Memory) GetCredential(ctx context.Context, principalID string) (*principal.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[principalID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cloneCredential(c), nil
}

func (m *Memory) SetCredential(ctx context.Context, cred *principal.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[cred.PrincipalID] = cloneCredential(cred)
	return nil
}

// SetPINKey registers the lookup key for a staff principal's personal PIN.
func (m *Memory) SetPINKey(principalID, pinKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinKeys[pinKey] = principalID
}

func (m *Memory) GetFacilityPIN(ctx context.Context, facilityID string) (*principal.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.facilityPINs[facilityID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cloneCredential(c), nil
}

// SetFacilityPIN stores the facility-wide shared PIN credential.
func (m *Memory) SetFacilityPIN(facilityID string, cred *principal.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facilityPINs[facilityID] = cloneCredential(cred)
}

func (m *Memory) GetFacility(ctx context.Context, id string) (*principal.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facilities[id]
	if !ok {
		return nil, ErrFacilityNotFound
	}
	cp := *f
	return &cp, nil
}

// CreateFacility inserts a facility record.
func (m *Memory) CreateFacility(f *principal.Facility) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.facilities[f.ID] = &cp
}

func (m *Memory) GetOwnerForFacility(ctx context.Context, facilityID string) (*principal.Principal, error) {
	m.mu.RLock()
	f, ok := m.facilities[facilityID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrFacilityNotFound
	}
	if f.OwnerID == "" {
		return nil, ErrPrincipalNotFound
	}
	return m.GetPrincipal(ctx, f.OwnerID)
}

func (m *Memory) GetSecurityPolicy(ctx context.Context, facilityID string) (*policy.SecurityPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.facilities[facilityID]; !ok {
		return nil, ErrFacilityNotFound
	}
	p, ok := m.policies[facilityID]
	if !ok {
		return nil, policy.ErrPolicyNotSet
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) UpdateSecurityPolicy(ctx context.Context, facilityID string, p policy.SecurityPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.facilities[facilityID]; !ok {
		return ErrFacilityNotFound
	}
	m.policies[facilityID] = &p
	return nil
}

func clonePrincipal(p *principal.Principal) *principal.Principal {
	cp := *p
	if p.FacilityIDs != nil {
		cp.FacilityIDs = append([]string(nil), p.FacilityIDs...)
	}
	if p.LockedAt != nil {
		t := *p.LockedAt
		cp.LockedAt = &t
	}
	return &cp
}

func cloneCredential(c *principal.Credential) *principal.Credential {
	cp := *c
	if c.History != nil {
		cp.History = append([]string(nil), c.History...)
	}
	return &cp
}
