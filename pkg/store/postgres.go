package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/principal"
)

// Postgres implements PrincipalStore and FacilityStore on PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle and ensures the schema exists.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &Postgres{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return s, nil
}

func (s *Postgres) ensureSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS principals (
		id VARCHAR(64) PRIMARY KEY,
		type VARCHAR(20) NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		email VARCHAR(255),
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		facility_ids TEXT[],
		staff_role VARCHAR(20),
		can_impersonate BOOLEAN NOT NULL DEFAULT false,
		failed_attempts INTEGER NOT NULL DEFAULT 0,
		locked_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS credentials (
		principal_id VARCHAR(64) PRIMARY KEY,
		hash TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		history TEXT[],
		pin_key VARCHAR(64),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS facilities (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		owner_id VARCHAR(64),
		pin_hash TEXT,
		security_policy JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_principals_email ON principals(type, email);
	CREATE INDEX IF NOT EXISTS idx_credentials_pin_key ON credentials(pin_key);
	`
	_, err := s.db.Exec(query)
	return err
}

const principalColumns = `id, type, display_name, email, status, facility_ids, staff_role, can_impersonate, failed_attempts, locked_at, created_at, updated_at`

func (s *Postgres) scanPrincipal(row *sql.Row) (*principal.Principal, error) {
	p := &principal.Principal{}
	var email, staffRole sql.NullString
	var facilityIDs pq.StringArray
	var lockedAt sql.NullTime

	err := row.Scan(&p.ID, &p.Type, &p.DisplayName, &email, &p.Status, &facilityIDs,
		&staffRole, &p.CanImpersonate, &p.FailedAttempts, &lockedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan principal: %w", err)
	}

	p.Email = email.String
	p.StaffRole = principal.StaffRole(staffRole.String)
	p.FacilityIDs = []string(facilityIDs)
	if lockedAt.Valid {
		t := lockedAt.Time
		p.LockedAt = &t
	}
	return p, nil
}

func (s *Postgres) GetPrincipal(ctx context.Context, id string) (*principal.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
	return s.scanPrincipal(row)
}

func (s *Postgres) FindByEmail(ctx context.Context, typ principal.Type, email string) (*principal.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE type = $1 AND LOWER(email) = LOWER($2)`, typ, email)
	return s.scanPrincipal(row)
}

func (s *Postgres) FindStaffByPINKey(ctx context.Context, pinKey string) (*principal.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+principalColumnsPrefixed("p")+`
		FROM principals p
		JOIN credentials c ON c.principal_id = p.id
		WHERE p.type = $1 AND c.pin_key = $2`, principal.TypeStaff, pinKey)
	return s.scanPrincipal(row)
}

func (s *Postgres) FindStaffByName(ctx context.Context, facilityID, name string) (*principal.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE type = $1 AND $2 = ANY(facility_ids) AND LOWER(display_name) = LOWER($3)`,
		principal.TypeStaff, facilityID, name)
	return s.scanPrincipal(row)
}

func (s *Postgres) CreatePrincipal(ctx context.Context, p *principal.Principal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principals (id, type, display_name, email, status, facility_ids, staff_role, can_impersonate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`,
		p.ID, p.Type, p.DisplayName, nullIfEmpty(p.Email), p.Status,
		pq.Array(p.FacilityIDs), nullIfEmpty(string(p.StaffRole)), p.CanImpersonate)
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateStatus(ctx context.Context, id string, status principal.Status, lockedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE principals SET status = $1, locked_at = $2, updated_at = NOW()
		WHERE id = $3`, status, lockedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE principals SET failed_attempts = failed_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_attempts`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, ErrPrincipalNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return attempts, nil
}

func (s *Postgres) ResetFailedAttempts(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE principals SET failed_attempts = 0, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) GetCredential(ctx context.Context, principalID string) (*principal.Credential, error) {
	c := &principal.Credential{}
	var history pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id, hash, version, history, updated_at
		FROM credentials WHERE principal_id = $1`, principalID).
		Scan(&c.PrincipalID, &c.Hash, &c.Version, &history, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	c.History = []string(history)
	return c, nil
}

func (s *Postgres) SetCredential(ctx context.Context, cred *principal.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (principal_id, hash, version, history, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (principal_id) DO UPDATE
		SET hash = $2, version = $3, history = $4, updated_at = NOW()`,
		cred.PrincipalID, cred.Hash, cred.Version, pq.Array(cred.History))
	if err != nil {
		return fmt.Errorf("failed to set credential: %w", err)
	}
	return nil
}

// SetPINKey records the lookup key for a staff principal's personal PIN.
func (s *Postgres) SetPINKey(ctx context.Context, principalID, pinKey string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET pin_key = $1, updated_at = NOW()
		WHERE principal_id = $2`, pinKey, principalID)
	if err != nil {
		return fmt.Errorf("failed to set pin key: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) GetFacilityPIN(ctx context.Context, facilityID string) (*principal.Credential, error) {
	var hash sql.NullString
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT pin_hash, created_at FROM facilities WHERE id = $1`, facilityID).
		Scan(&hash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrFacilityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get facility pin: %w", err)
	}
	if !hash.Valid || hash.String == "" {
		return nil, ErrCredentialNotFound
	}
	return &principal.Credential{Hash: hash.String, Version: 1, UpdatedAt: createdAt}, nil
}

func (s *Postgres) GetFacility(ctx context.Context, id string) (*principal.Facility, error) {
	f := &principal.Facility{}
	var ownerID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM facilities WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &ownerID, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrFacilityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get facility: %w", err)
	}
	f.OwnerID = ownerID.String
	return f, nil
}

func (s *Postgres) GetOwnerForFacility(ctx context.Context, facilityID string) (*principal.Principal, error) {
	f, err := s.GetFacility(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	if f.OwnerID == "" {
		return nil, ErrPrincipalNotFound
	}
	return s.GetPrincipal(ctx, f.OwnerID)
}

func (s *Postgres) GetSecurityPolicy(ctx context.Context, facilityID string) (*policy.SecurityPolicy, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT security_policy FROM facilities WHERE id = $1`, facilityID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrFacilityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security policy: %w", err)
	}
	if len(raw) == 0 {
		return nil, policy.ErrPolicyNotSet
	}
	p := &policy.SecurityPolicy{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal security policy: %w", err)
	}
	return p, nil
}

func (s *Postgres) UpdateSecurityPolicy(ctx context.Context, facilityID string, p policy.SecurityPolicy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal security policy: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE facilities SET security_policy = $1 WHERE id = $2`, raw, facilityID)
	if err != nil {
		return fmt.Errorf("failed to update security policy: %w", err)
	}
	if err := requireRow(res); err != nil {
		return ErrFacilityNotFound
	}
	return nil
}

func principalColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.type, ` + alias + `.display_name, ` + alias + `.email, ` +
		alias + `.status, ` + alias + `.facility_ids, ` + alias + `.staff_role, ` +
		alias + `.can_impersonate, ` + alias + `.failed_attempts, ` + alias + `.locked_at, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}
