package policy

import (
	"fmt"
	"time"
	"unicode"
)

// Platform-wide floors and ceilings for numeric policy fields. Stored values
// outside these ranges are clamped on read and on update, never rejected.
const (
	MinSessionTimeoutMinutes = 5
	MaxSessionTimeoutMinutes = 60

	MinConcurrentSessions = 1
	MaxConcurrentSessions = 10

	MinFailedLoginAttempts = 3
	MaxFailedLoginAttempts = 10

	MinLockoutDurationMinutes = 5
	MaxLockoutDurationMinutes = 1440

	MinMinPasswordLength = 6
	MaxMinPasswordLength = 64

	MinPasswordExpiryDays = 0 // 0 disables expiry
	MaxPasswordExpiryDays = 365

	MinPasswordHistoryCount = 0
	MaxPasswordHistoryCount = 24
)

// SecurityPolicy is the effective security configuration for one facility.
type SecurityPolicy struct {
	SessionTimeoutMinutes  int `json:"session_timeout_minutes" yaml:"session_timeout_minutes"`
	SessionWarningMinutes  int `json:"session_warning_minutes" yaml:"session_warning_minutes"`
	MaxConcurrentSessions  int `json:"max_concurrent_sessions" yaml:"max_concurrent_sessions"`
	MaxFailedLoginAttempts int `json:"max_failed_login_attempts" yaml:"max_failed_login_attempts"`
	LockoutDurationMinutes int `json:"lockout_duration_minutes" yaml:"lockout_duration_minutes"`

	MinPasswordLength    int  `json:"min_password_length" yaml:"min_password_length"`
	RequireUppercase     bool `json:"require_uppercase" yaml:"require_uppercase"`
	RequireLowercase     bool `json:"require_lowercase" yaml:"require_lowercase"`
	RequireDigit         bool `json:"require_digit" yaml:"require_digit"`
	RequireSpecial       bool `json:"require_special" yaml:"require_special"`
	PasswordExpiryDays   int  `json:"password_expiry_days" yaml:"password_expiry_days"`
	PasswordHistoryCount int  `json:"password_history_count" yaml:"password_history_count"`
}

// Default returns the platform defaults applied when a facility has not
// customized its policy.
func Default() SecurityPolicy {
	return SecurityPolicy{
		SessionTimeoutMinutes:  15,
		SessionWarningMinutes:  2,
		MaxConcurrentSessions:  3,
		MaxFailedLoginAttempts: 5,
		LockoutDurationMinutes: 15,
		MinPasswordLength:      8,
		RequireUppercase:       true,
		RequireLowercase:       true,
		RequireDigit:           true,
		RequireSpecial:         false,
		PasswordExpiryDays:     90,
		PasswordHistoryCount:   5,
	}
}

// Clamp forces every numeric field into its platform bounds and returns the
// result. Out-of-range stored values are corrected rather than rejected so a
// bad row can never poison logins for a whole facility.
func (p SecurityPolicy) Clamp() SecurityPolicy {
	p.SessionTimeoutMinutes = clampInt(p.SessionTimeoutMinutes, MinSessionTimeoutMinutes, MaxSessionTimeoutMinutes)
	p.MaxConcurrentSessions = clampInt(p.MaxConcurrentSessions, MinConcurrentSessions, MaxConcurrentSessions)
	p.MaxFailedLoginAttempts = clampInt(p.MaxFailedLoginAttempts, MinFailedLoginAttempts, MaxFailedLoginAttempts)
	p.LockoutDurationMinutes = clampInt(p.LockoutDurationMinutes, MinLockoutDurationMinutes, MaxLockoutDurationMinutes)
	p.MinPasswordLength = clampInt(p.MinPasswordLength, MinMinPasswordLength, MaxMinPasswordLength)
	p.PasswordExpiryDays = clampInt(p.PasswordExpiryDays, MinPasswordExpiryDays, MaxPasswordExpiryDays)
	p.PasswordHistoryCount = clampInt(p.PasswordHistoryCount, MinPasswordHistoryCount, MaxPasswordHistoryCount)

	// The warning fires before the timeout; it can never meet or exceed it.
	if p.SessionWarningMinutes < 1 {
		p.SessionWarningMinutes = 1
	}
	if p.SessionWarningMinutes >= p.SessionTimeoutMinutes {
		p.SessionWarningMinutes = p.SessionTimeoutMinutes - 1
	}
	return p
}

// SessionTimeout returns the timeout as a duration.
func (p SecurityPolicy) SessionTimeout() time.Duration {
	return time.Duration(p.SessionTimeoutMinutes) * time.Minute
}

// LockoutDuration returns the lockout window as a duration.
func (p SecurityPolicy) LockoutDuration() time.Duration {
	return time.Duration(p.LockoutDurationMinutes) * time.Minute
}

// ValidatePassword checks a candidate secret against the policy's length and
// character-class requirements.
func (p SecurityPolicy) ValidatePassword(password string) error {
	if len(password) < p.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", p.MinPasswordLength)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}

	if p.RequireUppercase && !upper {
		return fmt.Errorf("password must contain an uppercase letter")
	}
	if p.RequireLowercase && !lower {
		return fmt.Errorf("password must contain a lowercase letter")
	}
	if p.RequireDigit && !digit {
		return fmt.Errorf("password must contain a digit")
	}
	if p.RequireSpecial && !special {
		return fmt.Errorf("password must contain a special character")
	}
	return nil
}

// MostRestrictive combines two policies field by field, keeping the stricter
// value of each: the shorter timeout, the lower session and attempt caps, the
// longer lockout, and the stronger password rules. Owners operating several
// facilities are governed by this combination.
func MostRestrictive(a, b SecurityPolicy) SecurityPolicy {
	out := SecurityPolicy{
		SessionTimeoutMinutes:  min(a.SessionTimeoutMinutes, b.SessionTimeoutMinutes),
		SessionWarningMinutes:  max(a.SessionWarningMinutes, b.SessionWarningMinutes),
		MaxConcurrentSessions:  min(a.MaxConcurrentSessions, b.MaxConcurrentSessions),
		MaxFailedLoginAttempts: min(a.MaxFailedLoginAttempts, b.MaxFailedLoginAttempts),
		LockoutDurationMinutes: max(a.LockoutDurationMinutes, b.LockoutDurationMinutes),
		MinPasswordLength:      max(a.MinPasswordLength, b.MinPasswordLength),
		RequireUppercase:       a.RequireUppercase || b.RequireUppercase,
		RequireLowercase:       a.RequireLowercase || b.RequireLowercase,
		RequireDigit:           a.RequireDigit || b.RequireDigit,
		RequireSpecial:         a.RequireSpecial || b.RequireSpecial,
		PasswordExpiryDays:     soonerExpiry(a.PasswordExpiryDays, b.PasswordExpiryDays),
		PasswordHistoryCount:   max(a.PasswordHistoryCount, b.PasswordHistoryCount),
	}
	return out.Clamp()
}

// soonerExpiry favors the earlier expiry. Zero means passwords never expire
// and loses to any positive value.
func soonerExpiry(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	return min(a, b)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
