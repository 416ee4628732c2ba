// Package audit records security-significant events to an append-only trail.
// Entries are written, searched, and exported; nothing updates or deletes an
// entry once recorded (retention pruning aside).
package audit

import (
	"time"
)

// EventType categorizes an audit event.
type EventType string

const (
	// Authentication events
	EventTypeLogin          EventType = "auth.login"
	EventTypeLoginFailed    EventType = "auth.login_failed"
	EventTypeLogout         EventType = "auth.logout"
	EventTypeLockout        EventType = "auth.lockout"
	EventTypeUnlock         EventType = "auth.unlock"
	EventTypePasswordChange EventType = "auth.password_change"

	// Session events
	EventTypeSessionEvicted EventType = "session.evicted"
	EventTypeSessionRevoked EventType = "session.revoked"

	// Impersonation events
	EventTypeImpersonateStart EventType = "impersonation.start"
	EventTypeImpersonateStop  EventType = "impersonation.stop"

	// Configuration events
	EventTypePolicyUpdate EventType = "config.policy_update"

	// Admin events
	EventTypePrincipalCreate  EventType = "admin.principal_create"
	EventTypePrincipalDisable EventType = "admin.principal_disable"
)

// EventStatus is the outcome recorded with an event.
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Entry is a single audit record. IDs are ULIDs, so lexicographic order is
// creation order even across nodes.
type Entry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor is the principal performing the action. During impersonation the
	// actor stays the administrator; the overlay target goes in Metadata.
	ActorID   string `json:"actor_id,omitempty"`
	ActorType string `json:"actor_type,omitempty"`

	// Target is whatever the action operated on: a principal for lockouts
	// and impersonation, a facility for policy edits.
	TargetID   string `json:"target_id,omitempty"`
	FacilityID string `json:"facility_id,omitempty"`

	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Filter selects entries for search and export.
type Filter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID    string
	TargetID   string
	FacilityID string
	EventTypes []EventType
	Status     EventStatus

	Limit  int
	Offset int
}

// ExportFormat names a serialization for audit exports.
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)
