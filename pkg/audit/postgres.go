package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBRecorder appends the audit trail to PostgreSQL.
type DBRecorder struct {
	db *sql.DB
}

// NewDBRecorder creates a database-backed recorder, creating the
// audit_events table on first use.
func NewDBRecorder(db *sql.DB) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	r := &DBRecorder{db: db}
	if err := r.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return r, nil
}

func (r *DBRecorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id VARCHAR(26) PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id VARCHAR(255),
		actor_type VARCHAR(50),
		target_id VARCHAR(255),
		facility_id VARCHAR(255),
		reason TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor_id ON audit_events(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_target_id ON audit_events(target_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_facility_id ON audit_events(facility_id);
	`

	_, err := r.db.Exec(query)
	return err
}

func (r *DBRecorder) Record(ctx context.Context, e *Entry) error {
	stamp(e)

	var metadataJSON []byte
	var err error
	if e.Metadata != nil {
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			id, timestamp, event_type, status,
			actor_id, actor_type, target_id, facility_id,
			reason, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.Timestamp, e.EventType, e.Status,
		e.ActorID, e.ActorType, e.TargetID, e.FacilityID,
		e.Reason, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (r *DBRecorder) Search(ctx context.Context, f Filter) ([]*Entry, error) {
	query := `
		SELECT
			id, timestamp, event_type, status,
			actor_id, actor_type, target_id, facility_id,
			reason, metadata
		FROM audit_events
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if f.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *f.StartTime)
		argCount++
	}
	if f.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *f.EndTime)
		argCount++
	}
	if f.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, f.ActorID)
		argCount++
	}
	if f.TargetID != "" {
		query += fmt.Sprintf(" AND target_id = $%d", argCount)
		args = append(args, f.TargetID)
		argCount++
	}
	if f.FacilityID != "" {
		query += fmt.Sprintf(" AND facility_id = $%d", argCount)
		args = append(args, f.FacilityID)
		argCount++
	}
	if len(f.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		types := make([]string, len(f.EventTypes))
		for i, et := range f.EventTypes {
			types[i] = string(et)
		}
		args = append(args, pq.Array(types))
		argCount++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(f.Status))
		argCount++
	}

	query += " ORDER BY id DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, f.Limit)
		argCount++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		e := &Entry{}
		var metadataJSON []byte
		err := rows.Scan(
			&e.ID, &e.Timestamp, &e.EventType, &e.Status,
			&e.ActorID, &e.ActorType, &e.TargetID, &e.FacilityID,
			&e.Reason, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the cutoff, returning the count removed.
// This is the only deletion the trail permits.
func (r *DBRecorder) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < $1", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	return res.RowsAffected()
}
