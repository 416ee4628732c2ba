package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDBRecorder(t *testing.T) (*DBRecorder, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	r, err := NewDBRecorder(db)
	require.NoError(t, err)

	return r, mock, func() { db.Close() }
}

func TestDBRecorderRecord(t *testing.T) {
	r, mock, cleanup := setupDBRecorder(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &Entry{
		EventType:  EventTypeLockout,
		Status:     EventStatusSuccess,
		ActorID:    "stf-1",
		TargetID:   "stf-1",
		FacilityID: "fac-1",
		Reason:     "too many failed attempts",
		Metadata:   map[string]string{"failed_attempts": "5"},
	}
	require.NoError(t, r.Record(context.Background(), e))
	assert.NotEmpty(t, e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRecorderSearch(t *testing.T) {
	r, mock, cleanup := setupDBRecorder(t)
	defer cleanup()

	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "event_type", "status",
		"actor_id", "actor_type", "target_id", "facility_id",
		"reason", "metadata",
	}).AddRow(
		"01HVXA00000000000000000001", ts, string(EventTypeLogin), string(EventStatusSuccess),
		"stf-1", "staff", "", "fac-1",
		"", []byte(`{"token_prefix":"chs_abcd1234"}`),
	)

	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE 1=1 AND actor_id").
		WithArgs("stf-1", 10).
		WillReturnRows(rows)

	got, err := r.Search(context.Background(), Filter{ActorID: "stf-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventTypeLogin, got[0].EventType)
	assert.Equal(t, "chs_abcd1234", got[0].Metadata["token_prefix"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRecorderPrune(t *testing.T) {
	r, mock, cleanup := setupDBRecorder(t)
	defer cleanup()

	cutoff := time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM audit_events WHERE timestamp").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := r.Prune(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}
