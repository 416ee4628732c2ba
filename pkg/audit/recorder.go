package audit

import (
	"context"
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Recorder is the audit sink. Record must not block the calling operation
// longer than a storage write; Search serves the review and export surfaces.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
	Search(ctx context.Context, f Filter) ([]*Entry, error)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(crand.Reader, 0)
)

// NewEntryID mints a ULID for an entry timestamped at t. Monotonic entropy
// keeps same-millisecond IDs ordered.
func NewEntryID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// stamp fills in ID and Timestamp on entries the caller left blank.
func stamp(e *Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = NewEntryID(e.Timestamp)
	}
}

// Nop discards every entry. Useful in tests that don't assert on the trail.
type Nop struct{}

func (Nop) Record(ctx context.Context, e *Entry) error {
	stamp(e)
	return nil
}

func (Nop) Search(ctx context.Context, f Filter) ([]*Entry, error) {
	return nil, nil
}
