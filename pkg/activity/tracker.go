// Package activity implements the client-side inactivity tracker. It mirrors
// the server's inactivity window so a UI can warn before timeout and lock
// itself when the window lapses; the server's own expiry stays authoritative.
package activity

import (
	"sync"
	"time"
)

// State is the tracker's view of the session.
type State string

const (
	// StateActive means the session has comfortable time left.
	StateActive State = "active"
	// StateWarning means expiry is close enough to surface a countdown.
	StateWarning State = "warning"
	// StateExpired means the inactivity window lapsed locally.
	StateExpired State = "expired"
)

// Tracker tracks user activity against a snapshotted timeout. Safe for
// concurrent use; UI event handlers record from many goroutines.
type Tracker struct {
	mu            sync.RWMutex
	timeout       time.Duration
	warningBefore time.Duration
	lastActivity  time.Time
}

// NewTracker creates a tracker for a session with the given timeout and
// warning window, starting the clock at start.
func NewTracker(timeout, warningBefore time.Duration, start time.Time) *Tracker {
	if warningBefore >= timeout {
		warningBefore = timeout / 2
	}
	return &Tracker{
		timeout:       timeout,
		warningBefore: warningBefore,
		lastActivity:  start,
	}
}

// Record notes user activity at now, restarting the window. Activity after
// local expiry is ignored: the UI must re-authenticate, not self-heal.
func (t *Tracker) Record(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.expiredLocked(now) {
		return
	}
	if now.After(t.lastActivity) {
		t.lastActivity = now
	}
}

// State reports the tracker's state at now.
func (t *Tracker) State(now time.Time) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.expiredLocked(now) {
		return StateExpired
	}
	if !now.Before(t.deadlineLocked().Add(-t.warningBefore)) {
		return StateWarning
	}
	return StateActive
}

// Remaining is the time until local expiry, zero once lapsed.
func (t *Tracker) Remaining(now time.Time) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d := t.deadlineLocked().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Deadline is the moment the window lapses absent further activity.
func (t *Tracker) Deadline() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.deadlineLocked()
}

func (t *Tracker) deadlineLocked() time.Time {
	return t.lastActivity.Add(t.timeout)
}

func (t *Tracker) expiredLocked(now time.Time) bool {
	return !now.Before(t.deadlineLocked())
}
