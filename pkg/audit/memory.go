package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryRecorder keeps the trail in memory. It backs tests and single-node
// development; production deployments use DBRecorder.
type MemoryRecorder struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(ctx context.Context, e *Entry) error {
	stamp(e)
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryRecorder) Search(ctx context.Context, f Filter) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Entry, 0)
	for _, e := range m.entries {
		if matches(e, f) {
			cp := *e
			matched = append(matched, &cp)
		}
	}

	// Newest first, matching the database recorder's ordering.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID > matched[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*Entry{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func matches(e *Entry, f Filter) bool {
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.TargetID != "" && e.TargetID != f.TargetID {
		return false
	}
	if f.FacilityID != "" && e.FacilityID != f.FacilityID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, et := range f.EventTypes {
			if e.EventType == et {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
