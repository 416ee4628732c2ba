package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. It backs tests and
// single-node deployments that don't carry Redis.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // token hash -> session
	byOwner  map[string]map[string]struct{} // principal id -> token hashes
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		byOwner:  make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Get(ctx context.Context, tokenHash string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.TokenHash] = s.Clone()
	idx, ok := m.byOwner[s.PrincipalID]
	if !ok {
		idx = make(map[string]struct{})
		m.byOwner[s.PrincipalID] = idx
	}
	idx[s.TokenHash] = struct{}{}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(tokenHash)
	return nil
}

func (m *MemoryStore) deleteLocked(tokenHash string) {
	s, ok := m.sessions[tokenHash]
	if !ok {
		return
	}
	delete(m.sessions, tokenHash)
	if idx, ok := m.byOwner[s.PrincipalID]; ok {
		delete(idx, tokenHash)
		if len(idx) == 0 {
			delete(m.byOwner, s.PrincipalID)
		}
	}
}

func (m *MemoryStore) ListByPrincipal(ctx context.Context, principalID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.byOwner[principalID]
	out := make([]*Session, 0, len(idx))
	for hash := range idx {
		if s, ok := m.sessions[hash]; ok {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Mutate(ctx context.Context, tokenHash string, fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return ErrSessionNotFound
	}
	cp := s.Clone()
	if err := fn(cp); err != nil {
		return err
	}
	m.sessions[tokenHash] = cp
	return nil
}

func (m *MemoryStore) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int
	for hash, s := range m.sessions {
		if s.Expired(now) {
			m.deleteLocked(hash)
			pruned++
		}
	}
	return pruned, nil
}
