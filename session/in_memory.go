package session

import (
	"sort"
	"sync"

	"github.com/hupe1980/exodus/core"
)

// Store records session state snapshots.
type Store interface {
	Get(sessionID string) (core.SessionState, bool)
	Save(state core.SessionState)
	Delete(sessionID string)
	List() []core.SessionState
}

// InMemoryStore is a process-local Store. Snapshots are cloned on the way in
// and on the way out.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]core.SessionState
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]core.SessionState)}
}

// Get returns the latest snapshot for sessionID.
func (s *InMemoryStore) Get(sessionID string) (core.SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return core.SessionState{}, false
	}
	return state.Clone(), true
}

// Save replaces the snapshot for state.ID.
func (s *InMemoryStore) Save(state core.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.ID] = state.Clone()
}

// Delete forgets a session. Unknown ids are ignored.
func (s *InMemoryStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// List returns all snapshots ordered by start time, then id.
func (s *InMemoryStore) List() []core.SessionState {
	s.mu.RLock()
	out := make([]core.SessionState, 0, len(s.sessions))
	for _, st := range s.sessions {
		out = append(out, st.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.Before(out[j].Started)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var _ Store = (*InMemoryStore)(nil)
