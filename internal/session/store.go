package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Load when no state exists for a session id.
var ErrNotFound = errors.New("session not found")

// Store persists session state by session id.
type Store interface {
	// Load returns a copy of the state, or ErrNotFound.
	Load(ctx context.Context, id string) (*State, error)
	// Save replaces the state stored for id.
	Save(ctx context.Context, id string, st *State) error
	// Delete removes the state for id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
}

// LoadOrNew returns the stored state for id, or an empty state when none exists.
func LoadOrNew(ctx context.Context, store Store, id string) (*State, error) {
	st, err := store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return &State{}, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Persist saves st, or deletes the entry when st has been cleared.
func Persist(ctx context.Context, store Store, id string, st *State) error {
	if st.IsEmpty() {
		return store.Delete(ctx, id)
	}
	return store.Save(ctx, id, st)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *MemoryStore) Save(_ context.Context, id string, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = *st
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
