package notes

import (
	"context"
	"sync"
)

// MemoryStore keeps notes in process; used for dev runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[string][]Note
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{scopes: map[string][]Note{}} }

func (m *MemoryStore) LoadNotes(_ context.Context, scope string) ([]Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.scopes[scope]), nil
}

func (m *MemoryStore) SaveNotes(_ context.Context, scope string, ns []Note) error {
	m.mu.Lock()
	m.scopes[scope] = clone(ns)
	m.mu.Unlock()
	return nil
}
