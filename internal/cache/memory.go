package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in a map. Contents are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Load returns a copy of the entry for key.
func (m *MemoryStore) Load(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	e.Payload = e.Payload.Clone()
	return &e, nil
}

// Save stores a copy of e under key.
func (m *MemoryStore) Save(_ context.Context, key string, e *Entry) error {
	cp := *e
	cp.Payload = e.Payload.Clone()
	m.mu.Lock()
	m.entries[key] = cp
	m.mu.Unlock()
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

// DeleteAll removes every entry.
func (m *MemoryStore) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]Entry)
	return n, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
