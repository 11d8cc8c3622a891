package session

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps session state in process memory. Suitable for tests and
// single-process development servers.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string][]byte)}
}

// Get returns the value stored for key within the session.
func (m *MemoryStore) Get(ctx context.Context, sessionID, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	values, ok := m.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, ErrNotFound
	}
	value, ok := values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a value for key within the session.
func (m *MemoryStore) Set(ctx context.Context, sessionID, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()

	values, ok := m.sessions[sessionID]
	if !ok {
		values = make(map[string][]byte)
		m.sessions[sessionID] = values
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	values[key] = stored
	return nil
}

// Delete removes a key from the session.
func (m *MemoryStore) Delete(ctx context.Context, sessionID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if values, ok := m.sessions[strings.TrimSpace(sessionID)]; ok {
		delete(values, key)
	}
	return nil
}

// Keys lists the keys stored for a session in sorted order.
func (m *MemoryStore) Keys(ctx context.Context, sessionID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	values, ok := m.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
