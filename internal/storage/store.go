package storage

import (
	"errors"
	"strings"
	"sync"
)

// ErrKeyNotFound is returned when an entity id doesn't exist in the store
var ErrKeyNotFound = errors.New("key not found")

// Store holds the raw entity bytes of one node, keyed by entity id.
// All implementations must be safe for concurrent access.
type Store interface {
	// Get returns a copy of the value stored under id.
	// Returns ErrKeyNotFound if the id doesn't exist.
	Get(id string) ([]byte, error)

	// Put stores value under id, replacing any previous value.
	Put(id string, value []byte) error

	// Delete removes id. Deleting a missing id is not an error.
	Delete(id string) error

	// DeletePrefix removes every id starting with prefix and returns how
	// many were removed.
	DeletePrefix(prefix string) (int, error)

	// List returns all ids in no particular order.
	List() []string

	// Stats returns storage statistics.
	Stats() StoreStats

	// Close releases the backend.
	Close() error
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int `json:"keys"`  // Number of entities
	Bytes int `json:"bytes"` // Total size of all values in bytes
}

// MemoryStore keeps entities in a map guarded by a sync.RWMutex.
// Contents are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the value so callers can't mutate stored data.
func (m *MemoryStore) Get(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[id]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return clone(value), nil
}

// Put stores a copy of value.
func (m *MemoryStore) Put(id string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[id] = clone(value)
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, id)
	return nil
}

func (m *MemoryStore) DeletePrefix(prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id := range m.data {
		if strings.HasPrefix(id, prefix) {
			delete(m.data, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	return ids
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, value := range m.data {
		totalBytes += len(value)
	}

	return StoreStats{
		Keys:  len(m.data),
		Bytes: totalBytes,
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
