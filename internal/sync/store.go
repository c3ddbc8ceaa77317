package sync

import (
	"fmt"
	"sync"
)

// MemoryStore is the in-process DefinitionStore. The SQL-backed store lives
// with the persistence layer outside this service.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]PermissionRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]PermissionRecord)}
}

// List returns all records.
func (s *MemoryStore) List() ([]PermissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PermissionRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

// Create inserts a record; creating an existing key is an error.
func (s *MemoryStore) Create(rec PermissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Key()
	if _, ok := s.records[key]; ok {
		return fmt.Errorf("permission definition %q already exists", key)
	}
	s.records[key] = rec
	return nil
}

// Update replaces an existing record; updating a missing key is an error.
func (s *MemoryStore) Update(rec PermissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Key()
	if _, ok := s.records[key]; !ok {
		return fmt.Errorf("permission definition %q does not exist", key)
	}
	s.records[key] = rec
	return nil
}

// StaticResolver resolves security names from a fixed map.
type StaticResolver map[string]int

// ResolveSecurity implements SecurityResolver.
func (r StaticResolver) ResolveSecurity(name string) (int, error) {
	id, ok := r[name]
	if !ok {
		return 0, fmt.Errorf("security definition %q not found", name)
	}
	return id, nil
}
