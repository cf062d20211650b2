package persistence

import (
	"context"
	"sync"

	"github.com/BaSui01/nodeflow/workflow"
)

// MemoryStore is an in-memory ExecutionStore for development and testing.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*workflow.ExecutionResult
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*workflow.ExecutionResult)}
}

// Create implements workflow.RecordStore.
func (s *MemoryStore) Create(_ context.Context, r *workflow.ExecutionResult) (string, error) {
	rec, err := prepare(r)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ExecutionID]; ok {
		return "", ErrAlreadyExists
	}
	s.records[rec.ExecutionID] = rec
	return rec.ExecutionID, nil
}

// Update implements workflow.RecordStore.
func (s *MemoryStore) Update(_ context.Context, id string, patch workflow.RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return ErrTerminal
	}
	patch.Apply(rec)
	return nil
}

// Get implements workflow.RecordStore. The returned record is a copy.
func (s *MemoryStore) Get(_ context.Context, id string) (*workflow.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Ping implements ExecutionStore.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
