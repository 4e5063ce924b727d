// Package snapcache keeps the last snapshot of every feed outside the registry,
// so a one-shot fetch can be answered for feeds nobody is listening to.
package snapcache

import (
	"context"
	"sync"
)

// Store is a byte-value cache keyed by feed key.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	// Get reports false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Close(ctx context.Context) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	cp := append([]byte(nil), value...)
	s.mu.Lock()
	s.values[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

// Len returns the number of cached keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
