package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/zatekoja/concussionrehab/internal/domain/providers"
)

// MemoryStore is an in-process KeyValueStore used for local runs and tests
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get retrieves a value by key
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return clone(value), true, nil
}

// Set stores a value under key
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = clone(value)
	return nil
}

// GetByPrefix returns all entries whose key starts with prefix, ordered by key
func (s *MemoryStore) GetByPrefix(_ context.Context, prefix string) ([]providers.KeyValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []providers.KeyValue
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, providers.KeyValue{Key: k, Value: clone(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Update applies fn to the current value of key while holding the store lock
func (s *MemoryStore) Update(_ context.Context, key string, fn providers.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, found := s.data[key]
	next, err := fn(clone(current), found)
	if err != nil {
		return err
	}
	s.data[key] = clone(next)
	return nil
}

// Len returns the number of stored keys
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
