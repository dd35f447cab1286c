package oidcrp

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Storage is the external key-value store used to persist correlation state
// and the user record.  Implementations must be concurrently safe, since the
// store will be shared by overlapping renewal timers and session polling.
// No compare-and-swap primitive is assumed.
type Storage interface {
	// Get returns the value for key, or ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key and returns the removed value, or ErrNotFound if
	// the key was absent.
	Remove(ctx context.Context, key string) (string, error)

	// Keys enumerates every key currently in the store.
	Keys(ctx context.Context) ([]string, error)
}

// MemoryStorage implements Storage with an in-process map.  It is the
// default store and is concurrently safe.
type MemoryStorage struct {
	mu sync.RWMutex
	m  map[string]string
}

// ensure that MemoryStorage implements the Storage interface
var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{m: map[string]string{}}
}

// Get implements Storage.Get.
func (s *MemoryStorage) Get(_ context.Context, key string) (string, error) {
	const op = "MemoryStorage.Get"
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return "", fmt.Errorf("%s: no value for %q: %w", op, key, ErrNotFound)
	}
	return v, nil
}

// Set implements Storage.Set.
func (s *MemoryStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// Remove implements Storage.Remove.
func (s *MemoryStorage) Remove(_ context.Context, key string) (string, error) {
	const op = "MemoryStorage.Remove"
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return "", fmt.Errorf("%s: no value for %q: %w", op, key, ErrNotFound)
	}
	delete(s.m, key)
	return v, nil
}

// Keys implements Storage.Keys.  Keys are returned sorted so enumeration is
// deterministic.
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
