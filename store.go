package chatrelay

import (
	"sync"
)

// store is a keyed in-memory map guarded by an RWMutex. The hub uses it for
// sessions and channel state; all reads return snapshots.
type store[T any] struct {
	mutex sync.RWMutex
	items map[string]T
}

func newStore[T any]() *store[T] {
	return &store[T]{
		items: make(map[string]T),
	}
}

func (s *store[T]) Create(key string, value T) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.items[key]; exists {
		return conflict(key, "key already exists")
	}
	s.items[key] = value
	return nil
}

func (s *store[T]) Read(key string) (T, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, exists := s.items[key]
	return value, exists
}

func (s *store[T]) Delete(key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.items[key]; !exists {
		return notFound(key, "key does not exist")
	}
	delete(s.items, key)
	return nil
}

func (s *store[T]) List() map[string]T {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make(map[string]T, len(s.items))
	for key, value := range s.items {
		result[key] = value
	}
	return result
}

func (s *store[T]) Keys() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	return keys
}

func (s *store[T]) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.items)
}
