// Package history keeps the most recent analysis results in memory.
package history

import "sync"

// DefaultSize is the capacity used when none is given.
const DefaultSize = 50

// Store is a bounded, thread-safe list of entries. Once full, appending drops
// the oldest entry.
type Store[T any] struct {
	mu    sync.RWMutex
	items []T
	next  int
	full  bool
}

func New[T any](size int) *Store[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Store[T]{items: make([]T, size)}
}

// Append records v.
func (s *Store[T]) Append(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[s.next] = v
	s.next = (s.next + 1) % len(s.items)
	if s.next == 0 {
		s.full = true
	}
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store[T]) List(limit int) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.lenLocked()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.items)) % len(s.items)
		out = append(out, s.items[idx])
	}
	return out
}

// Len returns the number of stored entries.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenLocked()
}

// Clear removes every entry.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.items)
	s.next = 0
	s.full = false
}

func (s *Store[T]) lenLocked() int {
	if s.full {
		return len(s.items)
	}
	return s.next
}
