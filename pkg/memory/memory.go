package memory

import "sync"

// Memory is a bounded, append-only stream that drops its oldest entry once
// capacity is exceeded.
type Memory[T any] struct {
	stream   []T
	capacity int
	mu       sync.RWMutex
}

func New[T any](capacity int) *Memory[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Memory[T]{
		stream:   make([]T, 0, capacity),
		capacity: capacity,
	}
}

// All returns a copy of every stored entry, oldest first
func (m *Memory[T]) All() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]T, len(m.stream))
	copy(out, m.stream)
	return out
}

// Last returns up to n most recent entries, oldest first.
func (m *Memory[T]) Last(n int) []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 {
		return []T{}
	}
	if n > len(m.stream) {
		n = len(m.stream)
	}
	out := make([]T, n)
	copy(out, m.stream[len(m.stream)-n:])
	return out
}

// Latest returns the most recent entry, if any.
func (m *Memory[T]) Latest() (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero T
	if len(m.stream) == 0 {
		return zero, false
	}
	return m.stream[len(m.stream)-1], true
}

func (m *Memory[T]) Store(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stream = append(m.stream, v)
	if len(m.stream) > m.capacity {
		m.stream = m.stream[1:]
	}
}

func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stream)
}

// Reset empties the stream.
func (m *Memory[T]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream = make([]T, 0, m.capacity)
}
