// Package ringlog holds the bounded console and network histories captured
// from the attached page.
package ringlog

import "sync"

// DefaultCapacity is the number of entries each history keeps.
const DefaultCapacity = 100

// Buffer is a fixed-capacity FIFO log. Appending past capacity evicts the
// oldest entry. Safe for concurrent use.
type Buffer[T any] struct {
	mu       sync.RWMutex
	entries  []T
	head     int // index of the oldest entry once the buffer is full
	capacity int
	evicted  uint64
}

// NewBuffer creates a buffer holding at most capacity entries.
// A non-positive capacity falls back to DefaultCapacity.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Append adds entry at the end, evicting the oldest entry when full.
func (b *Buffer[T]) Append(entry T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(entry)
}

func (b *Buffer[T]) appendLocked(entry T) {
	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, entry)
		return
	}
	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	b.evicted++
}

// Snapshot returns the current contents, oldest first. The returned slice is
// a copy and is never nil.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, len(b.entries))
	if len(b.entries) < b.capacity {
		copy(out, b.entries)
		return out
	}
	n := copy(out, b.entries[b.head:])
	copy(out[n:], b.entries[:b.head])
	return out
}

// Clear drops every entry.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
}

func (b *Buffer[T]) clearLocked() {
	b.entries = make([]T, 0, b.capacity)
	b.head = 0
}

// Len returns the number of entries held.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Cap returns the maximum number of entries held.
func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// Evicted returns how many entries were dropped to make room since creation.
func (b *Buffer[T]) Evicted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.evicted
}
