package logging

import (
	"sync"
	"time"
)

// LogEntry represents a single log line stored in the history buffer.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Ring is a fixed-size circular buffer that overwrites its oldest element.
// It backs the log history and the capture diagnostics log.
type Ring[T any] struct {
	mu      sync.RWMutex
	entries []T
	head    int
	count   int
}

// NewRing creates a ring holding at most size elements. Sizes below one are
// raised to one.
func NewRing[T any](size int) *Ring[T] {
	return &Ring[T]{entries: make([]T, max(1, size))}
}

// Write appends v, dropping the oldest element when full.
func (r *Ring[T]) Write(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = v
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// ReadAll returns every element, oldest first.
func (r *Ring[T]) ReadAll() []T {
	return r.Last(-1)
}

// Last returns the newest n elements, oldest first. A negative n returns all.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n < 0 || n > r.count {
		n = r.count
	}
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	size := len(r.entries)
	start := (r.head - n + size) % size
	for i := range n {
		out[i] = r.entries[(start+i)%size]
	}
	return out
}

// Count returns the number of stored elements.
func (r *Ring[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Reset drops every element.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
	r.head = 0
	r.count = 0
}

// RingBuffer is the log history.
type RingBuffer = Ring[LogEntry]

// NewRingBuffer creates a log history of the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	return NewRing[LogEntry](size)
}
