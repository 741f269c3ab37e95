// Package samples keeps the latency samples submitted by clients.
package samples

import "sync"

// Sample is one latency measurement submitted by a client. The timestamp is
// opaque to the server.
type Sample struct {
	Timestamp int64   `json:"timestamp"`
	PingMs    float64 `json:"ping_ms"`
}

// Store is an in-memory, insertion ordered collection of samples. It is safe
// for concurrent use. The zero value is ready to use.
type Store struct {
	mu      sync.RWMutex
	samples []Sample
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append adds sample at the end of the collection.
func (s *Store) Append(sample Sample) {
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

// Snapshot returns a copy of the samples stored so far, in insertion
// order. The result is never nil.
func (s *Store) Snapshot() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Len returns the number of stored samples.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}
