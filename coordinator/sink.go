package coordinator

import "sync"

// Sink receives derived values. Set is an opaque side effect; the
// presentation layer behind it is external to this module.
type Sink interface {
	Set(key string, value any)
}

// MemorySink is an in-memory Sink for tests and local wiring. It keeps the
// last value per key and counts applications.
type MemorySink struct {
	mu      sync.Mutex
	values  map[string]any
	applied uint64
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{values: make(map[string]any)}
}

// Set stores the value under key.
func (s *MemorySink) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.applied++
}

// Get returns the last value applied under key.
func (s *MemorySink) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Applied returns the total number of Set calls.
func (s *MemorySink) Applied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Len returns the number of distinct keys.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

var _ Sink = (*MemorySink)(nil)
