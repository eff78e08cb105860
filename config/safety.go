package config

import "sync"

// SafetySource is the injectable holder for the global safety flags.
// Engines read a snapshot at the start of every governed operation instead
// of consulting ambient global state, so a flipped flag takes effect on the
// very next call while tests can construct a source with any combination.
type SafetySource struct {
	mu      sync.RWMutex
	current Safety
}

// NewSafetySource creates a source seeded with the given flags.
func NewSafetySource(initial Safety) *SafetySource {
	return &SafetySource{current: initial}
}

// Current returns a snapshot of the safety flags.
func (s *SafetySource) Current() Safety {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the safety flags. Called by the config watcher on reload.
func (s *SafetySource) Set(next Safety) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = next
}
