package ratelimit

import (
	"sync"
	"time"
)

const localSweepInterval = time.Minute

type localKey struct {
	scope         string
	identifier    string
	windowStartMs int64
}

type localEntry struct {
	count     int
	expiresMs int64
}

// LocalStore is the in-process fallback counter. It never fails, which is
// what makes the silent fallback from a broken shared store safe. Expired
// windows are swept opportunistically during increments.
type LocalStore struct {
	mu        sync.Mutex
	counters  map[localKey]*localEntry
	lastSweep time.Time
}

// NewLocalStore creates an empty in-process counter store.
func NewLocalStore() *LocalStore {
	return &LocalStore{counters: make(map[localKey]*localEntry)}
}

// Increment bumps the counter for one fixed window and returns the new count.
func (s *LocalStore) Increment(scope, identifier string, windowStartMs, windowMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	key := localKey{scope: scope, identifier: identifier, windowStartMs: windowStartMs}
	entry, ok := s.counters[key]
	if !ok {
		entry = &localEntry{expiresMs: windowStartMs + windowMs}
		s.counters[key] = entry
	}
	entry.count++
	return entry.count, nil
}

// Len reports the number of live windows. Test hook.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *LocalStore) sweepLocked() {
	now := time.Now()
	if now.Sub(s.lastSweep) < localSweepInterval {
		return
	}
	s.lastSweep = now

	nowMs := now.UnixMilli()
	for key, entry := range s.counters {
		if entry.expiresMs <= nowMs {
			delete(s.counters, key)
		}
	}
}
