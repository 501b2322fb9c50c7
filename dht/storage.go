package dht

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nyctern/kaddht/limits"
)

// Storage is the in-memory key/value map the engine replicates values
// into. Each entry's per-key republish timer lives in the scheduler;
// Storage itself only tracks the value, plus enough bookkeeping for the
// scheduler to re-issue a republish. Values are opaque to the core.
type Storage struct {
	mu      sync.RWMutex
	entries map[string][]byte

	// onStore, when set, is invoked after a value changes locally so the
	// scheduler can (re)arm that key's republish timer.
	onStore func(key Key)
}

// NewStorage creates an empty Storage.
func NewStorage() *Storage {
	return &Storage{entries: make(map[string][]byte)}
}

// SetOnStore registers a callback invoked whenever StoreLocally actually
// changes a value (first write or differing overwrite).
func (s *Storage) SetOnStore(fn func(key Key)) {
	s.mu.Lock()
	s.onStore = fn
	s.mu.Unlock()
}

// StoreLocally sets key to value. If the value is unchanged from what is
// already stored, this is a no-op (and does not re-arm the republish
// timer, per last-writer-wins semantics on an unchanged write). A value
// that fails limits.ValidateStoredValue is rejected silently from the
// caller's perspective (storage RPCs never surface an error to their
// caller, per the engine's error-handling design) but logged at Warn.
func (s *Storage) StoreLocally(key Key, value []byte) {
	if err := limits.ValidateStoredValue(value); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "storage",
			"key":       key.String(),
			"size":      len(value),
			"error":     err.Error(),
		}).Warn("rejected oversized or empty store value")
		return
	}

	k := string(key)

	s.mu.Lock()
	existing, ok := s.entries[k]
	if ok && bytes.Equal(existing, value) {
		s.mu.Unlock()
		return
	}
	s.entries[k] = value
	cb := s.onStore
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"component": "storage",
		"key":       key.String(),
		"size":      len(value),
	}).Debug("stored value locally")

	if cb != nil {
		cb(key)
	}
}

// RetrieveLocally returns the value for key and whether it was present.
func (s *Storage) RetrieveLocally(key Key) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[string(key)]
	return v, ok
}

// Delete removes key from local storage, used when a caller wants to
// stop participating in storage for that key; republication is
// unconditional until this is called (open question 3: no automatic
// ownership migration).
func (s *Storage) Delete(key Key) {
	s.mu.Lock()
	delete(s.entries, string(key))
	s.mu.Unlock()
}

// Keys returns every key currently held, for republication and for
// replicateCloserStorage to walk.
func (s *Storage) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, Key(k))
	}
	return out
}
