package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Logger is the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Backend persists the full key/value mapping.
//
// Load returns an empty map when nothing has been stored yet and an error
// wrapping ErrStateLoad when stored content cannot be parsed. Save must
// replace the stored mapping as a single atomic step.
type Backend interface {
	Load() (map[string]json.RawMessage, error)
	Save(values map[string]json.RawMessage) error
	Close() error
}

// Store is a thread-safe, write-through key/value store.
//
// Reads run concurrently with each other. A mutation holds the write lock
// across both the in-memory change and the durable flush, so readers never
// observe a value that has not been persisted.
type Store struct {
	backend Backend

	mu        sync.RWMutex
	values    map[string]json.RawMessage
	lastSaved time.Time

	logger Logger
	now    func() time.Time
}

// Open loads the backend's contents into a new Store.
//
// Returns:
//   - *Store: ready for use, empty when the backend holds nothing yet
//   - error: wraps ErrStateLoad when stored content is malformed
func Open(backend Backend) (*Store, error) {
	values, err := backend.Load()
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]json.RawMessage)
	}
	return &Store{
		backend: backend,
		values:  values,
		logger:  noopLogger{},
		now:     time.Now,
	}, nil
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Get returns the value stored under key, or def when the key is absent.
// Objects decode to map[string]any and numbers to float64.
func (s *Store) Get(key string, def any) any {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return def
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// Stored values were validated on the way in.
		return def
	}
	return v
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Set stores value under key and flushes before returning.
func (s *Store) Set(key string, value any) error {
	return s.Update(map[string]any{key: value})
}

// Update merges updates into the state in one flush.
// Either every key is applied and persisted or none is.
func (s *Store) Update(updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	encoded := make(map[string]json.RawMessage, len(updates))
	for k, v := range updates {
		if k == "" {
			return ErrInvalidKey
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: key %q: %w", ErrInvalidValue, k, err)
		}
		encoded[k] = raw
	}

	return s.mutate(func(next map[string]json.RawMessage) bool {
		maps.Copy(next, encoded)
		return true
	})
}

// Delete removes key. Deleting an absent key is not an error and does not flush.
func (s *Store) Delete(key string) error {
	return s.mutate(func(next map[string]json.RawMessage) bool {
		if _, ok := next[key]; !ok {
			return false
		}
		delete(next, key)
		return true
	})
}

// mutate applies fn to a copy of the current mapping, persists the copy and
// swaps it in. When fn reports no change nothing is written.
func (s *Store) mutate(fn func(next map[string]json.RawMessage) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.values)
	if !fn(next) {
		return nil
	}

	if err := s.backend.Save(next); err != nil {
		s.logger.Error("state flush failed", "error", err)
		return fmt.Errorf("%w: %w", ErrStateSave, err)
	}

	s.values = next
	s.lastSaved = s.now()
	return nil
}

// Reload replaces the in-memory state with the backend's contents.
// On failure the current state is kept and the error wraps ErrStateLoad.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.backend.Load()
	if err != nil {
		return err
	}
	if values == nil {
		values = make(map[string]json.RawMessage)
	}
	s.values = values
	s.logger.Debug("state reloaded", "keys", len(values))
	return nil
}

// Snapshot returns a decoded copy of the whole state.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.values))
	for k, raw := range s.values {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			out[k] = v
		}
	}
	return out
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// LastSaved returns the time of the last successful flush, zero if none yet.
func (s *Store) LastSaved() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSaved
}

// Backup writes the current state as a JSON object to path, atomically.
// The result is readable by a FileBackend.
func (s *Store) Backup(path string) error {
	s.mu.RLock()
	data, err := encodeState(s.values)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding backup: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
