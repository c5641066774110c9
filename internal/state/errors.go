package state

import "errors"

// Errors returned by the state store.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrStateLoad is returned when the backing store exists but cannot be parsed.
	// The caller decides whether to start with empty state or abort.
	ErrStateLoad = errors.New("state: load failed")

	// ErrStateSave is returned when a mutation could not be flushed.
	// The in-memory state is left as it was before the call.
	ErrStateSave = errors.New("state: save failed")

	// ErrInvalidKey is returned for an empty key.
	ErrInvalidKey = errors.New("state: key cannot be empty")

	// ErrInvalidValue is returned when a value cannot be encoded as JSON.
	ErrInvalidValue = errors.New("state: value is not JSON-serialisable")
)
