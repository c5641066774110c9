package telemetry

import "errors"

var (
	// ErrCollectTimeout is returned for a source that overran its deadline.
	ErrCollectTimeout = errors.New("telemetry: source collect timed out")

	// ErrSourcePanic is returned for a source whose Collect panicked.
	ErrSourcePanic = errors.New("telemetry: source panicked")
)
