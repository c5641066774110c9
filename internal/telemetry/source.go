package telemetry

import "context"

// Source produces metric name to value mappings on demand.
//
// Collect may return an empty map. It should honour ctx; the loop abandons a
// source that is still running when its deadline passes.
type Source interface {
	Name() string
	Collect(ctx context.Context) (map[string]any, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc struct {
	name string
	fn   func(ctx context.Context) (map[string]any, error)
}

// NewSourceFunc returns a Source named name that calls fn.
func NewSourceFunc(name string, fn func(ctx context.Context) (map[string]any, error)) SourceFunc {
	return SourceFunc{name: name, fn: fn}
}

// Name returns the source name.
func (s SourceFunc) Name() string { return s.name }

// Collect calls the wrapped function.
func (s SourceFunc) Collect(ctx context.Context) (map[string]any, error) { return s.fn(ctx) }
