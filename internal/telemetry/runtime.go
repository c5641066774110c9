package telemetry

import (
	"context"
	"math"
	"time"
)

// Runtime reports process uptime.
type Runtime struct {
	startTime time.Time
	now       func() time.Time
}

// NewRuntime returns a Runtime that counts from now.
func NewRuntime() *Runtime {
	return &Runtime{startTime: time.Now(), now: time.Now}
}

// Name returns "runtime".
func (r *Runtime) Name() string { return "runtime" }

// Collect returns uptime_seconds and started_at.
func (r *Runtime) Collect(context.Context) (map[string]any, error) {
	return map[string]any{
		"uptime_seconds": int64(math.Floor(r.now().Sub(r.startTime).Seconds())),
		"started_at":     r.startTime.UTC().Format(time.RFC3339),
	}, nil
}
