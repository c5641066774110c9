package audit

import (
	"context"
	"maps"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/gateway"
)

const (
	// writeTimeout bounds a single audit insert.
	writeTimeout = 2 * time.Second

	// queueSize is how many entries may wait for the writer before new
	// ones are dropped.
	queueSize = 256
)

// Logger defines the logging interface used by the audit package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder writes gateway activity to a Repository from a background
// goroutine, so the gateway's message handlers never wait on the database.
// Write failures and queue overflows are logged and never reach the gateway.
type Recorder struct {
	repo Repository

	mu     sync.RWMutex
	logger Logger
	closed bool

	queue   chan *Entry
	done    chan struct{}
	dropped atomic.Uint64
}

var _ gateway.Recorder = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to repo and starts its writer.
// Call Close to flush queued entries.
func NewRecorder(repo Repository) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: noopLogger{},
		queue:  make(chan *Entry, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Close stops accepting entries and waits until every queued entry has
// been written. It is safe to call more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

// Dropped returns how many entries were discarded because the queue was
// full or the recorder was closed.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// RecordRPC stores one finished RPC call.
func (r *Recorder) RecordRPC(rec gateway.RPCRecord) {
	e := &Entry{
		Action:    ActionRPC,
		Source:    rec.Source,
		RequestID: rec.RequestID,
		Method:    rec.Method,
		Outcome:   rec.Outcome,
		Duration:  rec.Duration,
		CreatedAt: rec.At,
	}
	if rec.Error != "" {
		e.Details = map[string]any{"error": rec.Error}
	}
	r.enqueue(e)
}

// RecordAttributes stores one applied attribute change.
func (r *Recorder) RecordAttributes(source string, attrs map[string]any) {
	r.enqueue(&Entry{
		Action:    ActionAttribute,
		Source:    source,
		Outcome:   "ok",
		Details:   maps.Clone(attrs),
		CreatedAt: time.Now().UTC(),
	})
}

func (r *Recorder) enqueue(e *Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Inc()
		r.logger.Warn("audit entry dropped after close", "action", e.Action, "method", e.Method)
		return
	}
	select {
	case r.queue <- e:
	default:
		r.dropped.Inc()
		r.logger.Warn("audit queue full, entry dropped", "action", e.Action, "method", e.Method)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.create(e)
	}
}

func (r *Recorder) create(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, e); err != nil {
		r.mu.RLock()
		logger := r.logger
		r.mu.RUnlock()
		logger.Error("audit write failed", "action", e.Action, "method", e.Method, "error", err)
	}
}
