package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Default limits used when Options leaves them zero.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultPendingTTL = 30 * time.Second
)

// Handler serves one RPC method.
//
// params is the raw "params" value of the request, nil when absent. The
// context carries the RPC deadline; handlers should return when it is done.
// The result is JSON-encoded as the response body.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Logger is the logging interface used by the registry.
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

// PendingRequest is an RPC whose handler has not finished yet.
type PendingRequest struct {
	RequestID string          `json:"request_id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Options configures a Registry.
type Options struct {
	// Timeout bounds one handler invocation.
	Timeout time.Duration

	// PendingTTL is the age after which ExpirePending drops a request.
	PendingTTL time.Duration

	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Stats are cumulative dispatch counters.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Succeeded  uint64 `json:"succeeded"`
	Unknown    uint64 `json:"unknown_method"`
	Failed     uint64 `json:"handler_errors"`
	TimedOut   uint64 `json:"timeouts"`
	Expired    uint64 `json:"expired"`
	Pending    int    `json:"pending"`
}

// Registry maps method names to handlers and tracks in-flight requests.
//
// All public methods are thread-safe.
type Registry struct {
	timeout    time.Duration
	pendingTTL time.Duration
	now        func() time.Time

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	pendingMu sync.Mutex
	pending   map[string]PendingRequest

	dispatched atomic.Uint64
	succeeded  atomic.Uint64
	unknown    atomic.Uint64
	failed     atomic.Uint64
	timedOut   atomic.Uint64
	expired    atomic.Uint64

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		timeout:    opts.Timeout,
		pendingTTL: opts.PendingTTL,
		now:        opts.Now,
		handlers:   make(map[string]Handler),
		pending:    make(map[string]PendingRequest),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Timeout returns the per-call handler deadline.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// Register installs handler for method, replacing any earlier one.
func (r *Registry) Register(method string, handler Handler) error {
	if method == "" || handler == nil {
		return ErrInvalidHandler
	}

	r.handlersMu.Lock()
	_, replaced := r.handlers[method]
	r.handlers[method] = handler
	r.handlersMu.Unlock()

	if replaced {
		r.logger.Info("rpc handler replaced", "method", method)
	} else {
		r.logger.Debug("rpc handler registered", "method", method)
	}
	return nil
}

// Has reports whether a handler is registered for method.
func (r *Registry) Has(method string) bool {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()
	_, ok := r.handlers[method]
	return ok
}

// Methods returns the registered method names, sorted.
func (r *Registry) Methods() []string {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()
	return slices.Sorted(maps.Keys(r.handlers))
}

// Dispatch serves one request.
//
// The request is recorded as pending for the duration of the call and removed
// however the call ends. A requestID that is already pending is rejected with
// ErrDuplicateRequest before any handler runs. If the request expires and the
// id is reused while this call still runs, the newer entry is left alone.
//
// Returns:
//   - any: the handler's result on success
//   - error: *Error with CodeUnknownMethod, CodeHandlerError or CodeTimeout,
//     or ErrDuplicateRequest
func (r *Registry) Dispatch(ctx context.Context, requestID, method string, params json.RawMessage) (any, error) {
	createdAt, err := r.begin(requestID, method, params)
	if err != nil {
		return nil, err
	}
	defer r.complete(requestID, createdAt)

	r.dispatched.Inc()

	r.handlersMu.RLock()
	handler, ok := r.handlers[method]
	r.handlersMu.RUnlock()
	if !ok {
		r.unknown.Inc()
		return nil, NewError(CodeUnknownMethod, "method %q is not registered", method)
	}

	result, err := r.invoke(ctx, method, handler, params)
	switch {
	case err == nil:
		r.succeeded.Inc()
	case errors.Is(err, ErrTimeout):
		r.timedOut.Inc()
	default:
		r.failed.Inc()
	}
	return result, err
}

// invoke runs handler under the RPC deadline, converting panics and errors.
// A handler that ignores its context is abandoned when the deadline passes.
func (r *Registry) invoke(ctx context.Context, method string, handler Handler, params json.RawMessage) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("rpc handler panicked", "method", method, "panic", p)
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		result, err := handler(ctx, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil {
			return o.result, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, r.timeoutError(method, o.err)
		}
		var rpcErr *Error
		if errors.As(o.err, &rpcErr) {
			return nil, rpcErr
		}
		return nil, &Error{Code: CodeHandlerError, Message: o.err.Error(), Err: o.err}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, r.timeoutError(method, ctx.Err())
		}
		return nil, &Error{Code: CodeHandlerError, Message: "cancelled", Err: ctx.Err()}
	}
}

func (r *Registry) timeoutError(method string, cause error) *Error {
	return &Error{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("method %q did not complete within %s", method, r.timeout),
		Err:     cause,
	}
}

// begin records requestID as pending and returns the entry's creation time,
// which identifies it to complete.
func (r *Registry) begin(requestID, method string, params json.RawMessage) (time.Time, error) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	if _, exists := r.pending[requestID]; exists {
		return time.Time{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, requestID)
	}
	createdAt := r.now()
	r.pending[requestID] = PendingRequest{
		RequestID: requestID,
		Method:    method,
		Params:    params,
		CreatedAt: createdAt,
	}
	return createdAt, nil
}

// complete removes the pending entry that begin created. An entry recreated
// under the same id after expiry has a different creation time and stays.
func (r *Registry) complete(requestID string, createdAt time.Time) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if p, ok := r.pending[requestID]; ok && p.CreatedAt.Equal(createdAt) {
		delete(r.pending, requestID)
	}
}

// ExpirePending removes and returns requests created more than the pending
// TTL before now, oldest first.
func (r *Registry) ExpirePending(now time.Time) []PendingRequest {
	cutoff := now.Add(-r.pendingTTL)

	r.pendingMu.Lock()
	var expired []PendingRequest
	for id, p := range r.pending {
		if p.CreatedAt.Before(cutoff) {
			expired = append(expired, p)
			delete(r.pending, id)
		}
	}
	r.pendingMu.Unlock()

	sortByCreated(expired)
	for _, p := range expired {
		r.expired.Inc()
		r.logger.Warn("rpc request expired", "request_id", p.RequestID, "method", p.Method,
			"age", now.Sub(p.CreatedAt).String())
	}
	return expired
}

// Pending returns a snapshot of in-flight requests, oldest first.
func (r *Registry) Pending() []PendingRequest {
	r.pendingMu.Lock()
	out := make([]PendingRequest, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	r.pendingMu.Unlock()

	sortByCreated(out)
	return out
}

// PendingCount returns the number of in-flight requests.
func (r *Registry) PendingCount() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// Stats returns the cumulative counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Dispatched: r.dispatched.Load(),
		Succeeded:  r.succeeded.Load(),
		Unknown:    r.unknown.Load(),
		Failed:     r.failed.Load(),
		TimedOut:   r.timedOut.Load(),
		Expired:    r.expired.Load(),
		Pending:    r.PendingCount(),
	}
}

func sortByCreated(reqs []PendingRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].RequestID < reqs[j].RequestID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}
