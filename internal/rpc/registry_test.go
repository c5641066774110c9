package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// manualClock is a settable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func staticHandler(result any) Handler {
	return func(context.Context, json.RawMessage) (any, error) {
		return result, nil
	}
}

func TestRegistry_DispatchSuccess(t *testing.T) {
	r := NewRegistry(Options{})
	if err := r.Register("getTelemetry", staticHandler(map[string]any{"temperature": 25.5})); err != nil {
		t.Fatal(err)
	}

	got, err := r.Dispatch(context.Background(), "7", "getTelemetry", nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if m, ok := got.(map[string]any); !ok || m["temperature"] != 25.5 {
		t.Errorf("Dispatch() = %v, want temperature 25.5", got)
	}
	if r.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after completion, want 0", r.PendingCount())
	}
	if s := r.Stats(); s.Dispatched != 1 || s.Succeeded != 1 {
		t.Errorf("Stats() = %+v, want one dispatched and succeeded", s)
	}
}

func TestRegistry_ParamsPassedThrough(t *testing.T) {
	r := NewRegistry(Options{})
	var seen json.RawMessage
	_ = r.Register("setValve", func(_ context.Context, params json.RawMessage) (any, error) {
		seen = params
		return nil, nil
	})

	if _, err := r.Dispatch(context.Background(), "1", "setValve", json.RawMessage(`{"open":true}`)); err != nil {
		t.Fatal(err)
	}
	if string(seen) != `{"open":true}` {
		t.Errorf("handler saw params %s", seen)
	}
}

func TestRegistry_UnknownMethod(t *testing.T) {
	r := NewRegistry(Options{})

	_, err := r.Dispatch(context.Background(), "9", "reboot", nil)
	if !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("Dispatch() error = %v, want ErrUnknownMethod", err)
	}
	payload := ErrorPayload(err)
	if payload["error"] != "UnknownMethod" {
		t.Errorf("payload error = %v, want UnknownMethod", payload["error"])
	}
	if r.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", r.PendingCount())
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry(Options{})
	_ = r.Register("mode", staticHandler("first"))
	_ = r.Register("mode", staticHandler("second"))

	got, err := r.Dispatch(context.Background(), "1", "mode", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "second" {
		t.Errorf("Dispatch() = %v, want second", got)
	}
	if methods := r.Methods(); len(methods) != 1 {
		t.Errorf("Methods() = %v, want one entry", methods)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(Options{})

	if err := r.Register("", staticHandler(nil)); !errors.Is(err, ErrInvalidHandler) {
		t.Errorf("Register(empty) error = %v, want ErrInvalidHandler", err)
	}
	if err := r.Register("x", nil); !errors.Is(err, ErrInvalidHandler) {
		t.Errorf("Register(nil) error = %v, want ErrInvalidHandler", err)
	}
}

func TestRegistry_HandlerFailures(t *testing.T) {
	cause := errors.New("sensor offline")

	tests := []struct {
		name     string
		handler  Handler
		wantCode string
	}{
		{
			name: "returned error",
			handler: func(context.Context, json.RawMessage) (any, error) {
				return nil, cause
			},
			wantCode: CodeHandlerError,
		},
		{
			name: "panic",
			handler: func(context.Context, json.RawMessage) (any, error) {
				panic("nil map write")
			},
			wantCode: CodeHandlerError,
		},
		{
			name: "structured error passes through",
			handler: func(context.Context, json.RawMessage) (any, error) {
				return nil, NewError(CodeInvalidRequest, "missing device")
			},
			wantCode: CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(Options{})
			_ = r.Register("m", tt.handler)

			_, err := r.Dispatch(context.Background(), "1", "m", nil)
			var rpcErr *Error
			if !errors.As(err, &rpcErr) {
				t.Fatalf("Dispatch() error = %v, want *Error", err)
			}
			if rpcErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", rpcErr.Code, tt.wantCode)
			}
			if r.PendingCount() != 0 {
				t.Errorf("PendingCount() = %d, want 0", r.PendingCount())
			}
		})
	}
}

func TestRegistry_HandlerErrorUnwraps(t *testing.T) {
	cause := errors.New("sensor offline")
	r := NewRegistry(Options{})
	_ = r.Register("m", func(context.Context, json.RawMessage) (any, error) { return nil, cause })

	_, err := r.Dispatch(context.Background(), "1", "m", nil)
	if !errors.Is(err, ErrHandler) {
		t.Errorf("error = %v, want ErrHandler", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want to unwrap to cause", err)
	}
}

func TestRegistry_Timeout(t *testing.T) {
	r := NewRegistry(Options{Timeout: 20 * time.Millisecond})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	_ = r.Register("hang", func(context.Context, json.RawMessage) (any, error) {
		<-release
		return "late", nil
	})

	start := time.Now()
	_, err := r.Dispatch(context.Background(), "1", "hang", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Dispatch() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dispatch() took %v, want about the timeout", elapsed)
	}
	if ErrorPayload(err)["error"] != "RpcTimeout" {
		t.Errorf("payload = %v, want RpcTimeout", ErrorPayload(err))
	}
	if r.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after timeout, want 0", r.PendingCount())
	}
	if r.Stats().TimedOut != 1 {
		t.Errorf("TimedOut = %d, want 1", r.Stats().TimedOut)
	}
}

func TestRegistry_ContextAwareHandlerTimeout(t *testing.T) {
	r := NewRegistry(Options{Timeout: 20 * time.Millisecond})
	_ = r.Register("wait", func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := r.Dispatch(context.Background(), "1", "wait", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Dispatch() error = %v, want ErrTimeout", err)
	}
}

func TestRegistry_DuplicatePendingID(t *testing.T) {
	r := NewRegistry(Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	_ = r.Register("slow", func(context.Context, json.RawMessage) (any, error) {
		once.Do(func() { close(started) })
		<-release
		return "ok", nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := r.Dispatch(context.Background(), "42", "slow", nil)
		done <- err
	}()
	<-started

	if _, err := r.Dispatch(context.Background(), "42", "slow", nil); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("second Dispatch() error = %v, want ErrDuplicateRequest", err)
	}

	pending := r.Pending()
	if len(pending) != 1 || pending[0].RequestID != "42" || pending[0].Method != "slow" {
		t.Errorf("Pending() = %+v, want request 42", pending)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}

	// The id is free again once the first call completes.
	if _, err := r.Dispatch(context.Background(), "42", "slow", nil); err != nil {
		t.Errorf("reused id after completion error = %v", err)
	}
}

func TestRegistry_ExpirePending(t *testing.T) {
	clock := newManualClock()
	r := NewRegistry(Options{PendingTTL: time.Minute, Now: clock.Now})

	if _, err := r.begin("old", "a", nil); err != nil {
		t.Fatal(err)
	}
	clock.Advance(45 * time.Second)
	if _, err := r.begin("young", "b", nil); err != nil {
		t.Fatal(err)
	}

	if got := r.ExpirePending(clock.Now()); len(got) != 0 {
		t.Fatalf("ExpirePending() before ttl = %+v, want none", got)
	}

	clock.Advance(30 * time.Second)
	expired := r.ExpirePending(clock.Now())
	if len(expired) != 1 || expired[0].RequestID != "old" {
		t.Fatalf("ExpirePending() = %+v, want only old", expired)
	}
	if r.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1", r.PendingCount())
	}
	if r.Stats().Expired != 1 {
		t.Errorf("Expired = %d, want 1", r.Stats().Expired)
	}
}

func TestRegistry_ExpiredCallDoesNotClearReusedID(t *testing.T) {
	clock := newManualClock()
	r := NewRegistry(Options{PendingTTL: time.Minute, Now: clock.Now})

	gates := map[string]chan struct{}{
		`"first"`:  make(chan struct{}),
		`"second"`: make(chan struct{}),
	}
	started := make(chan string, 2)
	_ = r.Register("slow", func(_ context.Context, params json.RawMessage) (any, error) {
		started <- string(params)
		<-gates[string(params)]
		return "ok", nil
	})

	firstDone := make(chan error, 1)
	go func() {
		_, err := r.Dispatch(context.Background(), "5", "slow", json.RawMessage(`"first"`))
		firstDone <- err
	}()
	<-started

	clock.Advance(2 * time.Minute)
	if expired := r.ExpirePending(clock.Now()); len(expired) != 1 {
		t.Fatalf("ExpirePending() = %+v, want the first call", expired)
	}

	secondDone := make(chan error, 1)
	go func() {
		_, err := r.Dispatch(context.Background(), "5", "slow", json.RawMessage(`"second"`))
		secondDone <- err
	}()
	<-started

	close(gates[`"first"`])
	if err := <-firstDone; err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}

	pending := r.Pending()
	if len(pending) != 1 || string(pending[0].Params) != `"second"` {
		t.Errorf("Pending() = %+v, want the reused id still tracked", pending)
	}

	close(gates[`"second"`])
	if err := <-secondDone; err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}
	if r.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", r.PendingCount())
	}
}

func TestRegistry_ConcurrentDispatch(t *testing.T) {
	r := NewRegistry(Options{})
	_ = r.Register("echo", func(_ context.Context, params json.RawMessage) (any, error) {
		return string(params), nil
	})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			if _, err := r.Dispatch(context.Background(), id, "echo", json.RawMessage(`1`)); err != nil {
				t.Errorf("Dispatch(%s) error = %v", id, err)
			}
		}()
	}
	wg.Wait()

	if r.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", r.PendingCount())
	}
	if got := r.Stats().Succeeded; got != 50 {
		t.Errorf("Succeeded = %d, want 50", got)
	}
}
