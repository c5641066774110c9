package gateway

import (
	"context"
	"errors"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/mqtt"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/rpc"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/state"
)

var errRefused = errors.New("connection refused")

type publishedMessage struct {
	topic   string
	payload string
}

// fakeTransport is an in-memory broker session.
type fakeTransport struct {
	mu           sync.Mutex
	connectErrs  []error
	subscribeErr error
	connects     int
	disconnects  int
	connected    bool
	subs         map[string]mqtt.MessageHandler
	subCalls     int
	published    []publishedMessage
	onLoss       func(error)

	// publishGate, when set, holds every Publish until it is closed.
	publishGate chan struct{}
}

func newFakeTransport(connectErrs ...error) *fakeTransport {
	return &fakeTransport{connectErrs: connectErrs, subs: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	clear(f.subs)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	clear(f.subs)
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	gate := f.publishGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.published = append(f.published, publishedMessage{topic: topic, payload: string(payload)})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subs[topic] = handler
	return nil
}

func (f *fakeTransport) SetOnDisconnect(callback func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onLoss = callback
}

// Deliver routes an inbound message to every matching subscription.
// It reports whether any subscription matched.
func (f *fakeTransport) Deliver(topic string, payload string) bool {
	f.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, h := range f.subs {
		if topicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		_ = h(topic, []byte(payload))
	}
	return len(handlers) > 0
}

// Drop simulates the broker closing the connection.
func (f *fakeTransport) Drop(err error) {
	f.mu.Lock()
	f.connected = false
	clear(f.subs)
	cb := f.onLoss
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakeTransport) holdPublishes() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishGate = make(chan struct{})
	return f.publishGate
}

func (f *fakeTransport) setConnectErrs(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErrs = errs
}

func (f *fakeTransport) Published(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.published {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

func (f *fakeTransport) PublishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeTransport) SubscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeTransport) Subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.subs))
}

func (f *fakeTransport) counts() (connects, disconnects, subCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.subCalls
}

// topicMatches implements MQTT single-level wildcard matching.
func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] != "+" && fp[i] != tp[i] {
			return false
		}
	}
	return true
}

// fakeScheduler records scheduled retries and fires them on demand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
	mu      *sync.Mutex
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn, mu: &s.mu}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.delay
	}
	return out
}

// Active returns the number of timers neither fired nor stopped.
func (s *fakeScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FireLast runs the most recent timer as if its delay had elapsed.
// Stopped timers still run their function, as a real timer racing Stop can.
func (s *fakeScheduler) FireLast(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	if len(s.timers) == 0 {
		s.mu.Unlock()
		t.Fatal("no retry scheduled")
	}
	timer := s.timers[len(s.timers)-1]
	timer.fired = true
	s.mu.Unlock()
	timer.fn()
}

// recordingRecorder captures audit calls.
type recordingRecorder struct {
	mu    sync.Mutex
	rpcs  []RPCRecord
	attrs []map[string]any
}

func (r *recordingRecorder) RecordRPC(rec RPCRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rpcs = append(r.rpcs, rec)
}

func (r *recordingRecorder) RecordAttributes(_ string, attrs map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attrs = append(r.attrs, attrs)
}

func (r *recordingRecorder) RPCs() []RPCRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RPCRecord(nil), r.rpcs...)
}

// recordingMirror captures mirrored telemetry.
type recordingMirror struct {
	mu      sync.Mutex
	samples []map[string]any
}

func (m *recordingMirror) WriteTelemetry(_ string, metrics map[string]any, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, metrics)
}

type harness struct {
	client    *Client
	transport *fakeTransport
	sched     *fakeScheduler
	registry  *rpc.Registry
	store     *state.Store
	statePath string
	recorder  *recordingRecorder
}

func newHarness(t *testing.T, mutate func(*Options), connectErrs ...error) *harness {
	t.Helper()

	statePath := filepath.Join(t.TempDir(), "state.json")
	store, err := state.Open(state.NewFileBackend(statePath))
	if err != nil {
		t.Fatalf("state.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		transport: newFakeTransport(connectErrs...),
		sched:     &fakeScheduler{},
		registry:  rpc.NewRegistry(rpc.Options{Timeout: time.Second}),
		store:     store,
		statePath: statePath,
		recorder:  &recordingRecorder{},
	}

	opts := Options{
		Transport:  h.transport,
		Registry:   h.registry,
		Store:      store,
		MinBackoff: time.Second,
		MaxBackoff: 8 * time.Second,
		Recorder:   h.recorder,
		AfterFunc:  h.sched.AfterFunc,
	}
	if mutate != nil {
		mutate(&opts)
	}

	h.client, err = New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.client.Close(ctx)
	})
	return h
}

// connect opens the session and fails the test if it does not come up.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !h.client.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}
}

// waitInflight blocks until every spawned RPC goroutine has finished.
func (h *harness) waitInflight(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.client.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("rpc handlers did not finish")
	}
}
