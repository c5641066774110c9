package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/mqtt"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/rpc"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultMinBackoff     = time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultExpireInterval = 5 * time.Second

	// attributeSyncTimeout bounds the attribute request made after each connect.
	attributeSyncTimeout = 10 * time.Second
)

// Transport is the publish/subscribe session the client drives.
// *mqtt.Client satisfies it.
type Transport interface {
	// Connect makes a single connection attempt.
	Connect(ctx context.Context) error
	// Disconnect closes the session without reporting a loss.
	Disconnect()
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// lossNotifier is implemented by transports that report unexpected loss.
type lossNotifier interface {
	SetOnDisconnect(callback func(err error))
}

// AttributeStore persists attribute updates. *state.Store satisfies it.
type AttributeStore interface {
	Update(updates map[string]any) error
	Snapshot() map[string]any
}

// TelemetryMirror receives every telemetry sample, connected or not.
type TelemetryMirror interface {
	WriteTelemetry(device string, metrics map[string]any, ts time.Time)
}

// RPCRecord describes one finished RPC call.
type RPCRecord struct {
	RequestID string
	Method    string
	Source    string // SourcePlatform or SourceLocal
	Outcome   string // "ok" or an rpc error code
	Error     string
	Duration  time.Duration
	At        time.Time
}

// Recorder receives an audit trail of RPC calls and attribute updates.
// Implementations must not block for long; they run on the dispatch path.
type Recorder interface {
	RecordRPC(rec RPCRecord)
	RecordAttributes(source string, attrs map[string]any)
}

// Sources of RPC calls and attribute changes, as recorded.
const (
	SourcePlatform = "platform"
	SourceLocal    = "local"
	SourceRPC      = "rpc"
)

// Timer is a cancellable scheduled call. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Logger is the logging interface used by the client.
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

// Options configures a Client. Transport, Registry and Store are required.
type Options struct {
	Transport Transport
	Registry  *rpc.Registry
	Store     AttributeStore

	Topics mqtt.Topics
	QoS    byte

	// DeviceName tags mirrored telemetry.
	DeviceName string

	MinBackoff     time.Duration
	MaxBackoff     time.Duration
	ConnectTimeout time.Duration
	ExpireInterval time.Duration

	// AttributeSync requests platform attributes after every successful connect.
	AttributeSync bool

	Recorder Recorder
	Mirror   TelemetryMirror
	Logger   Logger

	// AfterFunc schedules reconnect attempts. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
	// Now replaces time.Now, for tests.
	Now       func() time.Time
}

// Client maintains the platform session and serves inbound traffic.
//
// All public methods are thread-safe. Transport callbacks may arrive on any
// goroutine concurrently with calls from the application loop.
type Client struct {
	transport Transport
	registry  *rpc.Registry
	store     AttributeStore
	topics    mqtt.Topics
	qos       byte
	device    string

	minBackoff     time.Duration
	maxBackoff     time.Duration
	connectTimeout time.Duration
	expireInterval time.Duration
	attributeSync  bool

	recorder Recorder
	mirror   TelemetryMirror
	logger   Logger

	afterFunc func(d time.Duration, f func()) Timer
	now       func() time.Time

	// sessionMu serialises Connect, Disconnect, loss handling and retry firing.
	// The fields below it are only written while it is held.
	sessionMu sync.Mutex
	retry     Timer
	epoch     uint64

	// Lock-free views of the session for publishers and diagnostics.
	state          atomic.Int32
	connected      atomic.Bool
	backoff        atomic.Duration
	lastRetryDelay atomic.Duration
	lastConnected  atomic.Time

	// Attribute request correlation.
	waitersMu   sync.Mutex
	waiters     map[string]chan attributeResponse
	attrRequest atomic.Uint64

	// In-flight RPC goroutines, drained by Close.
	inflight sync.WaitGroup
	// expired holds ids already answered with a timeout by the sweeper.
	expired  sync.Map
	ctx      context.Context
	cancel   context.CancelFunc

	counters counters
}

// New creates a disconnected client.
//
// When the transport can report unexpected loss, the client registers itself
// for it.
func New(opts Options) (*Client, error) {
	switch {
	case opts.Transport == nil:
		return nil, fmt.Errorf("%w: transport", ErrMissingDependency)
	case opts.Registry == nil:
		return nil, fmt.Errorf("%w: rpc registry", ErrMissingDependency)
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: attribute store", ErrMissingDependency)
	}

	if opts.Topics == (mqtt.Topics{}) {
		opts.Topics = mqtt.DefaultTopics()
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ExpireInterval <= 0 {
		opts.ExpireInterval = DefaultExpireInterval
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport:      opts.Transport,
		registry:       opts.Registry,
		store:          opts.Store,
		topics:         opts.Topics,
		qos:            opts.QoS,
		device:         opts.DeviceName,
		minBackoff:     opts.MinBackoff,
		maxBackoff:     opts.MaxBackoff,
		connectTimeout: opts.ConnectTimeout,
		expireInterval: opts.ExpireInterval,
		attributeSync:  opts.AttributeSync,
		recorder:       opts.Recorder,
		mirror:         opts.Mirror,
		logger:         opts.Logger,
		afterFunc:      opts.AfterFunc,
		now:            opts.Now,
		waiters:        make(map[string]chan attributeResponse),
		ctx:            ctx,
		cancel:         cancel,
	}
	c.backoff.Store(c.minBackoff)

	if n, ok := opts.Transport.(lossNotifier); ok {
		n.SetOnDisconnect(c.HandleConnectionLost)
	}
	return c, nil
}

// IsConnected reports whether the session is up. It never blocks.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// State returns the current session state. It never blocks.
func (c *Client) State() SessionState {
	return SessionState(c.state.Load())
}

// Topics returns the topic layout in use.
func (c *Client) Topics() mqtt.Topics {
	return c.topics
}

// Run sweeps expired RPC requests until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.expireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.expirePending()
		}
	}
}

// Close disconnects and waits for in-flight RPC handlers until ctx is done.
// Handlers still running when ctx ends see their context cancelled.
func (c *Client) Close(ctx context.Context) error {
	c.Disconnect()
	defer c.cancel()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight rpc handlers: %w", ctx.Err())
	}
}
