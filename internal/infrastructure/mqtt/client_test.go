package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

// testConfig returns a gateway configuration for a local broker.
// Broker-backed tests live in integration_test.go.
func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Host:           "127.0.0.1",
		Port:           1883,
		ClientID:       "wtm-test",
		AccessToken:    "test-device-token",
		QoS:            1,
		ConnectTimeout: 2,
	}
}

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(testConfig())

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "wtm-test" {
		t.Errorf("ClientID = %q, want wtm-test", opts.ClientID)
	}
	if opts.Username != "test-device-token" {
		t.Errorf("Username = %q, want the access token", opts.Username)
	}
	if opts.AutoReconnect {
		t.Error("AutoReconnect must be disabled; the gateway owns reconnection")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry must be disabled; Connect makes a single attempt")
	}
	if !opts.CleanSession {
		t.Error("CleanSession should be enabled")
	}
	if opts.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", opts.ConnectTimeout)
	}
}

func TestBuildClientOptions_TLSAndDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.TLS = true
	cfg.Port = 8883
	cfg.ConnectTimeout = 0

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %v, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config should enforce the minimum version")
	}
	if opts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want default %v", opts.ConnectTimeout, defaultConnectTimeout)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 19998

	client := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Connect(ctx)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after failed connect")
	}
}

func TestConnect_ContextCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 19998
	client := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.Connect(ctx); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestOperationsWhileDisconnected(t *testing.T) {
	client := New(testConfig())
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"publish", func() error { return client.Publish("v1/devices/me/telemetry", []byte(`{}`), 1, false) }, ErrNotConnected},
		{"publish empty topic", func() error { return client.Publish("", nil, 1, false) }, ErrInvalidTopic},
		{"publish invalid qos", func() error { return client.Publish("t", nil, 3, false) }, ErrInvalidQoS},
		{"publish oversized", func() error { return client.Publish("t", make([]byte, maxPayloadSize+1), 1, false) }, ErrPublishFailed},
		{"subscribe", func() error { return client.Subscribe("t/+", 1, noop) }, ErrNotConnected},
		{"subscribe nil handler", func() error { return client.Subscribe("t", 1, nil) }, ErrSubscribeFailed},
		{"health", func() error { return client.HealthCheck(context.Background()) }, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDisconnect_NotConnected(t *testing.T) {
	client := New(testConfig())
	client.Disconnect()

	if client.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
	(&Client{}).Disconnect()
}

func TestHandleConnectionLost_InvokesCallback(t *testing.T) {
	client := New(testConfig())
	client.subscriptions["v1/devices/me/attributes"] = subscription{topic: "v1/devices/me/attributes"}

	var got error
	client.SetOnDisconnect(func(err error) { got = err })

	cause := errors.New("keepalive timeout")
	client.handleConnectionLost(cause)

	if !errors.Is(got, cause) {
		t.Errorf("callback error = %v, want %v", got, cause)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after loss, want 0", client.SubscriptionCount())
	}
}

type recordingLogger struct {
	errors, warns []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestWrapHandler(t *testing.T) {
	client := New(testConfig())
	logger := &recordingLogger{}
	client.SetLogger(logger)

	client.wrapHandler(func(string, []byte) error { panic("boom") })(nil, fakeMessage{topic: "t"})
	client.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })(nil, fakeMessage{topic: "t"})

	var gotTopic string
	client.wrapHandler(func(topic string, _ []byte) error {
		gotTopic = topic
		return nil
	})(nil, fakeMessage{topic: "v1/devices/me/rpc/request/7"})

	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1 for the recovered panic", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1 for the handler error", len(logger.warns))
	}
	if gotTopic != "v1/devices/me/rpc/request/7" {
		t.Errorf("handler topic = %q", gotTopic)
	}
}
