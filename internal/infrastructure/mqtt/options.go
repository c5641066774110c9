package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

const (
	// defaultConnectTimeout bounds one connect attempt when config leaves it zero.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds the wait for a publish or subscribe acknowledgement.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce lets in-flight work drain on Disconnect, in milliseconds.
	defaultDisconnectQuiesce = 500

	// defaultKeepAlive is used when config leaves keepalive zero.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the highest valid MQTT QoS level.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version accepted.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho client options from the gateway configuration.
//
// Reconnection is left to the caller: AutoReconnect and ConnectRetry are off,
// so a failed Connect returns promptly and a lost connection stays lost.
func buildClientOptions(cfg config.GatewayConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))

	opts.SetClientID(cfg.ClientID)

	// The platform authenticates devices by access token in the username field.
	if cfg.AccessToken != "" {
		opts.SetUsername(cfg.AccessToken)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	connectTimeout := cfg.ConnectTimeoutDuration()
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(connectTimeout)

	keepAlive := time.Duration(cfg.KeepAlive) * time.Second
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
