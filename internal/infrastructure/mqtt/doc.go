// Package mqtt is the gateway's transport to the IoT platform.
//
// It wraps paho.mqtt.golang and deliberately does less than paho can:
//   - Connect makes exactly one attempt and reports the outcome
//   - paho's own auto-reconnect and connect-retry are disabled
//   - an unexpected connection loss is reported through SetOnDisconnect
//
// The gateway package owns the session state machine and the reconnect
// backoff; this package only moves bytes.
//
// The platform speaks the ThingsBoard device MQTT API. The device access
// token is sent as the MQTT username, with no password.
//
// # Security Considerations
//
//   - Use TLS (gateway.tls=true) on any network the operator does not control
//   - The access token identifies the device; never log it
//
// # Usage
//
//	client := mqtt.New(cfg.Gateway)
//	client.SetOnDisconnect(func(err error) { ... })
//	if err := client.Connect(ctx); err != nil {
//	    // schedule a retry
//	}
//	topics := mqtt.NewTopics(cfg.Gateway.Topics)
//	client.Publish(topics.Telemetry, []byte(`{"ph":7.1}`), 1, false)
package mqtt
