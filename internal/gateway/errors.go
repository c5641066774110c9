package gateway

import "errors"

// Errors returned by the gateway client.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned by publishes made while the session is down.
	// It is a soft failure: nothing was sent and nothing is queued.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrTransport wraps connect, subscribe and publish failures from the transport.
	// Connect failures are retried with backoff and are never fatal.
	ErrTransport = errors.New("gateway: transport error")

	// ErrInvalidPayload is returned when an outbound document cannot be JSON-encoded.
	ErrInvalidPayload = errors.New("gateway: payload is not JSON-serialisable")

	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("gateway: missing dependency")
)
