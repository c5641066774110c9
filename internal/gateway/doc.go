// Package gateway owns the device's session with the IoT platform.
//
// A Client keeps at most one transport session alive. It reconnects with
// exponential backoff after failures and unexpected losses. It routes
// inbound messages by topic. RPC requests go to an rpc.Registry and the
// result is published on the paired response topic. Attribute updates are
// persisted to the state store.
//
// # Session states
//
//	Disconnected --Connect--> Connecting --ok--> Connected
//	                          Connecting --fail--> Connecting (retry after backoff)
//	Connected --connection lost--> Disconnected --> Connecting
//	any --Disconnect--> Disconnected (no retry until Connect)
//
// Retries are timers, never sleeps, so inbound processing is not stalled
// while the platform is unreachable. Disconnect cancels a pending retry.
//
// # Delivery
//
// Telemetry and attribute publishes made while disconnected fail fast with
// ErrNotConnected and are not queued; the next tick samples again.
package gateway
