package gateway

import (
	"time"

	"go.uber.org/atomic"
)

// counters are cumulative since the client was created.
type counters struct {
	connectAttempts     atomic.Uint64
	connects            atomic.Uint64
	connectionLosses    atomic.Uint64
	retriesScheduled    atomic.Uint64
	telemetrySent       atomic.Uint64
	telemetryDropped    atomic.Uint64
	telemetrySkipped    atomic.Uint64
	attributesSent      atomic.Uint64
	attributesDropped   atomic.Uint64
	attributeUpdates    atomic.Uint64
	rpcRequests         atomic.Uint64
	rpcResponses        atomic.Uint64
	rpcResponsesDropped atomic.Uint64
	unrecognised        atomic.Uint64
}

// subscriptionCounter is implemented by transports that track their
// subscriptions on the current connection.
type subscriptionCounter interface {
	SubscriptionCount() int
}

// saveTracker is implemented by stores that report their last flush.
type saveTracker interface {
	LastSaved() time.Time
}

// Stats is a point-in-time view of the session, for diagnostics.
type Stats struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`

	CurrentBackoffMS int64      `json:"current_backoff_ms"`
	LastRetryDelayMS int64      `json:"last_retry_delay_ms"`
	LastConnectedAt  *time.Time `json:"last_connected_at,omitempty"`
	Subscriptions    int        `json:"subscriptions"`
	StateSavedAt     *time.Time `json:"state_saved_at,omitempty"`

	ConnectAttempts  uint64 `json:"connect_attempts"`
	Connects         uint64 `json:"connects"`
	ConnectionLosses uint64 `json:"connection_losses"`
	RetriesScheduled uint64 `json:"retries_scheduled"`

	TelemetrySent     uint64 `json:"telemetry_sent"`
	TelemetryDropped  uint64 `json:"telemetry_dropped"`
	TelemetrySkipped  uint64 `json:"telemetry_values_skipped"`
	AttributesSent    uint64 `json:"attributes_sent"`
	AttributesDropped uint64 `json:"attributes_dropped"`
	AttributeUpdates  uint64 `json:"attribute_updates"`

	RPCRequests         uint64 `json:"rpc_requests"`
	RPCResponses        uint64 `json:"rpc_responses"`
	RPCResponsesDropped uint64 `json:"rpc_responses_dropped"`
	RPCPending          int    `json:"rpc_pending"`
	Unrecognised        uint64 `json:"unrecognised_messages"`
}

// Stats returns the current counters. It never blocks on the session lock.
func (c *Client) Stats() Stats {
	s := Stats{
		State:               c.State().String(),
		Connected:           c.IsConnected(),
		CurrentBackoffMS:    c.backoff.Load().Milliseconds(),
		LastRetryDelayMS:    c.lastRetryDelay.Load().Milliseconds(),
		ConnectAttempts:     c.counters.connectAttempts.Load(),
		Connects:            c.counters.connects.Load(),
		ConnectionLosses:    c.counters.connectionLosses.Load(),
		RetriesScheduled:    c.counters.retriesScheduled.Load(),
		TelemetrySent:       c.counters.telemetrySent.Load(),
		TelemetryDropped:    c.counters.telemetryDropped.Load(),
		TelemetrySkipped:    c.counters.telemetrySkipped.Load(),
		AttributesSent:      c.counters.attributesSent.Load(),
		AttributesDropped:   c.counters.attributesDropped.Load(),
		AttributeUpdates:    c.counters.attributeUpdates.Load(),
		RPCRequests:         c.counters.rpcRequests.Load(),
		RPCResponses:        c.counters.rpcResponses.Load(),
		RPCResponsesDropped: c.counters.rpcResponsesDropped.Load(),
		RPCPending:          c.registry.PendingCount(),
		Unrecognised:        c.counters.unrecognised.Load(),
	}
	if t := c.lastConnected.Load(); !t.IsZero() {
		s.LastConnectedAt = &t
	}
	if sc, ok := c.transport.(subscriptionCounter); ok {
		s.Subscriptions = sc.SubscriptionCount()
	}
	if st, ok := c.store.(saveTracker); ok {
		if t := st.LastSaved(); !t.IsZero() {
			s.StateSavedAt = &t
		}
	}
	return s
}
