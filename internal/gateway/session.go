package gateway

import (
	"context"
	"fmt"
	"time"
)

// SessionState is the lifecycle state of the platform session.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Connect starts the session.
//
// It is a no-op when already connected or when a retry is already scheduled.
// Otherwise it makes one attempt. On failure a retry is scheduled after the
// current backoff and the transport error is returned; the caller does not
// need to retry.
func (c *Client) Connect(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	switch c.State() {
	case StateConnected:
		return nil
	case StateConnecting:
		if c.retry != nil {
			return nil
		}
	}
	return c.attemptLocked(ctx)
}

// Disconnect ends the session and cancels any scheduled retry.
// No reconnect happens until Connect is called again.
func (c *Client) Disconnect() {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.epoch++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}

	prev := c.State()
	c.connected.Store(false)
	c.setState(StateDisconnected)
	c.backoff.Store(c.minBackoff)

	if prev == StateConnected {
		c.transport.Disconnect()
		c.logger.Info("disconnected from platform")
	}
}

// HandleConnectionLost reacts to an unexpected drop of an open session.
// The transport invokes it from its own goroutine. Losses reported while not
// connected are ignored.
func (c *Client) HandleConnectionLost(err error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.State() != StateConnected {
		return
	}

	c.connected.Store(false)
	c.setState(StateDisconnected)
	c.counters.connectionLosses.Inc()
	c.logger.Warn("platform connection lost", "error", err)

	_ = c.attemptLocked(c.ctx)
}

// attemptLocked makes one connection attempt and subscribes.
// sessionMu must be held.
func (c *Client) attemptLocked(ctx context.Context) error {
	c.setState(StateConnecting)
	c.retry = nil
	c.counters.connectAttempts.Inc()

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	if err := c.transport.Connect(ctx); err != nil {
		delay := c.scheduleRetryLocked()
		c.logger.Warn("platform connect failed", "error", err, "retry_in", delay.String())
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	// Publishing must work before subscriptions complete: a request can
	// arrive as soon as the first subscription is acknowledged.
	c.connected.Store(true)

	if err := c.subscribeLocked(); err != nil {
		c.connected.Store(false)
		c.transport.Disconnect()
		delay := c.scheduleRetryLocked()
		c.logger.Warn("platform subscribe failed", "error", err, "retry_in", delay.String())
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.backoff.Store(c.minBackoff)
	c.setState(StateConnected)
	c.lastConnected.Store(c.now())
	c.counters.connects.Inc()
	c.logger.Info("connected to platform")

	if c.attributeSync {
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.syncAttributesOnConnect()
		}()
	}
	return nil
}

func (c *Client) subscribeLocked() error {
	handler := func(topic string, payload []byte) error {
		c.Dispatch(topic, payload)
		return nil
	}

	topics := []string{c.topics.Attributes, c.topics.RPCRequestWildcard()}
	if c.attributeSync {
		topics = append(topics, c.topics.AttributeResponseWildcard())
	}
	for _, topic := range topics {
		if err := c.transport.Subscribe(topic, c.qos, handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	return nil
}

// scheduleRetryLocked arms a retry after the current backoff and doubles the
// backoff up to the maximum. It returns the scheduled delay.
func (c *Client) scheduleRetryLocked() time.Duration {
	delay := c.backoff.Load()
	c.backoff.Store(min(delay*2, c.maxBackoff))
	c.lastRetryDelay.Store(delay)

	c.epoch++
	epoch := c.epoch
	c.retry = c.afterFunc(delay, func() { c.retryFired(epoch) })
	c.counters.retriesScheduled.Inc()
	return delay
}

// retryFired runs a scheduled attempt unless it was superseded or cancelled.
func (c *Client) retryFired(epoch uint64) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if epoch != c.epoch || c.State() != StateConnecting {
		return
	}
	_ = c.attemptLocked(c.ctx)
}

func (c *Client) setState(s SessionState) {
	c.state.Store(int32(s))
}
