package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/mqtt"
)

// PublishTelemetry sends one telemetry document.
//
// The sample is handed to the mirror first, so local history keeps growing
// while the platform is unreachable. An empty map sends nothing. NaN and
// infinite floats have no JSON form; those keys are logged and left out so
// the rest of the sample still goes out.
//
// Returns:
//   - error: ErrNotConnected when the session is down (nothing is queued),
//     ErrInvalidPayload or ErrTransport otherwise
func (c *Client) PublishTelemetry(metrics map[string]any) error {
	metrics, skipped := finiteMetrics(metrics)
	if len(skipped) > 0 {
		c.counters.telemetrySkipped.Add(uint64(len(skipped)))
		c.logger.Warn("skipping non-finite telemetry values", "keys", skipped)
	}
	if len(metrics) == 0 {
		return nil
	}
	if c.mirror != nil {
		c.mirror.WriteTelemetry(c.device, metrics, c.now())
	}

	if err := c.publishJSON(c.topics.Telemetry, metrics); err != nil {
		c.counters.telemetryDropped.Inc()
		c.logDrop("telemetry", err, "metrics", len(metrics))
		return err
	}
	c.counters.telemetrySent.Inc()
	return nil
}

// PublishAttributes reports client-side attributes to the platform.
// Failure semantics match PublishTelemetry.
func (c *Client) PublishAttributes(attrs map[string]any) error {
	if len(attrs) == 0 {
		return nil
	}
	if err := c.publishJSON(c.topics.Attributes, attrs); err != nil {
		c.counters.attributesDropped.Inc()
		c.logDrop("attributes", err, "keys", len(attrs))
		return err
	}
	c.counters.attributesSent.Inc()
	return nil
}

// SyncAttributes publishes the full persisted state as client attributes.
func (c *Client) SyncAttributes() error {
	return c.PublishAttributes(c.store.Snapshot())
}

// finiteMetrics returns metrics without NaN or infinite floats, plus the
// sorted keys it removed. The input map is returned as is when clean.
func finiteMetrics(metrics map[string]any) (map[string]any, []string) {
	var skipped []string
	for k, v := range metrics {
		if !isFinite(v) {
			skipped = append(skipped, k)
		}
	}
	if len(skipped) == 0 {
		return metrics, nil
	}

	clean := make(map[string]any, len(metrics)-len(skipped))
	for k, v := range metrics {
		if isFinite(v) {
			clean[k] = v
		}
	}
	slices.Sort(skipped)
	return clean, skipped
}

func isFinite(v any) bool {
	switch f := v.(type) {
	case float64:
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	case float32:
		return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
	}
	return true
}

func (c *Client) logDrop(kind string, err error, args ...any) {
	args = append([]any{"kind", kind, "error", err}, args...)
	if errors.Is(err, ErrNotConnected) {
		c.logger.Debug("publish skipped while disconnected", args...)
		return
	}
	c.logger.Warn("publish failed", args...)
}

func (c *Client) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return c.publishRaw(topic, payload)
}

func (c *Client) publishRaw(topic string, payload []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if err := c.transport.Publish(topic, payload, c.qos, false); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return ErrNotConnected
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}
