package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/rpc"
)

// Built-in method names.
const (
	MethodGetState         = "getState"
	MethodSetState         = "setState"
	MethodGetGatewayStatus = "getGatewayStatus"
)

// RegisterBuiltins installs the state and status methods on the client's
// registry.
func (c *Client) RegisterBuiltins() error {
	handlers := map[string]rpc.Handler{
		MethodGetState:         c.handleGetState,
		MethodSetState:         c.handleSetState,
		MethodGetGatewayStatus: c.handleGetGatewayStatus,
	}
	for method, h := range handlers {
		if err := c.registry.Register(method, h); err != nil {
			return err
		}
	}
	return nil
}

// handleGetState returns the whole state, or only params.keys when given.
// Missing keys are omitted.
func (c *Client) handleGetState(_ context.Context, params json.RawMessage) (any, error) {
	snapshot := c.store.Snapshot()

	var req struct {
		Keys []string `json:"keys"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if len(req.Keys) == 0 {
		return snapshot, nil
	}

	out := make(map[string]any, len(req.Keys))
	for _, k := range req.Keys {
		if v, ok := snapshot[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// handleSetState persists params and reports them as client attributes.
// The publish is best effort: the state change stands when offline.
func (c *Client) handleSetState(_ context.Context, params json.RawMessage) (any, error) {
	var updates map[string]any
	if err := decodeParams(params, &updates); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, rpc.NewError(rpc.CodeInvalidRequest, "params must be a non-empty object")
	}

	if err := c.store.Update(updates); err != nil {
		return nil, err
	}
	c.counters.attributeUpdates.Inc()
	if c.recorder != nil {
		c.recorder.RecordAttributes(SourceRPC, updates)
	}

	published := true
	if err := c.PublishAttributes(updates); err != nil {
		published = false
		if !errors.Is(err, ErrNotConnected) {
			c.logger.Warn("setState attributes not reported", "error", err)
		}
	}
	return map[string]any{"updated": len(updates), "published": published}, nil
}

func (c *Client) handleGetGatewayStatus(context.Context, json.RawMessage) (any, error) {
	return c.Stats(), nil
}

// decodeParams unmarshals params into dst. Absent params leave dst untouched.
func decodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return rpc.NewError(rpc.CodeInvalidRequest, "invalid params: %v", err)
	}
	return nil
}
