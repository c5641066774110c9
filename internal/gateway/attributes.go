package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// attributeResponse is the platform's reply to an attribute request.
type attributeResponse struct {
	Client map[string]any `json:"client"`
	Shared map[string]any `json:"shared"`
}

// merged flattens the reply. Shared values win over client values.
func (r attributeResponse) merged() map[string]any {
	out := make(map[string]any, len(r.Client)+len(r.Shared))
	maps.Copy(out, r.Client)
	maps.Copy(out, r.Shared)
	return out
}

// handleAttributeUpdate persists a shared attribute push verbatim.
func (c *Client) handleAttributeUpdate(payload []byte) {
	var attrs map[string]any
	if err := json.Unmarshal(payload, &attrs); err != nil || attrs == nil {
		c.logger.Warn("malformed attribute update", "error", err, "bytes", len(payload))
		return
	}
	c.applyAttributes(SourcePlatform, attrs)
}

// applyAttributes merges attrs into the store and records the change.
// A failed save leaves the store untouched and is only logged.
func (c *Client) applyAttributes(source string, attrs map[string]any) bool {
	if len(attrs) == 0 {
		return true
	}
	if err := c.store.Update(attrs); err != nil {
		c.logger.Error("persisting attribute update failed", "source", source, "keys", len(attrs), "error", err)
		return false
	}
	c.counters.attributeUpdates.Inc()
	c.logger.Debug("attributes updated", "source", source, "keys", len(attrs))
	if c.recorder != nil {
		c.recorder.RecordAttributes(source, attrs)
	}
	return true
}

// RequestAttributes asks the platform for attribute values and waits for the
// reply. Empty key lists ask for everything the platform holds. Returned
// values are persisted like a pushed update.
//
// The session must have been opened with attribute sync enabled, otherwise
// the reply is never routed back and ctx ends the wait.
func (c *Client) RequestAttributes(ctx context.Context, clientKeys, sharedKeys []string) (map[string]any, error) {
	id := strconv.FormatUint(c.attrRequest.Inc(), 10)
	reply := make(chan attributeResponse, 1)

	c.waitersMu.Lock()
	c.waiters[id] = reply
	c.waitersMu.Unlock()
	defer func() {
		c.waitersMu.Lock()
		delete(c.waiters, id)
		c.waitersMu.Unlock()
	}()

	req := make(map[string]string, 2)
	if len(clientKeys) > 0 {
		req["clientKeys"] = strings.Join(clientKeys, ",")
	}
	if len(sharedKeys) > 0 {
		req["sharedKeys"] = strings.Join(sharedKeys, ",")
	}
	if err := c.publishJSON(c.topics.AttributeRequest(id), req); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		attrs := resp.merged()
		c.applyAttributes(SourcePlatform, attrs)
		return attrs, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("attribute request %s: %w", id, ctx.Err())
	}
}

// handleAttributeResponse hands a reply to the waiting RequestAttributes call.
func (c *Client) handleAttributeResponse(requestID string, payload []byte) {
	var resp attributeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.logger.Warn("malformed attribute response", "request_id", requestID, "error", err)
		return
	}

	c.waitersMu.Lock()
	reply, ok := c.waiters[requestID]
	c.waitersMu.Unlock()
	if !ok {
		c.logger.Debug("attribute response with no waiter", "request_id", requestID)
		return
	}

	select {
	case reply <- resp:
	default:
	}
}

func (c *Client) syncAttributesOnConnect() {
	ctx, cancel := context.WithTimeout(c.ctx, attributeSyncTimeout)
	defer cancel()

	attrs, err := c.RequestAttributes(ctx, nil, nil)
	if err != nil {
		c.logger.Warn("attribute sync after connect failed", "error", err)
		return
	}
	c.logger.Info("attributes synced from platform", "keys", len(attrs))
}
