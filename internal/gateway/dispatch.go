package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/rpc"
)

// localRequestPrefix marks request ids generated for local invocations.
// Responses for these are returned to the caller, never published.
const localRequestPrefix = "local-"

// rpcRequest is the inbound RPC document.
type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Dispatch routes one inbound message by topic. It never returns an error:
// malformed and unroutable messages are logged and discarded.
//
// RPC handling, including the error reply to a malformed request, runs on
// its own goroutine so publishing and auditing do not hold up the
// transport's delivery loop. Attribute updates are applied to the store
// before Dispatch returns.
func (c *Client) Dispatch(topic string, payload []byte) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("inbound message handling panicked", "topic", topic, "panic", p)
		}
	}()

	if topic == c.topics.Attributes {
		c.handleAttributeUpdate(payload)
		return
	}
	if id, ok := c.topics.ParseRPCRequest(topic); ok {
		c.handleRPCRequest(id, payload)
		return
	}
	if id, ok := c.topics.ParseAttributeResponse(topic); ok {
		c.handleAttributeResponse(id, payload)
		return
	}

	c.counters.unrecognised.Inc()
	c.logger.Warn("discarding message on unrecognised topic", "topic", topic, "bytes", len(payload))
}

func (c *Client) handleRPCRequest(requestID string, payload []byte) {
	c.counters.rpcRequests.Inc()

	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Method == "" {
		c.logger.Warn("malformed rpc request", "request_id", requestID, "error", err)
		rpcErr := rpc.NewError(rpc.CodeInvalidRequest, "request must be a JSON object with a method")
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.respond(requestID, nil, rpcErr)
			c.record(requestID, "", SourcePlatform, rpcErr, 0)
		}()
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		_, _ = c.serve(c.ctx, requestID, req.Method, req.Params, SourcePlatform)
	}()
}

// Invoke runs a registered method locally, as the diagnostics API does.
// The call is tracked and audited like a platform request but its result
// is returned instead of published.
func (c *Client) Invoke(ctx context.Context, method string, params json.RawMessage) (string, any, error) {
	requestID := localRequestPrefix + uuid.NewString()
	result, err := c.serve(ctx, requestID, method, params, SourceLocal)
	return requestID, result, err
}

// serve dispatches one call and, for platform requests, publishes the outcome.
func (c *Client) serve(ctx context.Context, requestID, method string, params json.RawMessage, source string) (any, error) {
	start := c.now()
	result, err := c.registry.Dispatch(ctx, requestID, method, params)
	if errors.Is(err, rpc.ErrDuplicateRequest) {
		c.logger.Warn("dropping rpc request with duplicate id", "request_id", requestID, "method", method)
		return nil, err
	}

	if _, expired := c.expired.LoadAndDelete(requestID); expired {
		c.logger.Debug("discarding late rpc result", "request_id", requestID, "method", method)
		return result, err
	}
	if source == SourcePlatform {
		c.respond(requestID, result, err)
	}
	c.record(requestID, method, source, err, c.now().Sub(start))
	return result, err
}

// respond publishes the response document for requestID.
// A nil result is sent as an empty object.
func (c *Client) respond(requestID string, result any, err error) {
	var body any = result
	switch {
	case err != nil:
		body = rpc.ErrorPayload(err)
	case result == nil:
		body = map[string]any{}
	}

	payload, mErr := json.Marshal(body)
	if mErr != nil {
		c.logger.Error("rpc result is not JSON-serialisable", "request_id", requestID, "error", mErr)
		payload, _ = json.Marshal(rpc.NewError(rpc.CodeHandlerError, "result could not be encoded").Payload())
	}

	if pubErr := c.publishRaw(c.topics.RPCResponse(requestID), payload); pubErr != nil {
		c.counters.rpcResponsesDropped.Inc()
		c.logger.Warn("rpc response not delivered", "request_id", requestID, "error", pubErr)
		return
	}
	c.counters.rpcResponses.Inc()
}

// expirePending drops requests older than the pending TTL and tells the
// platform they timed out.
func (c *Client) expirePending() {
	for _, p := range c.registry.ExpirePending(c.now()) {
		c.expired.Store(p.RequestID, struct{}{})
		rpcErr := rpc.NewError(rpc.CodeTimeout, "request expired after %s", c.now().Sub(p.CreatedAt).Round(time.Millisecond))
		source := SourceLocal
		if !isLocalRequest(p.RequestID) {
			source = SourcePlatform
			c.respond(p.RequestID, nil, rpcErr)
		}
		c.record(p.RequestID, p.Method, source, rpcErr, c.now().Sub(p.CreatedAt))
	}
}

func (c *Client) record(requestID, method, source string, err error, elapsed time.Duration) {
	if c.recorder == nil {
		return
	}
	rec := RPCRecord{
		RequestID: requestID,
		Method:    method,
		Source:    source,
		Outcome:   "ok",
		Duration:  elapsed,
		At:        c.now(),
	}
	if err != nil {
		rec.Outcome, _ = rpc.ErrorPayload(err)["error"].(string)
		rec.Error = err.Error()
	}
	c.recorder.RecordRPC(rec)
}

func isLocalRequest(requestID string) bool {
	return strings.HasPrefix(requestID, localRequestPrefix)
}
