package mqtt

import (
	"strings"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

// Default ThingsBoard device API topics.
const (
	DefaultTelemetryTopic          = "v1/devices/me/telemetry"
	DefaultAttributesTopic         = "v1/devices/me/attributes"
	DefaultRPCRequestPrefix        = "v1/devices/me/rpc/request"
	DefaultRPCResponsePrefix       = "v1/devices/me/rpc/response"
	DefaultAttributeRequestPrefix  = "v1/devices/me/attributes/request"
	DefaultAttributeResponsePrefix = "v1/devices/me/attributes/response"
)

// Topics is the platform topic layout.
//
// Request/response pairs carry the correlation id as the last topic segment:
//
//	topics := mqtt.DefaultTopics()
//	topics.RPCResponse("7") // "v1/devices/me/rpc/response/7"
type Topics struct {
	Telemetry               string
	Attributes              string
	RPCRequestPrefix        string
	RPCResponsePrefix       string
	AttributeRequestPrefix  string
	AttributeResponsePrefix string
}

// DefaultTopics returns the ThingsBoard device API layout.
func DefaultTopics() Topics {
	return Topics{
		Telemetry:               DefaultTelemetryTopic,
		Attributes:              DefaultAttributesTopic,
		RPCRequestPrefix:        DefaultRPCRequestPrefix,
		RPCResponsePrefix:       DefaultRPCResponsePrefix,
		AttributeRequestPrefix:  DefaultAttributeRequestPrefix,
		AttributeResponsePrefix: DefaultAttributeResponsePrefix,
	}
}

// NewTopics applies configured overrides on top of the defaults.
// Trailing slashes on prefixes are ignored.
func NewTopics(cfg config.TopicsConfig) Topics {
	t := DefaultTopics()
	override := func(dst *string, v string) {
		if v = strings.TrimRight(v, "/"); v != "" {
			*dst = v
		}
	}
	override(&t.Telemetry, cfg.Telemetry)
	override(&t.Attributes, cfg.Attributes)
	override(&t.RPCRequestPrefix, cfg.RPCRequestPrefix)
	override(&t.RPCResponsePrefix, cfg.RPCResponsePrefix)
	override(&t.AttributeRequestPrefix, cfg.AttributeRequestPrefix)
	override(&t.AttributeResponsePrefix, cfg.AttributeResponsePrefix)
	return t
}

// RPCRequestWildcard is the subscription for every inbound RPC request.
func (t Topics) RPCRequestWildcard() string {
	return t.RPCRequestPrefix + "/+"
}

// RPCResponse returns the topic the response to requestID is published on.
func (t Topics) RPCResponse(requestID string) string {
	return t.RPCResponsePrefix + "/" + requestID
}

// ParseRPCRequest extracts the request id from an inbound RPC request topic.
func (t Topics) ParseRPCRequest(topic string) (string, bool) {
	return suffixID(topic, t.RPCRequestPrefix)
}

// AttributeRequest returns the topic an attribute request with requestID is published on.
func (t Topics) AttributeRequest(requestID string) string {
	return t.AttributeRequestPrefix + "/" + requestID
}

// AttributeResponseWildcard is the subscription for every attribute response.
func (t Topics) AttributeResponseWildcard() string {
	return t.AttributeResponsePrefix + "/+"
}

// ParseAttributeResponse extracts the request id from an attribute response topic.
func (t Topics) ParseAttributeResponse(topic string) (string, bool) {
	return suffixID(topic, t.AttributeResponsePrefix)
}

// suffixID returns the single non-empty segment following prefix.
func suffixID(topic, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
