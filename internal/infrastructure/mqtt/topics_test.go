package mqtt

import (
	"testing"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

func TestDefaultTopics(t *testing.T) {
	topics := DefaultTopics()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"telemetry", topics.Telemetry, "v1/devices/me/telemetry"},
		{"attributes", topics.Attributes, "v1/devices/me/attributes"},
		{"rpc wildcard", topics.RPCRequestWildcard(), "v1/devices/me/rpc/request/+"},
		{"rpc response", topics.RPCResponse("7"), "v1/devices/me/rpc/response/7"},
		{"attribute request", topics.AttributeRequest("3"), "v1/devices/me/attributes/request/3"},
		{"attribute wildcard", topics.AttributeResponseWildcard(), "v1/devices/me/attributes/response/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseRPCRequest(t *testing.T) {
	topics := DefaultTopics()

	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"v1/devices/me/rpc/request/7", "7", true},
		{"v1/devices/me/rpc/request/abc-123", "abc-123", true},
		{"v1/devices/me/rpc/request/", "", false},
		{"v1/devices/me/rpc/request", "", false},
		{"v1/devices/me/rpc/request/7/extra", "", false},
		{"v1/devices/me/rpc/response/7", "", false},
		{"v1/devices/me/attributes", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := topics.ParseRPCRequest(tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ParseRPCRequest(%q) = %q, %v, want %q, %v", tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestParseAttributeResponse(t *testing.T) {
	topics := DefaultTopics()

	if id, ok := topics.ParseAttributeResponse("v1/devices/me/attributes/response/12"); !ok || id != "12" {
		t.Errorf("ParseAttributeResponse() = %q, %v, want 12, true", id, ok)
	}
	if _, ok := topics.ParseAttributeResponse("v1/devices/me/attributes"); ok {
		t.Error("attributes topic must not parse as a response")
	}
}

func TestNewTopics_Overrides(t *testing.T) {
	topics := NewTopics(config.TopicsConfig{
		Telemetry:         "site/plant-7/telemetry",
		RPCRequestPrefix:  "site/plant-7/rpc/in/",
		RPCResponsePrefix: "site/plant-7/rpc/out",
	})

	if topics.Telemetry != "site/plant-7/telemetry" {
		t.Errorf("Telemetry = %q", topics.Telemetry)
	}
	if topics.RPCRequestWildcard() != "site/plant-7/rpc/in/+" {
		t.Errorf("RPCRequestWildcard() = %q", topics.RPCRequestWildcard())
	}
	if topics.RPCResponse("9") != "site/plant-7/rpc/out/9" {
		t.Errorf("RPCResponse() = %q", topics.RPCResponse("9"))
	}
	if topics.Attributes != DefaultAttributesTopic {
		t.Errorf("Attributes = %q, want default", topics.Attributes)
	}
}
