package device

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/rpc"
)

// RPC method names served by the manager.
const (
	MethodListDevices     = "listDevices"
	MethodReadDevice      = "readDevice"
	MethodWriteDevice     = "writeDevice"
	MethodGetDeviceStatus = "getDeviceStatus"
	MethodConfigureDevice = "configureDevice"
)

// deviceParams is the params document shared by the device methods.
type deviceParams struct {
	ID       string         `json:"id"`
	Values   map[string]any `json:"values,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// RegisterHandlers installs the device RPC methods on reg.
//
//	listDevices                                     -> [{"id":..., "type":...}]
//	readDevice      {"id": "..."}                   -> {"metric": value}
//	writeDevice     {"id": "...", "values": {...}}  -> {"id": "...", "written": {...}}
//	getDeviceStatus {"id": "..."}                   -> Status
//	configureDevice {"id": "...", "settings": {...}} -> Status
func (m *Manager) RegisterHandlers(reg *rpc.Registry) error {
	handlers := map[string]rpc.Handler{
		MethodListDevices: func(context.Context, json.RawMessage) (any, error) {
			return m.List(), nil
		},
		MethodReadDevice: func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := parseDeviceParams(raw)
			if err != nil {
				return nil, err
			}
			values, err := m.Read(ctx, p.ID)
			return values, toRPCError(err)
		},
		MethodWriteDevice: func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := parseDeviceParams(raw)
			if err != nil {
				return nil, err
			}
			if len(p.Values) == 0 {
				return nil, rpc.NewError(rpc.CodeInvalidRequest, "values are required")
			}
			if err := m.Write(ctx, p.ID, p.Values); err != nil {
				return nil, toRPCError(err)
			}
			return map[string]any{"id": p.ID, "written": p.Values}, nil
		},
		MethodGetDeviceStatus: func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := parseDeviceParams(raw)
			if err != nil {
				return nil, err
			}
			status, err := m.Status(ctx, p.ID)
			if err != nil {
				return nil, toRPCError(err)
			}
			return status, nil
		},
		MethodConfigureDevice: func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := parseDeviceParams(raw)
			if err != nil {
				return nil, err
			}
			if err := m.Configure(p.ID, p.Settings); err != nil {
				return nil, toRPCError(err)
			}
			status, _ := m.Status(ctx, p.ID)
			return status, nil
		},
	}

	for method, h := range handlers {
		if err := reg.Register(method, h); err != nil {
			return err
		}
	}
	return nil
}

func parseDeviceParams(raw json.RawMessage) (deviceParams, error) {
	var p deviceParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, rpc.NewError(rpc.CodeInvalidRequest, "invalid params: %v", err)
		}
	}
	if p.ID == "" {
		return p, rpc.NewError(rpc.CodeInvalidRequest, "id is required")
	}
	return p, nil
}

// toRPCError reports caller mistakes as invalid requests. Hardware faults
// stay handler errors.
func toRPCError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrReadOnly),
		errors.Is(err, ErrInvalidValue):
		return &rpc.Error{Code: rpc.CodeInvalidRequest, Message: err.Error(), Err: err}
	default:
		return err
	}
}
