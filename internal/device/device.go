package device

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

// Device types with a built-in driver.
const (
	TypeSysfsSensor    = "sysfs_sensor"
	TypeGPIO           = "gpio"
	TypeModbusRegister = "modbus_register"
	TypeFlowRate       = "flow_rate"
)

// Device is one piece of local hardware.
type Device interface {
	ID() string
	Type() string

	// Read samples the hardware and returns metric name to value.
	Read(ctx context.Context) (map[string]any, error)

	// Write drives outputs. Sensors return ErrReadOnly.
	Write(ctx context.Context, values map[string]any) error

	// Status reports health without touching the hardware.
	Status(ctx context.Context) Status

	// Configure changes driver settings at runtime.
	Configure(settings map[string]any) error
}

// Status is a device's last known health.
type Status struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Online    bool           `json:"online"`
	LastRead  *time.Time     `json:"last_read,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Settings  map[string]any `json:"settings"`
}

// Info identifies a device in listings.
type Info struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Factory builds a device from its configuration.
type Factory func(cfg config.DeviceConfig) (Device, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{
		TypeSysfsSensor:    newSysfsSensor,
		TypeGPIO:           newGPIO,
		TypeModbusRegister: newModbusRegister,
		TypeFlowRate:       newFlowRate,
	}
)

// RegisterType installs a driver for typ, replacing any existing one.
func RegisterType(typ string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[typ] = f
}

// Types returns the known device types, sorted.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return slices.Sorted(maps.Keys(factories))
}

// New builds a device with the driver registered for cfg.Type.
func New(cfg config.DeviceConfig) (Device, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}

	factoriesMu.RLock()
	f, ok := factories[cfg.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (device %s)", ErrUnknownType, cfg.Type, cfg.ID)
	}
	return f(cfg)
}

// health tracks the outcome of the last hardware access.
// Drivers embed it.
type health struct {
	mu       sync.Mutex
	lastRead time.Time
	lastErr  error
}

func (h *health) observe(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = err
	if err == nil {
		h.lastRead = time.Now()
	}
}

func (h *health) status(id, typ string, settings map[string]any) Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Status{
		ID:       id,
		Type:     typ,
		Online:   h.lastErr == nil && !h.lastRead.IsZero(),
		Settings: settings,
	}
	if !h.lastRead.IsZero() {
		t := h.lastRead
		s.LastRead = &t
	}
	if h.lastErr != nil {
		s.LastError = h.lastErr.Error()
	}
	return s
}

// applyScaling applies metric, scale and offset settings on top of the
// current values. Nothing is returned changed unless every setting is valid.
func applyScaling(typ, metric string, scale, offset float64, settings map[string]any) (string, float64, float64, error) {
	for k, v := range settings {
		switch k {
		case "metric":
			name, ok := v.(string)
			if !ok || name == "" {
				return "", 0, 0, fmt.Errorf("%w: metric must be a non-empty string", ErrInvalidValue)
			}
			metric = name
		case "scale":
			f, err := toFloat(v)
			if err != nil {
				return "", 0, 0, err
			}
			if f == 0 {
				return "", 0, 0, fmt.Errorf("%w: scale must be non-zero", ErrInvalidValue)
			}
			scale = f
		case "offset":
			f, err := toFloat(v)
			if err != nil {
				return "", 0, 0, err
			}
			offset = f
		default:
			return "", 0, 0, fmt.Errorf("%w: unknown setting %q for %s", ErrInvalidValue, k, typ)
		}
	}
	return metric, scale, offset, nil
}

// toFloat converts JSON-decoded numbers and numeric strings.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %v (%T) is not a number", ErrInvalidValue, v, v)
	}
}

// toBool accepts booleans, 0/1 and on/off style strings.
func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case float64:
		if b == 0 || b == 1 {
			return b == 1, nil
		}
	case int:
		if b == 0 || b == 1 {
			return b == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "on", "true", "open":
			return true, nil
		case "0", "off", "false", "closed":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %v (%T) is not a switch state", ErrInvalidValue, v, v)
}
