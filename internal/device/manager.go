package device

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager holds the configured devices by ID.
//
// All public methods are thread-safe.
type Manager struct {
	mu      sync.RWMutex
	devices map[string]Device
	logger  Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		devices: make(map[string]Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// LoadConfig builds and adds every configured device. Devices that fail to
// build are skipped; their errors are joined in the result.
func (m *Manager) LoadConfig(cfgs []config.DeviceConfig) error {
	var errs []error
	for _, cfg := range cfgs {
		d, err := New(cfg)
		if err == nil {
			err = m.Add(d)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info("devices loaded", "count", m.Len(), "failed", len(errs))
	return errors.Join(errs...)
}

// Add registers d. Returns ErrDeviceExists if its ID is taken.
// Devices that read other devices resolve them through m.
func (m *Manager) Add(d Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[d.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID())
	}
	m.devices[d.ID()] = d
	if b, ok := d.(managerBinder); ok {
		b.bind(m)
	}
	m.logger.Debug("device added", "device_id", d.ID(), "type", d.Type())
	return nil
}

// Get returns the device with id. Returns ErrDeviceNotFound if absent.
func (m *Manager) Get(id string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// Remove unregisters the device with id.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(m.devices, id)
	return nil
}

// Len returns the number of devices.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// List returns all devices sorted by ID.
func (m *Manager) List() []Info {
	devices := m.sorted()
	out := make([]Info, len(devices))
	for i, d := range devices {
		out[i] = Info{ID: d.ID(), Type: d.Type()}
	}
	return out
}

// Read samples one device.
func (m *Manager) Read(ctx context.Context, id string) (map[string]any, error) {
	d, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return d.Read(ctx)
}

// Write drives one device.
func (m *Manager) Write(ctx context.Context, id string, values map[string]any) error {
	d, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := d.Write(ctx, values); err != nil {
		return err
	}
	m.logger.Info("device written", "device_id", id, "values", values)
	return nil
}

// Configure changes one device's driver settings.
func (m *Manager) Configure(id string, settings map[string]any) error {
	d, err := m.Get(id)
	if err != nil {
		return err
	}
	return d.Configure(settings)
}

// Status reports one device's health.
func (m *Manager) Status(ctx context.Context, id string) (Status, error) {
	d, err := m.Get(id)
	if err != nil {
		return Status{}, err
	}
	return d.Status(ctx), nil
}

// Name identifies the manager as a telemetry source.
func (m *Manager) Name() string {
	return "devices"
}

// Collect reads every device and prefixes each metric with the device ID.
// Devices that fail to read are logged and left out.
func (m *Manager) Collect(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	for _, d := range m.sorted() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		values, err := d.Read(ctx)
		if err != nil {
			m.logger.Warn("device read failed", "device_id", d.ID(), "error", err)
			continue
		}
		for k, v := range values {
			out[d.ID()+"."+k] = v
		}
	}
	return out, nil
}

func (m *Manager) sorted() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(m.devices))
	out := make([]Device, len(ids))
	for i, id := range ids {
		out[i] = m.devices[id]
	}
	return out
}
