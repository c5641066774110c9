package device

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

// defaultGPIOMetric names the switch state when the config leaves metric empty.
const defaultGPIOMetric = "state"

// gpio drives a relay through a sysfs GPIO value file.
//
// The reported state is the logical one: with active_low set, a "0" in the
// value file reads as on.
type gpio struct {
	id     string
	path   string
	metric string

	mu        sync.RWMutex
	activeLow bool

	health
}

func newGPIO(cfg config.DeviceConfig) (Device, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: %s: path is required", ErrInvalidDevice, cfg.ID)
	}
	g := &gpio{
		id:        cfg.ID,
		path:      cfg.Path,
		metric:    cfg.Metric,
		activeLow: cfg.ActiveLow,
	}
	if g.metric == "" {
		g.metric = defaultGPIOMetric
	}
	return g, nil
}

func (g *gpio) ID() string   { return g.id }
func (g *gpio) Type() string { return TypeGPIO }

func (g *gpio) Read(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	level, err := g.readLevel()
	g.observe(err)
	if err != nil {
		return nil, err
	}
	return map[string]any{g.metric: level != g.isActiveLow()}, nil
}

// Write sets the switch from values[metric].
func (g *gpio) Write(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, ok := values[g.metric]
	if !ok {
		return fmt.Errorf("%w: %s expects %q", ErrInvalidValue, g.id, g.metric)
	}
	on, err := toBool(v)
	if err != nil {
		return err
	}

	level := "0"
	if on != g.isActiveLow() {
		level = "1"
	}
	if err := writeAttr(g.path, level); err != nil {
		err = fmt.Errorf("%w: %w", ErrWriteFailed, err)
		g.observe(err)
		return err
	}
	return nil
}

func (g *gpio) Status(context.Context) Status {
	return g.status(g.id, TypeGPIO, map[string]any{
		"path":       g.path,
		"metric":     g.metric,
		"active_low": g.isActiveLow(),
	})
}

// Configure accepts active_low.
func (g *gpio) Configure(settings map[string]any) error {
	for k, v := range settings {
		if k != "active_low" {
			return fmt.Errorf("%w: unknown setting %q for %s", ErrInvalidValue, k, TypeGPIO)
		}
		b, err := toBool(v)
		if err != nil {
			return err
		}
		g.mu.Lock()
		g.activeLow = b
		g.mu.Unlock()
	}
	return nil
}

func (g *gpio) isActiveLow() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.activeLow
}

// readLevel returns the electrical level of the line.
func (g *gpio) readLevel() (bool, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	switch strings.TrimSpace(string(data)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s holds %q", ErrReadFailed, g.path, strings.TrimSpace(string(data)))
	}
}

// writeAttr writes value to an existing sysfs attribute in place.
// A rename would not reach the driver, so atomic replacement is not used.
func writeAttr(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
