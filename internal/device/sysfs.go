package device

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

// defaultSensorMetric names the reading when the config leaves metric empty.
const defaultSensorMetric = "value"

// sysfsSensor reads one number from a kernel attribute file.
// The reported value is raw*scale + offset.
type sysfsSensor struct {
	id   string
	path string

	mu     sync.RWMutex
	metric string
	scale  float64
	offset float64

	health
}

func newSysfsSensor(cfg config.DeviceConfig) (Device, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: %s: path is required", ErrInvalidDevice, cfg.ID)
	}
	s := &sysfsSensor{
		id:     cfg.ID,
		path:   cfg.Path,
		metric: cfg.Metric,
		scale:  cfg.Scale,
		offset: cfg.Offset,
	}
	if s.metric == "" {
		s.metric = defaultSensorMetric
	}
	if s.scale == 0 {
		s.scale = 1
	}
	return s, nil
}

func (s *sysfsSensor) ID() string   { return s.id }
func (s *sysfsSensor) Type() string { return TypeSysfsSensor }

func (s *sysfsSensor) Read(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := readNumber(s.path)
	if err != nil {
		s.observe(err)
		return nil, err
	}

	s.mu.RLock()
	metric, value := s.metric, raw*s.scale+s.offset
	s.mu.RUnlock()
	if !finite(value) {
		err = fmt.Errorf("%w: %s: scaled value %v is out of range", ErrReadFailed, s.id, value)
	}
	s.observe(err)
	if err != nil {
		return nil, err
	}
	return map[string]any{metric: value}, nil
}

func (s *sysfsSensor) Write(context.Context, map[string]any) error {
	return fmt.Errorf("%w: %s", ErrReadOnly, s.id)
}

func (s *sysfsSensor) Status(context.Context) Status {
	return s.status(s.id, TypeSysfsSensor, s.settings())
}

// Configure accepts metric, scale and offset.
func (s *sysfsSensor) Configure(settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metric, scale, offset, err := applyScaling(TypeSysfsSensor, s.metric, s.scale, s.offset, settings)
	if err != nil {
		return err
	}
	s.metric, s.scale, s.offset = metric, scale, offset
	return nil
}

func (s *sysfsSensor) settings() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"path":   s.path,
		"metric": s.metric,
		"scale":  s.scale,
		"offset": s.offset,
	}
}

// readNumber parses the first whitespace-separated field of a sysfs file.
// "nan" and "inf" parse as floats but are not readings.
func readNumber(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: %s is empty", ErrReadFailed, path)
	}
	f, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrReadFailed, path, err)
	}
	if !finite(f) {
		return 0, fmt.Errorf("%w: %s: non-finite value %q", ErrReadFailed, path, fields[0])
	}
	return f, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
