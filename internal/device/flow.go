package device

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

// defaultFlowMetric names the computed reading when the config leaves
// metric empty.
const defaultFlowMetric = "flow_rate"

// calibration maps a water level to a flow rate. Points are sorted by
// height; levels between points are interpolated linearly and levels
// outside the table follow the nearest end segment.
type calibration []config.CalibrationPoint

func newCalibration(points []config.CalibrationPoint) (calibration, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: calibration needs at least two points", ErrInvalidValue)
	}
	c := slices.Clone(points)
	slices.SortFunc(c, func(a, b config.CalibrationPoint) int { return cmp.Compare(a.Height, b.Height) })
	for i, p := range c {
		if !finite(p.Height) || !finite(p.FlowRate) {
			return nil, fmt.Errorf("%w: calibration point %d is not finite", ErrInvalidValue, i)
		}
		if i > 0 && p.Height == c[i-1].Height {
			return nil, fmt.Errorf("%w: calibration height %v appears twice", ErrInvalidValue, p.Height)
		}
	}
	return c, nil
}

func (c calibration) flowAt(level float64) float64 {
	i := sort.Search(len(c), func(i int) bool { return c[i].Height >= level })
	switch {
	case i == 0:
		i = 1
	case i == len(c):
		i = len(c) - 1
	}
	a, b := c[i-1], c[i]
	return a.FlowRate + (level-a.Height)*(b.FlowRate-a.FlowRate)/(b.Height-a.Height)
}

// parseCalibration accepts the JSON form [{"height":h,"flow_rate":q},...].
func parseCalibration(v any) (calibration, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: calibration must be a list of points", ErrInvalidValue)
	}
	points := make([]config.CalibrationPoint, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: calibration[%d] must be an object", ErrInvalidValue, i)
		}
		h, err := toFloat(m["height"])
		if err != nil {
			return nil, fmt.Errorf("calibration[%d].height: %w", i, err)
		}
		q, err := toFloat(m["flow_rate"])
		if err != nil {
			return nil, fmt.Errorf("calibration[%d].flow_rate: %w", i, err)
		}
		points = append(points, config.CalibrationPoint{Height: h, FlowRate: q})
	}
	return newCalibration(points)
}

// managerBinder is implemented by devices that read other devices.
type managerBinder interface {
	bind(m *Manager)
}

// flowRate derives a flow rate from another device's level reading using a
// calibration table, as for an open channel or weir with a level sensor.
type flowRate struct {
	id           string
	source       string
	sourceMetric string

	mu     sync.RWMutex
	lookup func(id string) (Device, error)
	metric string
	table  calibration

	health
}

func newFlowRate(cfg config.DeviceConfig) (Device, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("%w: %s: source device is required", ErrInvalidDevice, cfg.ID)
	}
	if cfg.Source == cfg.ID {
		return nil, fmt.Errorf("%w: %s: a flow device cannot read itself", ErrInvalidDevice, cfg.ID)
	}
	table, err := newCalibration(cfg.Calibration)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDevice, cfg.ID, err)
	}

	f := &flowRate{
		id:           cfg.ID,
		source:       cfg.Source,
		sourceMetric: cfg.SourceMetric,
		metric:       cfg.Metric,
		table:        table,
	}
	if f.metric == "" {
		f.metric = defaultFlowMetric
	}
	return f, nil
}

func (f *flowRate) bind(m *Manager) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookup = m.Get
}

func (f *flowRate) ID() string   { return f.id }
func (f *flowRate) Type() string { return TypeFlowRate }

func (f *flowRate) Read(ctx context.Context) (map[string]any, error) {
	level, err := f.readLevel(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrReadFailed, f.id, err)
		f.observe(err)
		return nil, err
	}

	f.mu.RLock()
	metric, flow := f.metric, f.table.flowAt(level)
	f.mu.RUnlock()
	if !finite(flow) {
		err = fmt.Errorf("%w: %s: flow at level %v is out of range", ErrReadFailed, f.id, level)
		f.observe(err)
		return nil, err
	}
	f.observe(nil)
	return map[string]any{metric: flow}, nil
}

func (f *flowRate) readLevel(ctx context.Context) (float64, error) {
	f.mu.RLock()
	lookup := f.lookup
	f.mu.RUnlock()
	if lookup == nil {
		return 0, fmt.Errorf("source %s is not attached", f.source)
	}

	src, err := lookup(f.source)
	if err != nil {
		return 0, err
	}
	if src.Type() == TypeFlowRate {
		return 0, fmt.Errorf("source %s is itself a flow device", f.source)
	}
	values, err := src.Read(ctx)
	if err != nil {
		return 0, err
	}

	var v any
	switch {
	case f.sourceMetric != "":
		var ok bool
		if v, ok = values[f.sourceMetric]; !ok {
			return 0, fmt.Errorf("source %s has no metric %q", f.source, f.sourceMetric)
		}
	case len(values) == 1:
		for _, only := range values {
			v = only
		}
	default:
		return 0, fmt.Errorf("source %s reports %d metrics, set source_metric", f.source, len(values))
	}
	return toFloat(v)
}

func (f *flowRate) Write(context.Context, map[string]any) error {
	return fmt.Errorf("%w: %s", ErrReadOnly, f.id)
}

func (f *flowRate) Status(context.Context) Status {
	return f.status(f.id, TypeFlowRate, f.settings())
}

// Configure accepts metric and calibration.
func (f *flowRate) Configure(settings map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	metric, table := f.metric, f.table
	for k, v := range settings {
		switch k {
		case "metric":
			name, ok := v.(string)
			if !ok || name == "" {
				return fmt.Errorf("%w: metric must be a non-empty string", ErrInvalidValue)
			}
			metric = name
		case "calibration":
			t, err := parseCalibration(v)
			if err != nil {
				return err
			}
			table = t
		default:
			return fmt.Errorf("%w: unknown setting %q for %s", ErrInvalidValue, k, TypeFlowRate)
		}
	}
	f.metric, f.table = metric, table
	return nil
}

func (f *flowRate) settings() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()

	points := make([]map[string]any, len(f.table))
	for i, p := range f.table {
		points[i] = map[string]any{"height": p.Height, "flow_rate": p.FlowRate}
	}
	return map[string]any{
		"source":        f.source,
		"source_metric": f.sourceMetric,
		"metric":        f.metric,
		"calibration":   points,
	}
}
