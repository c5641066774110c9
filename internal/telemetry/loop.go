package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/rpc"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultInterval       = 10 * time.Second
	DefaultCollectTimeout = 5 * time.Second
	DefaultMaxConcurrent  = 4

	// MethodGetTelemetry is the RPC method that returns a fresh sample.
	MethodGetTelemetry = "getTelemetry"
)

// Publisher sends samples upstream. *gateway.Client satisfies it.
type Publisher interface {
	PublishTelemetry(metrics map[string]any) error
	SyncAttributes() error
}

// Logger is the logging interface used by the loop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Loop.
type Options struct {
	// Interval between ticks.
	Interval time.Duration

	// CollectTimeout bounds each source's Collect call.
	CollectTimeout time.Duration

	// AttributeEvery publishes the persisted state as attributes every N
	// ticks. Zero disables it.
	AttributeEvery int

	// MaxConcurrent limits sources collected at once.
	MaxConcurrent int

	Logger Logger
}

// Loop periodically collects all sources and publishes the merged sample.
//
// Thread Safety: all methods are safe for concurrent use.
type Loop struct {
	publisher      Publisher
	interval       time.Duration
	collectTimeout time.Duration
	attributeEvery uint64
	maxConcurrent  int
	logger         Logger

	sourcesMu sync.RWMutex
	sources   []Source

	lastMu sync.RWMutex
	last   map[string]any
	lastAt time.Time

	ticks atomic.Uint64

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewLoop creates a stopped loop with no sources.
func NewLoop(publisher Publisher, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CollectTimeout <= 0 {
		opts.CollectTimeout = DefaultCollectTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.AttributeEvery < 0 {
		opts.AttributeEvery = 0
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Loop{
		publisher:      publisher,
		interval:       opts.Interval,
		collectTimeout: opts.CollectTimeout,
		attributeEvery: uint64(opts.AttributeEvery),
		maxConcurrent:  opts.MaxConcurrent,
		logger:         opts.Logger,
		done:           make(chan struct{}),
	}
}

// AddSource appends a source. Later sources win on key collisions.
func (l *Loop) AddSource(s Source) {
	l.sourcesMu.Lock()
	defer l.sourcesMu.Unlock()
	l.sources = append(l.sources, s)
}

// Sources returns the registered source names in order.
func (l *Loop) Sources() []string {
	l.sourcesMu.RLock()
	defer l.sourcesMu.RUnlock()
	names := make([]string, len(l.sources))
	for i, s := range l.sources {
		names[i] = s.Name()
	}
	return names
}

// Start begins ticking until ctx is done or Stop is called.
// The first tick runs immediately.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop halts the loop and waits for the current tick to finish.
// Safe to call multiple times.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick collects once, publishes the sample and, on every AttributeEvery-th
// tick, republishes the persisted attributes.
func (l *Loop) Tick(ctx context.Context) {
	n := l.ticks.Inc()

	sample, err := l.Collect(ctx)
	if err != nil {
		l.logger.Warn("telemetry collection incomplete", "error", err)
	}
	l.setLast(sample)

	if err := l.publisher.PublishTelemetry(sample); err != nil {
		l.logger.Debug("telemetry not published", "tick", n, "error", err)
	}

	if l.attributeEvery > 0 && n%l.attributeEvery == 0 {
		if err := l.publisher.SyncAttributes(); err != nil {
			l.logger.Debug("attribute sync not published", "tick", n, "error", err)
		}
	}
}

// Collect samples every source concurrently and merges the results in
// source order. A failing source is left out of the sample and its error is
// included in the returned (joined) error.
func (l *Loop) Collect(ctx context.Context) (map[string]any, error) {
	l.sourcesMu.RLock()
	sources := append([]Source(nil), l.sources...)
	l.sourcesMu.RUnlock()

	results := make([]map[string]any, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(l.maxConcurrent)
	for i, s := range sources {
		g.Go(func() error {
			results[i], errs[i] = l.collectOne(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	sample := make(map[string]any)
	for i, m := range results {
		if errs[i] != nil {
			errs[i] = fmt.Errorf("%s: %w", sources[i].Name(), errs[i])
			continue
		}
		for k, v := range m {
			if _, clash := sample[k]; clash {
				l.logger.Debug("telemetry key overwritten", "key", k, "source", sources[i].Name())
			}
			sample[k] = v
		}
	}
	return sample, errors.Join(errs...)
}

// collectOne runs one source under the collect deadline. A source that
// ignores its context is abandoned, not waited for.
func (l *Loop) collectOne(ctx context.Context, s Source) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, l.collectTimeout)
	defer cancel()

	type outcome struct {
		metrics map[string]any
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrSourcePanic, p)}
			}
		}()
		m, err := s.Collect(ctx)
		done <- outcome{metrics: m, err: err}
	}()

	select {
	case o := <-done:
		return o.metrics, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s", ErrCollectTimeout, l.collectTimeout)
	}
}

func (l *Loop) setLast(sample map[string]any) {
	l.lastMu.Lock()
	defer l.lastMu.Unlock()
	l.last = sample
	l.lastAt = time.Now()
}

// Last returns a copy of the most recent sample and when it was taken.
// The map is nil before the first tick.
func (l *Loop) Last() (map[string]any, time.Time) {
	l.lastMu.RLock()
	defer l.lastMu.RUnlock()
	if l.last == nil {
		return nil, time.Time{}
	}
	return maps.Clone(l.last), l.lastAt
}

// Ticks returns the number of ticks run so far.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// RegisterHandlers installs getTelemetry, which returns a fresh sample.
// Partial samples are returned as-is; the call only fails when every source
// failed.
func (l *Loop) RegisterHandlers(reg *rpc.Registry) error {
	return reg.Register(MethodGetTelemetry, func(ctx context.Context, _ json.RawMessage) (any, error) {
		sample, err := l.Collect(ctx)
		if err != nil && len(sample) == 0 {
			return nil, err
		}
		return sample, nil
	})
}
