package emergence

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/causalverse/internal/ir"
)

// Source is the read-only view a Detector samples. universe.Manager
// implements it.
type Source interface {
	StoreKeys() []string
	Value(key string) (ir.IRValue, bool)
	Dependencies() [][2]string
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the structured logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		d.logger = l
	}
}

// WithNow overrides the time source for DetectedAt.
func WithNow(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// Detector samples a Source and accumulates patterns.
type Detector struct {
	src     Source
	logger  *slog.Logger
	now     func() time.Time
	metrics *Metrics

	// busy is set while a tick is sampling or analyzing.
	busy atomic.Bool

	mu       sync.Mutex
	cfg      Config
	windows  map[string]*ring
	ticks    int64
	patterns []Pattern

	runMu   sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New creates a stopped detector over src with DefaultConfig. Use
// Configure or Start to change the configuration.
func New(src Source, opts ...Option) *Detector {
	d := &Detector{
		src:     src,
		logger:  slog.Default(),
		now:     time.Now,
		metrics: newMetrics(),
		cfg:     DefaultConfig(),
		windows: make(map[string]*ring),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Metrics returns the detector's collectors.
func (d *Detector) Metrics() *Metrics {
	return d.metrics
}

// Config returns the active configuration.
func (d *Detector) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg := d.cfg
	cfg.EnabledPatterns = slices.Clone(cfg.EnabledPatterns)
	return cfg
}

// Configure validates and installs cfg. Existing windows are resized to
// the new WindowSize, keeping the newest samples.
func (d *Detector) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.EnabledPatterns = slices.Clone(cfg.EnabledPatterns)

	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg.WindowSize != d.cfg.WindowSize {
		for _, r := range d.windows {
			r.resize(cfg.WindowSize)
		}
	}
	d.cfg = cfg
	if over := len(d.patterns) - cfg.MaxPatterns; over > 0 {
		d.patterns = slices.Delete(d.patterns, 0, over)
	}
	return nil
}

// Start validates cfg and begins sampling every cfg.SamplingInterval until
// Stop is called or ctx is done. An invalid config is rejected before any
// timer is scheduled.
func (d *Detector) Start(ctx context.Context, cfg Config) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		return &DetectorError{Code: ErrCodeAlreadyRunning, Message: "detector is already sampling"}
	}
	if err := d.Configure(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running.Add(1)
	go d.loop(ctx, cfg.SamplingInterval)

	d.logger.Info("emergence detector started",
		"interval", cfg.SamplingInterval,
		"window", cfg.WindowSize,
		"min_confidence", cfg.MinConfidence,
	)
	return nil
}

// Stop ends sampling and waits for any in-flight tick. It is idempotent;
// once it returns no further tick runs.
func (d *Detector) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel == nil {
		return
	}
	d.cancel()
	d.running.Wait()
	d.cancel = nil
	d.logger.Info("emergence detector stopped")
}

// Running reports whether the detector is sampling on a timer.
func (d *Detector) Running() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.cancel != nil
}

func (d *Detector) loop(ctx context.Context, interval time.Duration) {
	defer d.running.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.busy.CompareAndSwap(false, true) {
				d.metrics.skipped.Inc()
				continue
			}
			d.running.Add(1)
			go func() {
				defer d.running.Done()
				defer d.busy.Store(false)
				if ctx.Err() != nil {
					return
				}
				d.analyze()
			}()
		}
	}
}

// Tick samples every store once and runs the enabled detectors. It returns
// the patterns reported by this tick, or nil if another tick is still
// running, in which case the tick is skipped.
func (d *Detector) Tick() []Pattern {
	if !d.busy.CompareAndSwap(false, true) {
		d.metrics.skipped.Inc()
		return nil
	}
	defer d.busy.Store(false)
	return d.analyze()
}

func (d *Detector) analyze() []Pattern {
	start := time.Now()
	w, cfg := d.sample()

	var found []Pattern
	for _, kind := range AllKinds {
		if !cfg.enabled(kind) {
			continue
		}
		p, ok := detectors[kind](w, cfg)
		if !ok || p.Confidence < cfg.MinConfidence {
			continue
		}
		p.Tick = w.Tick
		p.DetectedAt = d.now()
		found = append(found, p)
		d.metrics.patterns.WithLabelValues(string(kind)).Inc()
		d.logger.Debug("pattern detected",
			"kind", p.Kind,
			"confidence", p.Confidence,
			"stores", p.Stores,
			"tick", p.Tick,
		)
	}

	if len(found) > 0 {
		d.mu.Lock()
		for _, p := range found {
			d.patterns = append(d.patterns, p.copy())
		}
		if over := len(d.patterns) - cfg.MaxPatterns; over > 0 {
			d.patterns = slices.Delete(d.patterns, 0, over)
		}
		d.mu.Unlock()
	}
	d.metrics.ticks.Inc()
	d.metrics.analysis.Observe(time.Since(start).Seconds())
	return found
}

// sample reads every store once and returns an immutable window.
func (d *Detector) sample() (Window, Config) {
	keys := d.src.StoreKeys()
	values := make(map[string]float64, len(keys))
	for _, key := range keys {
		if v, ok := d.src.Value(key); ok {
			values[key] = ir.Magnitude(v)
		}
	}
	deps := d.src.Dependencies()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ticks++
	for key, v := range values {
		r, ok := d.windows[key]
		if !ok {
			r = newRing(d.cfg.WindowSize)
			d.windows[key] = r
		}
		r.push(v)
	}
	// stores that disappeared from the source stop being tracked
	for key := range d.windows {
		if _, ok := values[key]; !ok {
			delete(d.windows, key)
		}
	}
	d.metrics.trackedStore.Set(float64(len(d.windows)))

	w := Window{
		Tick:   d.ticks,
		Series: make(map[string][]float64, len(d.windows)),
		Deps:   slices.Clone(deps),
	}
	for key, r := range d.windows {
		w.Keys = append(w.Keys, key)
		w.Series[key] = r.values()
	}
	slices.Sort(w.Keys)
	return w, d.cfg
}

// Patterns returns the accumulated patterns matching f, oldest first.
// Patterns are never cleared by reading.
func (d *Detector) Patterns(f Filter) []Pattern {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Pattern
	for _, p := range d.patterns {
		if f.matches(p) {
			out = append(out, p.copy())
		}
	}
	return out
}

// Reset drops every window and accumulated pattern.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows = make(map[string]*ring)
	d.patterns = nil
	d.ticks = 0
}
