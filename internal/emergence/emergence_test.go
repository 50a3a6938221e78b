package emergence

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causalverse/internal/ir"
)

// fakeSource is a Source whose values tests set directly.
type fakeSource struct {
	mu     sync.Mutex
	keys   []string
	values map[string]ir.IRValue
	deps   [][2]string
}

func newFakeSource(keys ...string) *fakeSource {
	src := &fakeSource{keys: keys, values: make(map[string]ir.IRValue)}
	for _, k := range keys {
		src.values[k] = ir.IRFloat(0)
	}
	return src
}

func (s *fakeSource) StoreKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func (s *fakeSource) Value(key string) (ir.IRValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *fakeSource) Dependencies() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]string(nil), s.deps...)
}

func (s *fakeSource) set(key string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = ir.IRFloat(v)
}

func testConfig(window int) Config {
	cfg := DefaultConfig()
	cfg.WindowSize = window
	return cfg
}

func newTestDetector(t *testing.T, src Source, cfg Config) *Detector {
	t.Helper()
	d := New(src, WithNow(func() time.Time { return time.Unix(0, 0).UTC() }))
	require.NoError(t, d.Configure(cfg))
	return d
}

// drive runs n ticks, setting every store from gen first.
func drive(d *Detector, src *fakeSource, n int, gen func(tick int) map[string]float64) []Pattern {
	var last []Pattern
	for tick := range n {
		for k, v := range gen(tick) {
			src.set(k, v)
		}
		last = d.Tick()
	}
	return last
}

func find(patterns []Pattern, kind Kind) (Pattern, bool) {
	for _, p := range patterns {
		if p.Kind == kind {
			return p, true
		}
	}
	return Pattern{}, false
}

// ============================================================================
// Configuration
// ============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"zero interval", func(c *Config) { c.SamplingInterval = 0 }, "SamplingInterval"},
		{"tiny window", func(c *Config) { c.WindowSize = 5; c.MinSamples = 5 }, "WindowSize"},
		{"confidence above one", func(c *Config) { c.MinConfidence = 1.5 }, "MinConfidence"},
		{"negative confidence", func(c *Config) { c.MinConfidence = -0.1 }, "MinConfidence"},
		{"too few samples", func(c *Config) { c.MinSamples = 5 }, "MinSamples"},
		{"samples exceed window", func(c *Config) { c.WindowSize = 20; c.MinSamples = 30 }, "MinSamples"},
		{"unknown pattern", func(c *Config) { c.EnabledPatterns = []Kind{"telepathy"} }, "EnabledPatterns"},
		{"no history", func(c *Config) { c.MaxPatterns = 0 }, "MaxPatterns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.edit(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, IsInvalidConfig(err))

			var de *DetectorError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.field, de.Field)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestStart_InvalidConfigSchedulesNothing(t *testing.T) {
	d := New(newFakeSource("a"))
	cfg := DefaultConfig()
	cfg.MinSamples = 3

	err := d.Start(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, IsInvalidConfig(err))
	assert.False(t, d.Running())
	d.Stop()
}

func TestConfigure_ResizesWindows(t *testing.T) {
	src := newFakeSource("a")
	d := newTestDetector(t, src, testConfig(20))
	drive(d, src, 20, func(tick int) map[string]float64 {
		return map[string]float64{"a": float64(tick)}
	})

	require.NoError(t, d.Configure(testConfig(10)))
	got := d.windows["a"].values()
	require.Len(t, got, 10)
	assert.Equal(t, 10.0, got[0])
	assert.Equal(t, 19.0, got[9])
}

// ============================================================================
// Sampling
// ============================================================================

func TestRing_DropsOldest(t *testing.T) {
	r := newRing(3)
	for i := range 5 {
		r.push(float64(i))
	}
	assert.Equal(t, []float64{2, 3, 4}, r.values())

	r.resize(5)
	r.push(5)
	assert.Equal(t, []float64{2, 3, 4, 5}, r.values())
}

func TestTick_DeclinesBelowMinSamples(t *testing.T) {
	src := newFakeSource("a", "b")
	d := newTestDetector(t, src, testConfig(20))

	for i := 1; i < 10; i++ {
		assert.Empty(t, d.Tick(), "tick %d", i)
	}
	found := d.Tick()
	p, ok := find(found, KindEquilibrium)
	require.True(t, ok, "constant stores are at equilibrium once enough samples exist")
	assert.Equal(t, []string{"a", "b"}, p.Stores)
	assert.Equal(t, int64(10), p.Tick)
}

func TestTick_ProjectsNonNumericValues(t *testing.T) {
	src := newFakeSource("label")
	src.values["label"] = ir.IRString("abc")
	d := newTestDetector(t, src, testConfig(10))

	d.Tick()
	w, _ := d.sample()
	assert.Equal(t, []float64{3, 3}, w.Samples("label"))
}

func TestTick_SkipsWhileBusy(t *testing.T) {
	src := newFakeSource("a")
	d := newTestDetector(t, src, testConfig(10))

	d.busy.Store(true)
	assert.Nil(t, d.Tick())
	d.busy.Store(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(d.Metrics().skipped))
	assert.Equal(t, 0.0, testutil.ToFloat64(d.Metrics().ticks))
}

func TestTick_ForgetsRemovedStores(t *testing.T) {
	src := newFakeSource("a", "b")
	d := newTestDetector(t, src, testConfig(10))
	d.Tick()

	src.mu.Lock()
	src.keys = []string{"a"}
	delete(src.values, "b")
	src.mu.Unlock()

	w, _ := d.sample()
	assert.Equal(t, []string{"a"}, w.Keys)
}

// ============================================================================
// Detectors
// ============================================================================

func TestSynchronization_IdenticalStores(t *testing.T) {
	src := newFakeSource("a", "b")
	d := newTestDetector(t, src, testConfig(60))
	rng := rand.New(rand.NewSource(7))

	drive(d, src, 60, func(int) map[string]float64 {
		v := rng.Float64() * 100
		return map[string]float64{"a": v, "b": v}
	})

	got := d.Patterns(Filter{Kinds: []Kind{KindSynchronization}})
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Greater(t, last.Confidence, 0.5)
	assert.Equal(t, []string{"a", "b"}, last.Stores)
	assert.InDelta(t, 1.0, last.Evidence["sync_ratio"], 1e-9)
}

func TestSynchronization_SteadyRamps(t *testing.T) {
	for _, step := range []float64{1, 3} {
		src := newFakeSource("a", "b")
		d := newTestDetector(t, src, testConfig(30))

		drive(d, src, 30, func(tick int) map[string]float64 {
			v := step * float64(tick)
			return map[string]float64{"a": v, "b": v}
		})

		got := d.Patterns(Filter{Kinds: []Kind{KindSynchronization}})
		require.NotEmpty(t, got, "step %v", step)
		last := got[len(got)-1]
		assert.Greater(t, last.Confidence, 0.5)
		assert.Equal(t, []string{"a", "b"}, last.Stores)
		assert.InDelta(t, 1.0, last.Evidence["sync_ratio"], 1e-9)
	}
}

func TestSynchronization_IndependentStores(t *testing.T) {
	src := newFakeSource("a", "b")
	d := newTestDetector(t, src, testConfig(60))
	rng := rand.New(rand.NewSource(11))

	found := drive(d, src, 60, func(int) map[string]float64 {
		return map[string]float64{"a": rng.Float64() * 100, "b": rng.Float64() * 100}
	})

	_, ok := find(found, KindSynchronization)
	assert.False(t, ok, "a full window of independent samples is not in step")
}

func TestOscillation(t *testing.T) {
	src := newFakeSource("wave")
	d := newTestDetector(t, src, testConfig(40))

	found := drive(d, src, 40, func(tick int) map[string]float64 {
		return map[string]float64{"wave": math.Sin(2 * math.Pi * float64(tick) / 8)}
	})

	p, ok := find(found, KindOscillation)
	require.True(t, ok)
	assert.Greater(t, p.Confidence, 0.9)
	assert.Equal(t, []string{"wave"}, p.Stores)
	assert.Zero(t, int(p.Evidence["period"])%8, "period %v", p.Evidence["period"])
}

func TestCascade(t *testing.T) {
	src := newFakeSource("leader", "follower")
	d := newTestDetector(t, src, testConfig(40))
	rng := rand.New(rand.NewSource(3))
	var history []float64

	found := drive(d, src, 40, func(tick int) map[string]float64 {
		v := rng.Float64() * 10
		history = append(history, v)
		follow := 0.0
		if tick >= 2 {
			follow = history[tick-2]
		}
		return map[string]float64{"leader": v, "follower": follow}
	})

	p, ok := find(found, KindCascade)
	require.True(t, ok)
	assert.Equal(t, []string{"leader", "follower"}, p.Stores)
	assert.Equal(t, 2.0, p.Evidence["lag"])
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)
}

func TestConvergence(t *testing.T) {
	src := newFakeSource("a", "b")
	d := newTestDetector(t, src, testConfig(40))

	found := drive(d, src, 40, func(tick int) map[string]float64 {
		gap := float64(40 - tick)
		return map[string]float64{"a": 50 + gap, "b": 50 - gap}
	})

	p, ok := find(found, KindConvergence)
	require.True(t, ok)
	assert.Greater(t, p.Confidence, 0.8)
	assert.Less(t, p.Evidence["slope"], 0.0)
	_, diverging := find(found, KindDivergence)
	assert.False(t, diverging)
}

func TestDivergence(t *testing.T) {
	src := newFakeSource("a", "b")
	d := newTestDetector(t, src, testConfig(40))

	found := drive(d, src, 40, func(tick int) map[string]float64 {
		gap := float64(tick + 1)
		return map[string]float64{"a": 50 + gap, "b": 50 - gap}
	})

	p, ok := find(found, KindDivergence)
	require.True(t, ok)
	assert.Greater(t, p.Confidence, 0.8)
	assert.Greater(t, p.Evidence["slope"], 0.0)
	_, converging := find(found, KindConvergence)
	assert.False(t, converging)
}

func TestClustering(t *testing.T) {
	src := newFakeSource("a", "b", "c", "d")
	d := newTestDetector(t, src, testConfig(20))

	found := drive(d, src, 20, func(tick int) map[string]float64 {
		x := float64(tick)
		return map[string]float64{"a": x, "b": 3 + x, "c": 1.05 * x, "d": 10 * x}
	})

	p, ok := find(found, KindClustering)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, p.Stores)
	assert.Equal(t, 2.0, p.Evidence["clusters"])
	assert.Greater(t, p.Confidence, 0.9)
}

func TestFeedbackLoop(t *testing.T) {
	src := newFakeSource("heat", "pressure", "idle")
	src.deps = [][2]string{{"heat", "pressure"}, {"pressure", "heat"}, {"pressure", "idle"}}
	d := newTestDetector(t, src, testConfig(20))

	found := drive(d, src, 20, func(tick int) map[string]float64 {
		return map[string]float64{"heat": float64(tick), "pressure": float64(2 * tick)}
	})

	p, ok := find(found, KindFeedbackLoop)
	require.True(t, ok)
	assert.Equal(t, []string{"heat", "pressure"}, p.Stores)
	assert.Equal(t, 1.0, p.Confidence)
	assert.Equal(t, "feedback loop through heat -> pressure -> heat", p.Description)
}

func TestFeedbackLoop_NoCycle(t *testing.T) {
	src := newFakeSource("a", "b")
	src.deps = [][2]string{{"a", "b"}}
	d := newTestDetector(t, src, testConfig(20))

	found := drive(d, src, 20, func(tick int) map[string]float64 {
		return map[string]float64{"a": float64(tick), "b": float64(tick)}
	})
	_, ok := find(found, KindFeedbackLoop)
	assert.False(t, ok)
}

func TestPhaseTransition(t *testing.T) {
	src := newFakeSource("state")
	d := newTestDetector(t, src, testConfig(40))

	found := drive(d, src, 40, func(tick int) map[string]float64 {
		if tick < 20 {
			return map[string]float64{"state": 1}
		}
		return map[string]float64{"state": 10}
	})

	p, ok := find(found, KindPhaseTransition)
	require.True(t, ok)
	assert.Equal(t, 1.0, p.Confidence)
	assert.Equal(t, 1.0, p.Evidence["before"])
	assert.Equal(t, 10.0, p.Evidence["after"])
}

func TestEquilibrium_PartialFraction(t *testing.T) {
	src := newFakeSource("calm", "busy")
	d := newTestDetector(t, src, testConfig(20))
	cfg := testConfig(20)
	cfg.MinConfidence = 0.4
	require.NoError(t, d.Configure(cfg))

	found := drive(d, src, 20, func(tick int) map[string]float64 {
		return map[string]float64{"calm": 5, "busy": float64(tick * tick)}
	})

	p, ok := find(found, KindEquilibrium)
	require.True(t, ok)
	assert.Equal(t, []string{"calm"}, p.Stores)
	assert.Equal(t, 0.5, p.Confidence)
}

func TestChaos(t *testing.T) {
	src := newFakeSource("noise")
	cfg := testConfig(50)
	cfg.MinConfidence = 0.3
	d := newTestDetector(t, src, cfg)
	rng := rand.New(rand.NewSource(5))

	found := drive(d, src, 50, func(int) map[string]float64 {
		return map[string]float64{"noise": rng.Float64()}
	})

	p, ok := find(found, KindChaos)
	require.True(t, ok)
	assert.Equal(t, []string{"noise"}, p.Stores)
	_, trending := find(found, KindPhaseTransition)
	assert.False(t, trending)
}

func TestChaos_IgnoresSmoothTrend(t *testing.T) {
	src := newFakeSource("ramp")
	d := newTestDetector(t, src, testConfig(30))

	found := drive(d, src, 30, func(tick int) map[string]float64 {
		return map[string]float64{"ramp": float64(tick)}
	})
	_, ok := find(found, KindChaos)
	assert.False(t, ok)
}

// ============================================================================
// Findings
// ============================================================================

func TestEnabledPatterns(t *testing.T) {
	src := newFakeSource("a", "b")
	cfg := testConfig(20)
	cfg.EnabledPatterns = []Kind{KindOscillation}
	d := newTestDetector(t, src, cfg)

	drive(d, src, 20, func(int) map[string]float64 { return nil })
	assert.Empty(t, d.Patterns(Filter{}), "equilibrium is disabled")
}

func TestPatterns_FilterAndAccumulate(t *testing.T) {
	src := newFakeSource("a", "b")
	d := newTestDetector(t, src, testConfig(20))
	drive(d, src, 12, func(int) map[string]float64 { return nil })

	all := d.Patterns(Filter{})
	assert.Len(t, all, 3, "ticks 10, 11 and 12 each report equilibrium")
	assert.Len(t, d.Patterns(Filter{}), 3, "reading does not clear")
	assert.Len(t, d.Patterns(Filter{SinceTick: 12}), 1)
	assert.Len(t, d.Patterns(Filter{Store: "a"}), 3)
	assert.Empty(t, d.Patterns(Filter{Store: "z"}))
	assert.Empty(t, d.Patterns(Filter{Kinds: []Kind{KindChaos}}))
	assert.Empty(t, d.Patterns(Filter{MinConfidence: 1.1}))

	all[0].Stores[0] = "mutated"
	assert.Equal(t, "a", d.Patterns(Filter{})[0].Stores[0])
	assert.Equal(t, 3.0, testutil.ToFloat64(d.Metrics().patterns.WithLabelValues(string(KindEquilibrium))))
}

func TestPatterns_MaxPatterns(t *testing.T) {
	src := newFakeSource("a")
	cfg := testConfig(20)
	cfg.MaxPatterns = 2
	d := newTestDetector(t, src, cfg)
	drive(d, src, 15, func(int) map[string]float64 { return nil })

	got := d.Patterns(Filter{})
	require.Len(t, got, 2)
	assert.Equal(t, int64(14), got[0].Tick)
	assert.Equal(t, int64(15), got[1].Tick)
}

func TestReset(t *testing.T) {
	src := newFakeSource("a")
	d := newTestDetector(t, src, testConfig(20))
	drive(d, src, 12, func(int) map[string]float64 { return nil })
	d.Reset()

	assert.Empty(t, d.Patterns(Filter{}))
	assert.Empty(t, d.Tick(), "windows start over")
}

// ============================================================================
// Timer-driven sampling
// ============================================================================

func TestStartStop(t *testing.T) {
	src := newFakeSource("a")
	d := New(src)
	cfg := DefaultConfig()
	cfg.SamplingInterval = time.Millisecond

	require.NoError(t, d.Start(context.Background(), cfg))
	assert.True(t, d.Running())

	err := d.Start(context.Background(), cfg)
	assert.True(t, IsAlreadyRunning(err))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(d.Metrics().ticks) >= 3
	}, 2*time.Second, time.Millisecond)

	d.Stop()
	d.Stop()
	assert.False(t, d.Running())

	after := testutil.ToFloat64(d.Metrics().ticks)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, testutil.ToFloat64(d.Metrics().ticks), "no tick fires after Stop")
}

func TestStart_ContextCancelStopsSampling(t *testing.T) {
	d := New(newFakeSource("a"))
	cfg := DefaultConfig()
	cfg.SamplingInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, d.Start(ctx, cfg))
	cancel()
	d.Stop()

	require.NoError(t, d.Start(context.Background(), cfg), "a stopped detector can start again")
	d.Stop()
}
