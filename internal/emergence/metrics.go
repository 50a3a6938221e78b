package emergence

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the detector's Prometheus collectors, registered on a
// private registry so several detectors can coexist in one process.
type Metrics struct {
	ticks        prometheus.Counter
	skipped      prometheus.Counter
	patterns     *prometheus.CounterVec
	analysis     prometheus.Histogram
	trackedStore prometheus.Gauge

	registry *prometheus.Registry
}

func newMetrics() *Metrics {
	const namespace, subsystem = "causalverse", "emergence"
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ticks_total",
			Help:      "Total number of sampling ticks analyzed",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the previous analysis was still running",
		}),
		patterns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "patterns_total",
			Help:      "Patterns reported, by kind",
		}, []string{"kind"}),
		analysis: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent sampling and running detectors per tick",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		trackedStore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tracked_stores",
			Help:      "Number of stores with a sample window",
		}),
	}
	m.registry.MustRegister(m.ticks, m.skipped, m.patterns, m.analysis, m.trackedStore)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
