// Package metrics exposes solver activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/aristath/hosd/internal/modules/dominance"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hosd"

// Run outcomes used as the status label
const (
	StatusConverged     = "converged"
	StatusNotStabilized = "not_stabilized"
	StatusNotConverged  = "newton_not_converged"
	StatusFailed        = "failed"
)

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	runs             *prometheus.CounterVec
	runsInFlight     prometheus.Gauge
	runDuration      prometheus.Histogram
	rounds           prometheus.Counter
	violations       prometheus.Counter
	newtonIterations prometheus.Counter
	activeThresholds prometheus.Histogram
	residualNorm     prometheus.Histogram
}

// New creates and registers all collectors, plus the Go and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Optimisation runs by outcome.",
		}, []string{"status"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Optimisation runs currently executing.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished optimisation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cutting_plane_rounds_total",
			Help:      "Cutting-plane rounds performed.",
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dominance_violations_total",
			Help:      "Rounds whose scan found a dominance violation.",
		}),
		newtonIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "newton_iterations_total",
			Help:      "Newton iterations across all rounds.",
		}),
		activeThresholds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "active_thresholds",
			Help:      "Size of the active threshold set at the end of a run.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100, 200},
		}),
		residualNorm: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "residual_norm",
			Help:      "Terminal Newton residual norm per round.",
			Buckets:   prometheus.ExponentialBuckets(1e-14, 100, 8),
		}),
	}

	reg.MustRegister(
		m.runs,
		m.runsInFlight,
		m.runDuration,
		m.rounds,
		m.violations,
		m.newtonIterations,
		m.activeThresholds,
		m.residualNorm,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunStarted marks a run as in flight
func (m *Metrics) RunStarted() {
	m.runsInFlight.Inc()
}

// RunFinished records the outcome of a run started with RunStarted.
// res may be nil for runs that failed before producing a result.
func (m *Metrics) RunFinished(status string, res *dominance.Result) {
	m.runsInFlight.Dec()
	m.runs.WithLabelValues(status).Inc()
	if res == nil {
		return
	}
	m.runDuration.Observe(res.Duration.Seconds())
	m.activeThresholds.Observe(float64(len(res.ActiveThresholds)))
}

// OnRound implements dominance.Observer
func (m *Metrics) OnRound(r dominance.RoundReport) {
	m.rounds.Inc()
	m.newtonIterations.Add(float64(r.Iterations))
	m.residualNorm.Observe(r.ResidualNorm)
	if r.Violation.Violated {
		m.violations.Inc()
	}
}

var _ dominance.Observer = (*Metrics)(nil)
