// Package metrics exposes Prometheus metrics for solves and simulation runs.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the simulator metrics. It implements solver.Observer so
// an MNA solver can report into it directly.
type Collector struct {
	gatherer prometheus.Gatherer

	Solves          *prometheus.CounterVec
	SolveDurations  prometheus.Histogram
	SolveIterations prometheus.Histogram
	NetworkUnknowns prometheus.Gauge
	Runs            *prometheus.CounterVec
}

// NewCollector registers the metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	solves, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powersim_solves_total",
		Help: "Total number of network solves, labeled by outcome.",
	}, []string{"outcome"}), "powersim_solves_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "powersim_solve_duration_seconds",
		Help:    "Network solve latency in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}), "powersim_solve_duration_seconds")
	if err != nil {
		return nil, err
	}
	iterations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "powersim_solve_iterations",
		Help:    "Newton iterations spent settling behavioral sources per solve.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55, 100},
	}), "powersim_solve_iterations")
	if err != nil {
		return nil, err
	}
	unknowns, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "powersim_network_unknowns",
		Help: "Unknowns in the most recently solved network.",
	}), "powersim_network_unknowns")
	if err != nil {
		return nil, err
	}
	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powersim_runs_total",
		Help: "Total number of simulation runs, labeled by kind.",
	}, []string{"kind"}), "powersim_runs_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		Solves:          solves,
		SolveDurations:  durations,
		SolveIterations: iterations,
		NetworkUnknowns: unknowns,
		Runs:            runs,
	}, nil
}

// ObserveSolve records one solve.
func (c *Collector) ObserveSolve(outcome string, d time.Duration, iterations, unknowns int) {
	if c == nil {
		return
	}
	c.Solves.WithLabelValues(outcome).Inc()
	c.SolveDurations.Observe(d.Seconds())
	c.SolveIterations.Observe(float64(iterations))
	c.NetworkUnknowns.Set(float64(unknowns))
}

// ObserveRun records one simulation run of the given kind.
func (c *Collector) ObserveRun(kind string) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(kind).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
