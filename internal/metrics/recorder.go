package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dsdyn"

// Recorder collects solver counters in a private registry. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	solves      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	steps       *prometheus.HistogramVec
	evaluations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	cycles      prometheus.Counter
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		solves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solves_total",
			Help:      "Trajectory solves by method",
		}, []string{"method"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solve_failures_total",
			Help:      "Trajectory solves that returned an error, by method",
		}, []string{"method"}),
		steps: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "integrator_steps",
			Help:      "Accepted internal integrator steps per solve",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}, []string{"method"}),
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rhs_evaluations_total",
			Help:      "Right-hand side or residual evaluations",
		}, []string{"method"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Wall time per solve",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"method"}),
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed cycle driver iterations",
		}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveSolve records one finished solve.
func (r *Recorder) ObserveSolve(method string, steps, evaluations int, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.solves.WithLabelValues(method).Inc()
	r.duration.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		r.failures.WithLabelValues(method).Inc()
		return
	}
	r.steps.WithLabelValues(method).Observe(float64(steps))
	r.evaluations.WithLabelValues(method).Add(float64(evaluations))
}

func (r *Recorder) ObserveCycle() {
	if r == nil {
		return
	}
	r.cycles.Inc()
}

// WriteTextfile writes the text exposition format to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
