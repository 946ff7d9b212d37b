// Package metrics holds trajectory quality metrics and the Prometheus
// counters the solvers report to.
package metrics

import "github.com/san-kum/dsdyn/internal/dynamo"

// Metric accumulates a scalar over the rows of a trajectory.
type Metric interface {
	Name() string
	Observe(t float64, row dynamo.Environment)
	Value() float64
	Reset()
}

// Evaluate resets every metric, feeds it each row of traj merged over
// params, and returns the final values keyed by name.
func Evaluate(traj *dynamo.Trajectory, params dynamo.Environment, ms ...Metric) map[string]float64 {
	for _, m := range ms {
		m.Reset()
	}
	for i, t := range traj.Times {
		row := params.Merge(traj.Row(i))
		for _, m := range ms {
			m.Observe(t, row)
		}
	}
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}
