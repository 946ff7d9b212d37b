package dynamo

import (
	"fmt"
	"math"
	"sort"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Sum() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v
	}
	return sum
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// Environment maps variable names to values. It is used both as the live
// state seen by an expression during integration and as the parameter set.
// Callers that need to extend an environment must Clone it first.
type Environment map[string]float64

func (e Environment) Clone() Environment {
	c := make(Environment, len(e))
	for k, v := range e {
		c[k] = v
	}
	return c
}

// Merge returns a new environment holding e overlaid with other.
func (e Environment) Merge(other Environment) Environment {
	c := make(Environment, len(e)+len(other))
	for k, v := range e {
		c[k] = v
	}
	for k, v := range other {
		c[k] = v
	}
	return c
}

// Lookup returns the values for names in order, failing on the first
// missing name.
func (e Environment) Lookup(names []string) (State, error) {
	out := make(State, len(names))
	for i, name := range names {
		v, ok := e[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingValue, name)
		}
		out[i] = v
	}
	return out, nil
}

func (e Environment) Names() []string {
	names := make([]string, 0, len(e))
	for k := range e {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// System is an ODE right-hand side dx/dt = f(t, x).
type System interface {
	Derive(t float64, x State) (State, error)
	StateDim() int
}

// SystemFunc adapts a plain function to System.
type SystemFunc struct {
	Dim int
	Fn  func(t float64, x State) (State, error)
}

func (f SystemFunc) Derive(t float64, x State) (State, error) { return f.Fn(t, x) }
func (f SystemFunc) StateDim() int                            { return f.Dim }

// Residual is an implicit DAE residual F(t, y, y') whose zero defines the
// solution.
type Residual func(t float64, y, yp State) (State, error)

// Trajectory is a named set of sampled series on a shared time grid.
// Every series has the same length as Times. A trajectory is never mutated
// after it is returned to a caller.
type Trajectory struct {
	Times  []float64
	Series map[string][]float64
	Order  []string
}

func NewTrajectory(times []float64) *Trajectory {
	t := make([]float64, len(times))
	copy(t, times)
	return &Trajectory{
		Times:  t,
		Series: make(map[string][]float64),
	}
}

// Set stores a series, recording its name in insertion order.
func (t *Trajectory) Set(name string, values []float64) {
	if _, ok := t.Series[name]; !ok {
		t.Order = append(t.Order, name)
	}
	t.Series[name] = values
}

func (t *Trajectory) Get(name string) ([]float64, bool) {
	v, ok := t.Series[name]
	return v, ok
}

func (t *Trajectory) Len() int { return len(t.Times) }

// Row returns the values of every series at sample i.
func (t *Trajectory) Row(i int) Environment {
	env := make(Environment, len(t.Series))
	for name, values := range t.Series {
		env[name] = values[i]
	}
	return env
}

// Final returns the last row of the trajectory.
func (t *Trajectory) Final() Environment {
	if len(t.Times) == 0 {
		return Environment{}
	}
	return t.Row(len(t.Times) - 1)
}

// Validate checks that every series matches the time grid.
func (t *Trajectory) Validate() error {
	for name, values := range t.Series {
		if len(values) != len(t.Times) {
			return fmt.Errorf("%w: series %s has %d samples, grid has %d",
				ErrDimensionMismatch, name, len(values), len(t.Times))
		}
	}
	return nil
}

// ValidateGrid reports whether times is strictly increasing with at least
// two points.
func ValidateGrid(times []float64) error {
	if len(times) < 2 {
		return fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidTimeGrid, len(times))
	}
	for i := 1; i < len(times); i++ {
		if !(times[i] > times[i-1]) {
			return fmt.Errorf("%w: t[%d]=%g is not after t[%d]=%g",
				ErrInvalidTimeGrid, i, times[i], i-1, times[i-1])
		}
	}
	return nil
}

// Linspace returns n evenly spaced points over [start, stop].
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}
