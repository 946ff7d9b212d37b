// Package integrators provides the numerical ODE and DAE integrators used by
// the trajectory solver.
//
// Explicit steppers (Euler, RK4, RK45) advance a dynamo.System; Integrate
// drives any of them across an output time grid. SolveDAE integrates an
// implicit residual with a variable-step BDF method.
package integrators

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

const (
	DefaultAbsTol   = 1e-6
	DefaultRelTol   = 1e-6
	DefaultMaxSteps = 10000
)

var (
	errMaxSteps  = errors.New("maximum number of internal steps exceeded")
	errUnderflow = errors.New("step size underflow")
)

// Stepper advances x by one step of size dt.
type Stepper interface {
	Name() string
	Step(sys dynamo.System, x dynamo.State, t, dt float64) (dynamo.State, error)
}

// AdaptiveStepper also estimates its local error so Integrate can control
// the step size.
type AdaptiveStepper interface {
	Stepper
	StepAdaptive(sys dynamo.System, x dynamo.State, t, dt, atol, rtol float64) (xNew dynamo.State, dtNext, errNorm float64, err error)
}

var steppers = map[string]func() Stepper{
	"euler": func() Stepper { return NewEuler() },
	"rk4":   func() Stepper { return NewRK4() },
	"rk45":  func() Stepper { return NewRK45() },
}

// New returns a fresh stepper by name. Steppers keep scratch state, so
// each solve should get its own.
func New(name string) (Stepper, error) {
	fn, ok := steppers[name]
	if !ok {
		return nil, &dynamo.UnsupportedConfigurationError{What: fmt.Sprintf("unknown integrator %q", name)}
	}
	return fn(), nil
}

// List returns the registered stepper names.
func List() []string {
	names := make([]string, 0, len(steppers))
	for name := range steppers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Options struct {
	AbsTol float64
	RelTol float64
	// MaxSteps bounds the internal steps taken between two consecutive
	// grid points.
	MaxSteps int
	// MaxStep caps the step size. Fixed steppers split each grid interval
	// into ceil(interval/MaxStep) sub-steps; zero means one step per
	// interval.
	MaxStep float64
	// InitialStep is the first step an adaptive stepper attempts; zero
	// picks one from the first grid interval.
	InitialStep float64
}

func (o Options) withDefaults() Options {
	if o.AbsTol <= 0 {
		o.AbsTol = DefaultAbsTol
	}
	if o.RelTol <= 0 {
		o.RelTol = DefaultRelTol
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	return o
}

type Stats struct {
	Steps         int
	Rejected      int
	Evaluations   int
	JacobianEvals int
}

// counted wraps a system and counts right-hand side evaluations.
type counted struct {
	sys   dynamo.System
	calls int
}

func (c *counted) Derive(t float64, x dynamo.State) (dynamo.State, error) {
	c.calls++
	return c.sys.Derive(t, x)
}

func (c *counted) StateDim() int { return c.sys.StateDim() }

// Integrate solves dx/dt = sys(t, x) from y0 at grid[0] and returns one
// state per grid point. The first row is a copy of y0.
func Integrate(ctx context.Context, stepper Stepper, sys dynamo.System, y0 dynamo.State, grid []float64, opts Options) (out []dynamo.State, stats Stats, err error) {
	if err := dynamo.ValidateGrid(grid); err != nil {
		return nil, stats, err
	}
	if len(y0) != sys.StateDim() {
		return nil, stats, fmt.Errorf("%w: y0 has %d values, system has %d states",
			dynamo.ErrDimensionMismatch, len(y0), sys.StateDim())
	}
	if !y0.IsValid() {
		return nil, stats, fmt.Errorf("initial values: %w", dynamo.ErrInvalidState)
	}
	opts = opts.withDefaults()

	cs := &counted{sys: sys}
	defer func() { stats.Evaluations = cs.calls }()

	out = make([]dynamo.State, len(grid))
	out[0] = y0.Clone()

	x := y0.Clone()
	adaptive, isAdaptive := stepper.(AdaptiveStepper)

	h := opts.InitialStep
	if h <= 0 {
		h = (grid[1] - grid[0]) / 10
	}

	for k := 1; k < len(grid); k++ {
		t0, t1 := grid[k-1], grid[k]

		if isAdaptive {
			x, h, err = advanceAdaptive(ctx, adaptive, cs, x, t0, t1, h, opts, &stats)
		} else {
			x, err = advanceFixed(ctx, stepper, cs, x, t0, t1, opts, &stats)
		}
		if err != nil {
			return nil, stats, err
		}
		out[k] = x.Clone()
	}

	return out, stats, nil
}

func advanceFixed(ctx context.Context, stepper Stepper, sys dynamo.System, x dynamo.State, t0, t1 float64, opts Options, stats *Stats) (dynamo.State, error) {
	n := 1
	if opts.MaxStep > 0 {
		n = int(math.Ceil((t1 - t0) / opts.MaxStep))
	}
	if n > opts.MaxSteps {
		return nil, &dynamo.IntegratorError{Method: stepper.Name(), Step: stats.Steps, Time: t0, Err: errMaxSteps}
	}
	dt := (t1 - t0) / float64(n)

	t := t0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := stepper.Step(sys, x, t, dt)
		if err != nil {
			return nil, &dynamo.IntegratorError{Method: stepper.Name(), Step: stats.Steps, Time: t, Err: err}
		}
		if !next.IsValid() {
			return nil, &dynamo.IntegratorError{Method: stepper.Name(), Step: stats.Steps, Time: t, Err: dynamo.ErrInvalidState}
		}
		x = next
		t = t0 + float64(i+1)*dt
		stats.Steps++
	}
	return x, nil
}

func advanceAdaptive(ctx context.Context, stepper AdaptiveStepper, sys dynamo.System, x dynamo.State, t0, t1, h float64, opts Options, stats *Stats) (dynamo.State, float64, error) {
	t := t0
	steps := 0
	for t < t1 {
		if err := ctx.Err(); err != nil {
			return nil, h, err
		}
		if steps >= opts.MaxSteps {
			return nil, h, &dynamo.IntegratorError{Method: stepper.Name(), Step: stats.Steps, Time: t, Err: errMaxSteps}
		}
		if opts.MaxStep > 0 && h > opts.MaxStep {
			h = opts.MaxStep
		}
		if h < minStep(t) {
			return nil, h, &dynamo.IntegratorError{Method: stepper.Name(), Step: stats.Steps, Time: t, Err: errUnderflow}
		}

		dt := h
		last := false
		// stretch by up to 1% rather than leave a sliver before t1
		if t+1.01*dt >= t1 {
			dt = t1 - t
			last = true
		}

		next, hNext, errNorm, err := stepper.StepAdaptive(sys, x, t, dt, opts.AbsTol, opts.RelTol)
		if err != nil {
			return nil, h, &dynamo.IntegratorError{Method: stepper.Name(), Step: stats.Steps, Time: t, Err: err}
		}
		steps++

		if !(errNorm <= 1) || !next.IsValid() {
			stats.Rejected++
			h = hNext
			if !next.IsValid() || !(hNext < dt) {
				h = dt / 2
			}
			continue
		}

		x = next
		stats.Steps++
		if last {
			t = t1
		} else {
			t += dt
		}
		// a step shortened to hit the grid point says little about the
		// natural step size
		if !last || hNext > h {
			h = hNext
		}
	}
	return x, h, nil
}

func minStep(t float64) float64 {
	return 1e-12 * math.Max(1, math.Abs(t))
}
