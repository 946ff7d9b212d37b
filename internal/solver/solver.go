// Package solver integrates a reduced equation system over a time grid,
// either explicitly on the reduced ODE set or implicitly as a DAE that
// carries the conservation laws as algebraic rows.
package solver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/expr"
	"github.com/san-kum/dsdyn/internal/integrators"
	"github.com/san-kum/dsdyn/internal/metrics"
	"github.com/san-kum/dsdyn/internal/preprocess"
)

type Method int

const (
	Explicit Method = iota
	Implicit
)

func (m Method) String() string {
	switch m {
	case Explicit:
		return "explicit"
	case Implicit:
		return "implicit"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "explicit", "ode":
		return Explicit, nil
	case "implicit", "dae":
		return Implicit, nil
	}
	return 0, &dynamo.UnsupportedConfigurationError{What: fmt.Sprintf("unknown solver method %q", s)}
}

type Options struct {
	Method Method
	// Stepper names the explicit integrator; empty means rk45.
	Stepper  string
	AbsTol   float64
	RelTol   float64
	MaxSteps int
	// SuppressAlgebraicErrorTest only affects the implicit path.
	SuppressAlgebraicErrorTest bool

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Solve integrates sys from init over grid. init must hold every state
// variable; conserved variables are taken from init when present and
// reconstructed from the conservation map otherwise. The trajectory holds
// state, conserved and auxiliary series, in that order.
//
// Systems without conservation laws always take the explicit path.
func Solve(ctx context.Context, sys *preprocess.ReducedSystem, init, params dynamo.Environment, grid []float64, opts Options) (*dynamo.Trajectory, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := dynamo.ValidateGrid(grid); err != nil {
		return nil, err
	}

	method := opts.Method
	if !sys.HasConservation() && method != Explicit {
		logger.Debug("solver: no conservation laws, using explicit path",
			slog.String("requested", method.String()))
		method = Explicit
	}

	start := time.Now()
	var (
		traj  *dynamo.Trajectory
		stats integrators.Stats
		err   error
	)
	switch method {
	case Explicit:
		traj, stats, err = solveExplicit(ctx, sys, init, params, grid, opts)
	case Implicit:
		traj, stats, err = solveImplicit(ctx, sys, init, params, grid, opts)
	default:
		return nil, &dynamo.UnsupportedConfigurationError{What: "solver method " + method.String()}
	}
	elapsed := time.Since(start)
	opts.Metrics.ObserveSolve(method.String(), stats.Steps, stats.Evaluations, elapsed, err)

	if err != nil {
		logger.Debug("solver: solve failed",
			slog.String("method", method.String()),
			slog.Int("steps", stats.Steps),
			slog.String("error", err.Error()))
		return nil, err
	}

	if err := addAuxiliary(traj, sys, params); err != nil {
		return nil, err
	}

	logger.Debug("solver: solve finished",
		slog.String("method", method.String()),
		slog.Int("points", len(grid)),
		slog.Int("steps", stats.Steps),
		slog.Int("rejected", stats.Rejected),
		slog.Int("evaluations", stats.Evaluations),
		slog.Duration("duration", elapsed))
	return traj, nil
}

// InitialValues splits init into the state vector and the conserved
// vector, in system order.
func InitialValues(sys *preprocess.ReducedSystem, init, params dynamo.Environment) (dynamo.State, dynamo.State, error) {
	y0, err := init.Lookup(sys.StateNames())
	if err != nil {
		return nil, nil, fmt.Errorf("initial values: %w", err)
	}

	env := params.Merge(init)
	yc0 := make(dynamo.State, len(sys.ConservedVariableOrder))
	for j, name := range sys.ConservedVariableOrder {
		if v, ok := init[name]; ok {
			yc0[j] = v
			continue
		}
		v, err := sys.ConservationMap[name].Eval(env)
		if err != nil {
			return nil, nil, fmt.Errorf("initial value of %s: %w", name, err)
		}
		yc0[j] = v
		env[name] = v
	}
	return y0, yc0, nil
}

func solveExplicit(ctx context.Context, sys *preprocess.ReducedSystem, init, params dynamo.Environment, grid []float64, opts Options) (*dynamo.Trajectory, integrators.Stats, error) {
	var stats integrators.Stats
	y0, _, err := InitialValues(sys, init, params)
	if err != nil {
		return nil, stats, err
	}

	name := opts.Stepper
	if name == "" {
		name = "rk45"
	}
	stepper, err := integrators.New(name)
	if err != nil {
		return nil, stats, err
	}

	rows, stats, err := integrators.Integrate(ctx, stepper, ExplicitDerivative(sys, params), y0, grid,
		integrators.Options{AbsTol: opts.AbsTol, RelTol: opts.RelTol, MaxSteps: opts.MaxSteps})
	if err != nil {
		return nil, stats, err
	}

	traj := dynamo.NewTrajectory(grid)
	names := sys.StateNames()
	for i, n := range names {
		col := make([]float64, len(rows))
		for k, row := range rows {
			col[k] = row[i]
		}
		traj.Set(n, col)
	}

	if !sys.HasConservation() {
		return traj, stats, nil
	}

	cons := make([][]float64, len(sys.ConservedVariableOrder))
	for j := range cons {
		cons[j] = make([]float64, len(rows))
	}
	for k, row := range rows {
		env := params.Clone()
		for i, n := range names {
			env[n] = row[i]
		}
		for j, c := range sys.ConservedVariableOrder {
			v, err := sys.ConservationMap[c].Eval(env)
			if err != nil {
				return nil, stats, fmt.Errorf("reconstruct %s at t=%g: %w", c, grid[k], err)
			}
			cons[j][k] = v
		}
	}
	for j, c := range sys.ConservedVariableOrder {
		traj.Set(c, cons[j])
	}
	return traj, stats, nil
}

func solveImplicit(ctx context.Context, sys *preprocess.ReducedSystem, init, params dynamo.Environment, grid []float64, opts Options) (*dynamo.Trajectory, integrators.Stats, error) {
	var stats integrators.Stats
	y0, yc0, err := InitialValues(sys, init, params)
	if err != nil {
		return nil, stats, err
	}

	// consistent start: state rates at (t0, y0, yc0), zero for the
	// algebraic block
	env := params.Clone()
	for i, n := range sys.StateNames() {
		env[n] = y0[i]
	}
	for j, n := range sys.ConservedVariableOrder {
		env[n] = yc0[j]
	}
	yp0 := make(dynamo.State, len(y0)+len(yc0))
	for i, eq := range sys.StateEquations {
		v, err := eq.RHS.Eval(env)
		if err != nil {
			return nil, stats, fmt.Errorf("initial rate of %s: %w", eq.Name, err)
		}
		yp0[i] = v
	}

	yAug := append(y0.Clone(), yc0...)
	id := make([]bool, len(yAug))
	for i := range sys.StateEquations {
		id[i] = true
	}

	sol, err := integrators.SolveDAE(ctx, ImplicitResidual(sys, params), yAug, yp0, id, grid, integrators.DAEOptions{
		AbsTol:                     opts.AbsTol,
		RelTol:                     opts.RelTol,
		MaxSteps:                   opts.MaxSteps,
		SuppressAlgebraicErrorTest: opts.SuppressAlgebraicErrorTest,
	})
	if sol != nil {
		stats = sol.Stats
	}
	if err != nil {
		return nil, stats, err
	}

	traj := dynamo.NewTrajectory(grid)
	for i, n := range sys.Dependent() {
		col := make([]float64, len(sol.Values))
		for k, row := range sol.Values {
			col[k] = row[i]
		}
		traj.Set(n, col)
	}
	return traj, stats, nil
}

// ExplicitDerivative returns dx/dt for the reduced state vector. Each call
// builds its own environment from params, the state values and the
// reconstructed conserved variables; the closure holds no mutable state.
func ExplicitDerivative(sys *preprocess.ReducedSystem, params dynamo.Environment) dynamo.SystemFunc {
	names := sys.StateNames()
	return dynamo.SystemFunc{
		Dim: len(names),
		Fn: func(t float64, x dynamo.State) (dynamo.State, error) {
			env := params.Clone()
			for i, n := range names {
				env[n] = x[i]
			}
			for _, c := range sys.ConservedVariableOrder {
				v, err := sys.ConservationMap[c].Eval(env)
				if err != nil {
					return nil, fmt.Errorf("conserved %s: %w", c, err)
				}
				env[c] = v
			}

			dx := make(dynamo.State, len(names))
			for i, eq := range sys.StateEquations {
				v, err := eq.RHS.Eval(env)
				if err != nil {
					return nil, fmt.Errorf("rate of %s: %w", eq.Name, err)
				}
				dx[i] = v
			}
			return dx, nil
		},
	}
}

// ImplicitResidual returns F(t, y, y') over [states ‖ conserved]. Rows for
// states are f_i(y, y') - y'_i; rows for conserved variables are the
// conservation zero forms g_j(y), whose derivative estimate is masked out
// because those components are algebraic.
func ImplicitResidual(sys *preprocess.ReducedSystem, params dynamo.Environment) dynamo.Residual {
	names := sys.StateNames()
	derivs := make([]string, len(names))
	for i, n := range names {
		derivs[i] = expr.DerivativeSymbol(n)
	}
	cons := sys.ConservedVariableOrder
	constraints := sys.Constraints()
	ns := len(names)

	return func(t float64, y, yp dynamo.State) (dynamo.State, error) {
		env := params.Clone()
		for i, n := range names {
			env[n] = y[i]
			env[derivs[i]] = yp[i]
		}
		for j, c := range cons {
			env[c] = y[ns+j]
		}

		res := make(dynamo.State, ns+len(cons))
		for i, eq := range sys.StateEquations {
			v, err := eq.RHS.Eval(env)
			if err != nil {
				return nil, fmt.Errorf("rate of %s: %w", eq.Name, err)
			}
			res[i] = v - yp[i]
		}
		for j, g := range constraints {
			v, err := g.Eval(env)
			if err != nil {
				return nil, fmt.Errorf("conservation of %s: %w", cons[j], err)
			}
			res[ns+j] = v
		}
		return res, nil
	}
}

func addAuxiliary(traj *dynamo.Trajectory, sys *preprocess.ReducedSystem, params dynamo.Environment) error {
	if len(sys.Auxiliary) == 0 {
		return nil
	}
	cols := make([][]float64, len(sys.Auxiliary))
	for j := range cols {
		cols[j] = make([]float64, traj.Len())
	}
	for k := range traj.Times {
		env := params.Merge(traj.Row(k))
		for j, aux := range sys.Auxiliary {
			v, err := aux.RHS.Eval(env)
			if err != nil {
				return fmt.Errorf("auxiliary %s at t=%g: %w", aux.Name, traj.Times[k], err)
			}
			cols[j][k] = v
		}
	}
	for j, aux := range sys.Auxiliary {
		traj.Set(aux.Name, cols[j])
	}
	return nil
}
