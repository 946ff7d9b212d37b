// Package cycle repeats a trajectory solve, feeding each cycle's final
// state back in as the next initial condition after an optional event.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/preprocess"
	"github.com/san-kum/dsdyn/internal/solver"
)

type Policy int

const (
	// PolicyNone carries the final state over unchanged.
	PolicyNone Policy = iota
	// PolicyDropBelowThreshold zeroes every state component at or below
	// its bound and rescales the state to a unit total.
	PolicyDropBelowThreshold
)

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyDropBelowThreshold:
		return "drop-below-threshold"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return PolicyNone, nil
	case "drop-below-threshold", "drop", "threshold":
		return PolicyDropBelowThreshold, nil
	}
	return 0, &dynamo.UnsupportedConfigurationError{What: fmt.Sprintf("unknown event policy %q", s)}
}

type Config struct {
	Cycles int
	// Bounds holds one threshold per state equation, in state order.
	Bounds []float64
	Policy Policy
	Solver solver.Options
}

type Result struct {
	// Trajectory is the last cycle's full trajectory.
	Trajectory *dynamo.Trajectory
	// Finals holds the state carried out of each cycle, after the event.
	Finals []dynamo.Environment
}

// Run executes cfg.Cycles solves over the same grid. Zero cycles yields a
// nil result and no error.
func Run(ctx context.Context, sys *preprocess.ReducedSystem, init, params dynamo.Environment, grid []float64, cfg Config) (*Result, error) {
	logger := cfg.Solver.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Cycles < 0 {
		return nil, &dynamo.UnsupportedConfigurationError{What: fmt.Sprintf("%d cycles", cfg.Cycles)}
	}
	switch cfg.Policy {
	case PolicyNone:
	case PolicyDropBelowThreshold:
		if len(cfg.Bounds) != len(sys.StateEquations) {
			return nil, fmt.Errorf("%w: %d bounds for %d state variables",
				dynamo.ErrDimensionMismatch, len(cfg.Bounds), len(sys.StateEquations))
		}
	default:
		return nil, &dynamo.UnsupportedConfigurationError{What: "event policy " + cfg.Policy.String()}
	}
	if cfg.Cycles == 0 {
		return nil, nil
	}

	names := sys.StateNames()
	state := init.Clone()
	res := &Result{Finals: make([]dynamo.Environment, 0, cfg.Cycles)}

	for c := 1; c <= cfg.Cycles; c++ {
		traj, err := solver.Solve(ctx, sys, state, params, grid, cfg.Solver)
		if err != nil {
			return nil, fmt.Errorf("cycle %d: %w", c, err)
		}

		final := traj.Final()
		values := make(dynamo.State, len(names))
		for i, n := range names {
			values[i] = final[n]
		}
		if cfg.Policy == PolicyDropBelowThreshold {
			if values, err = dropBelow(values, cfg.Bounds, c); err != nil {
				return nil, err
			}
		}

		// conserved variables are rebuilt from the map on the next solve
		state = make(dynamo.Environment, len(names))
		for i, n := range names {
			state[n] = values[i]
		}
		res.Finals = append(res.Finals, state.Clone())
		res.Trajectory = traj

		cfg.Solver.Metrics.ObserveCycle()
		logger.Debug("cycle: finished",
			slog.Int("cycle", c),
			slog.Int("of", cfg.Cycles),
			slog.String("policy", cfg.Policy.String()))
	}

	return res, nil
}

func dropBelow(values dynamo.State, bounds []float64, cycle int) (dynamo.State, error) {
	out := values.Clone()
	for i := range out {
		if out[i] <= bounds[i] {
			out[i] = 0
		}
	}
	sum := out.Sum()
	if sum == 0 {
		return nil, &dynamo.RenormalizationError{Cycle: cycle}
	}
	return out.Scale(1 / sum), nil
}
