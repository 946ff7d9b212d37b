// Package sweep runs many independent solves of one reduced system
// concurrently: parameter scans, grid searches and forward/backward
// titrations. The reduced system is shared read-only between workers.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/preprocess"
	"github.com/san-kum/dsdyn/internal/solver"
)

// Job is one solve.
type Job struct {
	Name    string
	System  *preprocess.ReducedSystem
	Init    dynamo.Environment
	Params  dynamo.Environment
	Grid    []float64
	Options solver.Options
}

func workers(limit int) int {
	if limit <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return limit
}

// Batch solves every job with at most limit running at once; limit <= 0
// means GOMAXPROCS. Results are in job order. The first failure cancels
// the jobs that have not started and is returned.
func Batch(ctx context.Context, jobs []Job, limit int) ([]*dynamo.Trajectory, error) {
	out := make([]*dynamo.Trajectory, len(jobs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers(limit))

	for i, job := range jobs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			traj, err := solver.Solve(gCtx, job.System, job.Init, job.Params, job.Grid, job.Options)
			if err != nil {
				if job.Name != "" {
					return fmt.Errorf("%s: %w", job.Name, err)
				}
				return fmt.Errorf("job %d: %w", i, err)
			}
			out[i] = traj
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Parameter solves sys once per value of the named parameter.
func Parameter(ctx context.Context, sys *preprocess.ReducedSystem, init, params dynamo.Environment, name string, values, grid []float64, opts solver.Options, limit int) ([]*dynamo.Trajectory, error) {
	jobs := make([]Job, len(values))
	for i, v := range values {
		p := params.Clone()
		p[name] = v
		jobs[i] = Job{
			Name:    fmt.Sprintf("%s=%g", name, v),
			System:  sys,
			Init:    init,
			Params:  p,
			Grid:    grid,
			Options: opts,
		}
	}
	return Batch(ctx, jobs, limit)
}

// Score ranks a trajectory; lower is better.
type Score func(*dynamo.Trajectory) (float64, error)

// GridSearch is an exhaustive search over the cartesian product of
// parameter ranges.
type GridSearch struct {
	names  []string
	ranges [][]float64
}

func NewGridSearch(names []string, ranges [][]float64) (*GridSearch, error) {
	if len(names) != len(ranges) {
		return nil, fmt.Errorf("%w: %d parameter names, %d ranges",
			dynamo.ErrDimensionMismatch, len(names), len(ranges))
	}
	return &GridSearch{names: names, ranges: ranges}, nil
}

// Points enumerates the grid, varying the last parameter fastest.
func (g *GridSearch) Points() []dynamo.Environment {
	var out []dynamo.Environment
	g.enumerate(0, dynamo.Environment{}, &out)
	return out
}

func (g *GridSearch) enumerate(depth int, current dynamo.Environment, out *[]dynamo.Environment) {
	if depth == len(g.names) {
		*out = append(*out, current)
		return
	}
	for _, v := range g.ranges[depth] {
		next := current.Clone()
		next[g.names[depth]] = v
		g.enumerate(depth+1, next, out)
	}
}

// Search solves every grid point concurrently and returns the point with
// the lowest score. Ties go to the earlier point. Points whose score is
// NaN never win.
func (g *GridSearch) Search(ctx context.Context, sys *preprocess.ReducedSystem, init, params dynamo.Environment, grid []float64, opts solver.Options, limit int, score Score) (dynamo.Environment, float64, error) {
	points := g.Points()
	jobs := make([]Job, len(points))
	for i, pt := range points {
		jobs[i] = Job{System: sys, Init: init, Params: params.Merge(pt), Grid: grid, Options: opts}
	}
	trajs, err := Batch(ctx, jobs, limit)
	if err != nil {
		return nil, 0, err
	}

	best := math.Inf(1)
	var bestPoint dynamo.Environment
	for i, traj := range trajs {
		s, err := score(traj)
		if err != nil {
			return nil, 0, fmt.Errorf("score %v: %w", points[i], err)
		}
		if s < best {
			best = s
			bestPoint = points[i]
		}
	}
	if bestPoint == nil {
		return nil, math.NaN(), nil
	}
	return bestPoint, best, nil
}

// ParseAxis reads a grid axis written name=v1,v2,...
func ParseAxis(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.TrimSpace(list) == "" {
		return "", nil, fmt.Errorf("grid axis %q: expected name=v1,v2,...", s)
	}
	fields := strings.Split(list, ",")
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return "", nil, fmt.Errorf("grid axis %s: %w", name, err)
		}
		values[i] = v
	}
	return name, values, nil
}

// FinalDistance scores a trajectory by how far the final value of the
// named series lies from target.
func FinalDistance(name string, target float64) Score {
	return func(traj *dynamo.Trajectory) (float64, error) {
		s, ok := traj.Get(name)
		if !ok || len(s) == 0 {
			return 0, fmt.Errorf("%w: no series %s", dynamo.ErrMissingValue, name)
		}
		return math.Abs(s[len(s)-1] - target), nil
	}
}

// Step is one point of a titration.
type Step struct {
	Value float64
	Final dynamo.Environment
}

// Titration steps the named parameter through values in order, starting
// each solve from the previous solve's final state.
func Titration(ctx context.Context, sys *preprocess.ReducedSystem, init, params dynamo.Environment, name string, values, grid []float64, opts solver.Options) ([]Step, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	names := sys.StateNames()
	state := init.Clone()
	p := params.Clone()
	out := make([]Step, 0, len(values))

	for _, v := range values {
		p[name] = v
		traj, err := solver.Solve(ctx, sys, state, p, grid, opts)
		if err != nil {
			return nil, fmt.Errorf("%s=%g: %w", name, v, err)
		}
		final := traj.Final()
		out = append(out, Step{Value: v, Final: final})

		state = make(dynamo.Environment, len(names))
		for _, n := range names {
			state[n] = final[n]
		}
		logger.Debug("sweep: titration step",
			slog.String("parameter", name),
			slog.Float64("value", v))
	}
	return out, nil
}

// Hysteresis runs a forward titration over values and a backward one over
// the reversed values at the same time. Both start from init.
func Hysteresis(ctx context.Context, sys *preprocess.ReducedSystem, init, params dynamo.Environment, name string, values, grid []float64, opts solver.Options) (forward, backward []Step, err error) {
	reversed := slices.Clone(values)
	slices.Reverse(reversed)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		forward, err = Titration(gCtx, sys, init, params, name, values, grid, opts)
		if err != nil {
			return fmt.Errorf("forward: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		backward, err = Titration(gCtx, sys, init, params, name, reversed, grid, opts)
		if err != nil {
			return fmt.Errorf("backward: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return forward, backward, nil
}
