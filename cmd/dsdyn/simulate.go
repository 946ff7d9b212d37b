package main

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/dsdyn/internal/config"
	"github.com/san-kum/dsdyn/internal/cycle"
	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/metrics"
	"github.com/san-kum/dsdyn/internal/preprocess"
	"github.com/san-kum/dsdyn/internal/solver"
	"github.com/san-kum/dsdyn/internal/storage"
	"github.com/san-kum/dsdyn/internal/sweep"
	"github.com/san-kum/dsdyn/internal/viz"
)

func reduceModel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	sys, _, err := prepare(cfg)
	if err != nil {
		return err
	}

	fmt.Println(viz.Title.Render("state equations"))
	for _, eq := range sys.StateEquations {
		fmt.Printf("  %s. = %s\n", eq.Name, eq.RHS)
	}

	if sys.HasConservation() {
		fmt.Println()
		fmt.Println(viz.Title.Render("conserved variables"))
		for _, name := range sys.ConservedVariableOrder {
			c := sys.ConservationMap[name]
			fmt.Printf("  %s = (%s) / %g\n", name, c.Expr, c.Coefficient)
		}
	}

	if len(sys.Auxiliary) > 0 {
		fmt.Println()
		fmt.Println(viz.Title.Render("auxiliary variables"))
		for _, aux := range sys.Auxiliary {
			fmt.Printf("  %s = %s\n", aux.Name, aux.RHS)
		}
	}
	return nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	sys, opts, err := prepare(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("solving %s (%s)...\n", cfg.Model, cfg.Solver.Method)
	start := time.Now()

	traj, err := solver.Solve(cmd.Context(), sys, cfg.Init, cfg.Params, cfg.Grid(), opts)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	return report(cfg, sys, traj, 1, elapsed)
}

func runCycles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	sys, opts, err := prepare(cfg)
	if err != nil {
		return err
	}
	cc, err := cfg.CycleConfig(opts)
	if err != nil {
		return err
	}

	fmt.Printf("running %d cycles of %s (%s, policy %s)...\n", cc.Cycles, cfg.Model, cfg.Solver.Method, cc.Policy)
	start := time.Now()

	result, err := cycle.Run(cmd.Context(), sys, cfg.Init, cfg.Params, cfg.Grid(), cc)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	if result == nil {
		fmt.Println("no cycles run")
		return nil
	}

	names := sys.StateNames()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "CYCLE")
	for _, n := range names {
		fmt.Fprintf(w, "\t%s", n)
	}
	fmt.Fprintln(w)
	for i, final := range result.Finals {
		fmt.Fprintf(w, "%d", i+1)
		for _, n := range names {
			fmt.Fprintf(w, "\t%.6g", final[n])
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println()

	return report(cfg, sys, result.Trajectory, cc.Cycles, elapsed)
}

// report prints run metrics, optionally plots, and stores the run.
func report(cfg *config.Config, sys *preprocess.ReducedSystem, traj *dynamo.Trajectory, nCycles int, elapsed time.Duration) error {
	values := evaluate(sys, traj, cfg.Params)

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("samples: %d\n", traj.Len())

	final := traj.Final()
	finals := make(map[string]string, len(sys.Dependent()))
	for _, name := range sys.Dependent() {
		finals[name] = strconv.FormatFloat(final[name], 'g', 6, 64)
	}
	fmt.Println()
	fmt.Println(viz.HeaderStyle.Render("final state"))
	fmt.Print(viz.KeyValues(finals))

	if len(values) > 0 {
		shown := make(map[string]string, len(values))
		for name, v := range values {
			shown[name] = fmt.Sprintf("%.6g", v)
		}
		fmt.Println()
		fmt.Println(viz.HeaderStyle.Render("metrics"))
		fmt.Print(viz.KeyValues(shown))
	}

	if plot {
		chart, err := viz.Chart(traj, plotVars, viz.ChartOptions{Height: 12, Width: 80})
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(chart)
	}

	if noSave {
		return nil
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(storage.RunMetadata{
		Model:      cfg.Model,
		Method:     cfg.Solver.Method,
		Integrator: cfg.Solver.Integrator,
		Cycles:     nCycles,
		Equations:  cfg.Equations,
		Params:     cfg.Params,
		Init:       cfg.Init,
		Metrics:    values,
	}, traj)
	if err != nil {
		return err
	}
	fmt.Printf("\nrun id: %s\n", runID)
	return nil
}

// evaluate computes quality metrics for systems with conservation laws;
// other systems have no invariant to check.
func evaluate(sys *preprocess.ReducedSystem, traj *dynamo.Trajectory, params dynamo.Environment) map[string]float64 {
	if !sys.HasConservation() {
		return nil
	}
	return metrics.Evaluate(traj, params,
		metrics.NewConstraintViolation(sys.Constraints()),
		metrics.NewTotalDrift(sys.Dependent()),
		metrics.NewStability(sys.Dependent(), 0, maxInit(traj, sys.Dependent())),
	)
}

// maxInit bounds a concentration system by twice its largest initial
// value.
func maxInit(traj *dynamo.Trajectory, names []string) float64 {
	first := traj.Row(0)
	hi := 0.0
	for _, n := range names {
		hi = max(hi, first[n])
	}
	if hi == 0 {
		return math.Inf(1)
	}
	return 2 * hi
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	sys, opts, err := prepare(cfg)
	if err != nil {
		return err
	}

	names := vars
	if len(names) == 0 {
		names = sys.StateNames()
	}

	if len(gridSets) > 0 {
		return runGridSearch(cmd, cfg, sys, opts)
	}

	if hysteresis {
		forward, backward, err := sweep.Hysteresis(cmd.Context(), sys, cfg.Init, cfg.Params, sweepParam, sweepValues, cfg.Grid(), opts)
		if err != nil {
			return err
		}
		fmt.Println(viz.HeaderStyle.Render("forward"))
		if err := printSteps(forward, names); err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(viz.HeaderStyle.Render("backward"))
		return printSteps(backward, names)
	}

	start := time.Now()
	trajs, err := sweep.Parameter(cmd.Context(), sys, cfg.Init, cfg.Params, sweepParam, sweepValues, cfg.Grid(), opts, workers)
	if err != nil {
		return err
	}
	fmt.Printf("%d solves in %v\n\n", len(trajs), time.Since(start))

	steps := make([]sweep.Step, len(trajs))
	for i, traj := range trajs {
		steps[i] = sweep.Step{Value: sweepValues[i], Final: traj.Final()}
	}
	return printSteps(steps, names)
}

func printSteps(steps []sweep.Step, names []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, sweepParam)
	for _, n := range names {
		fmt.Fprintf(w, "\t%s", n)
	}
	fmt.Fprintln(w)

	for _, s := range steps {
		fmt.Fprintf(w, "%g", s.Value)
		for _, n := range names {
			v, ok := s.Final[n]
			if !ok {
				return fmt.Errorf("%w: no variable %s", dynamo.ErrMissingValue, n)
			}
			fmt.Fprintf(w, "\t%.6g", v)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func runGridSearch(cmd *cobra.Command, cfg *config.Config, sys *preprocess.ReducedSystem, opts solver.Options) error {
	names := make([]string, len(gridSets))
	ranges := make([][]float64, len(gridSets))
	solves := 1
	for i, set := range gridSets {
		name, values, err := sweep.ParseAxis(set)
		if err != nil {
			return err
		}
		names[i], ranges[i] = name, values
		solves *= len(values)
	}
	gs, err := sweep.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}

	start := time.Now()
	best, score, err := gs.Search(cmd.Context(), sys, cfg.Init, cfg.Params, cfg.Grid(), opts, workers,
		sweep.FinalDistance(objective, target))
	if err != nil {
		return err
	}
	fmt.Printf("%d solves in %v\n\n", solves, time.Since(start))

	if best == nil {
		fmt.Println("no grid point produced a finite score")
		return nil
	}
	shown := make(map[string]string, len(best)+1)
	for name, v := range best {
		shown[name] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	shown["|"+objective+" - target|"] = strconv.FormatFloat(score, 'g', 6, 64)
	fmt.Println(viz.HeaderStyle.Render("best point"))
	fmt.Print(viz.KeyValues(shown))
	return nil
}
