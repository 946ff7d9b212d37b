package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/san-kum/dsdyn/internal/config"
	"github.com/san-kum/dsdyn/internal/metrics"
	"github.com/san-kum/dsdyn/internal/preprocess"
	"github.com/san-kum/dsdyn/internal/signal"
	"github.com/san-kum/dsdyn/internal/solver"
)

var (
	dataDir    string
	logLevel   string
	metricsOut string

	// model selection and overrides
	configFile string
	preset     string
	method     string
	stepper    string
	atol       float64
	rtol       float64
	maxSteps   int
	tStart     float64
	tStop      float64
	points     int
	paramSets  []string
	initSets   []string

	// cycle driver
	cycles int
	policy string
	bounds []float64

	// output
	plot       bool
	noSave     bool
	plotVars   []string
	plotHeight int
	plotWidth  int
	outFile    string

	// analysis
	responseMethod string
	threshold      float64
	vars           []string
	phaseMode      string
	reference      string
	portrait       []string
	withResponse   bool

	// sweeps
	sweepParam  string
	sweepValues []float64
	workers     int
	hysteresis  bool
	gridSets    []string
	objective   string
	target      float64
)

var recorder = metrics.NewRecorder()

// main registers the dsdyn commands and runs the root command until it
// finishes or the process is interrupted.
func main() {
	rootCmd := &cobra.Command{
		Use:                "dsdyn",
		Short:              "design-space dynamical simulation",
		SilenceUsage:       true,
		PersistentPreRunE:  setupLogging,
		PersistentPostRunE: writeMetrics,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".dsdyn", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsOut, "metrics-out", "", "write solver metrics in text exposition format to this file")

	reduceCmd := &cobra.Command{
		Use:   "reduce [model]",
		Short: "reduce a model and print its state equations",
		Args:  cobra.MaximumNArgs(1),
		RunE:  reduceModel,
	}
	addModelFlags(reduceCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate [model]",
		Short: "solve a model over its time grid",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	addModelFlags(simulateCmd)
	addSolverFlags(simulateCmd)
	addOutputFlags(simulateCmd)

	cycleCmd := &cobra.Command{
		Use:   "cycle [model]",
		Short: "run repeated cycles with an event policy between them",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCycles,
	}
	addModelFlags(cycleCmd)
	addSolverFlags(cycleCmd)
	addOutputFlags(cycleCmd)
	cycleCmd.Flags().IntVar(&cycles, "cycles", 1, "number of cycles")
	cycleCmd.Flags().StringVar(&policy, "policy", "none", "event policy (none, drop-below-threshold)")
	cycleCmd.Flags().Float64SliceVar(&bounds, "bounds", nil, "per-state thresholds for drop-below-threshold")

	sweepCmd := &cobra.Command{
		Use:   "sweep [model]",
		Short: "solve a model across parameter values, or grid-search parameters",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	addModelFlags(sweepCmd)
	addSolverFlags(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepParam, "param", "", "parameter to sweep")
	sweepCmd.Flags().Float64SliceVar(&sweepValues, "values", nil, "parameter values")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "concurrent solves (0 = GOMAXPROCS)")
	sweepCmd.Flags().BoolVar(&hysteresis, "hysteresis", false, "titrate forward and backward, carrying state between values")
	sweepCmd.Flags().StringSliceVar(&vars, "vars", nil, "variables to report (default: state variables)")
	sweepCmd.Flags().StringArrayVar(&gridSets, "grid", nil, "grid search axis, name=v1,v2,... (repeatable)")
	sweepCmd.Flags().StringVar(&objective, "objective", "", "variable whose final value the grid search fits")
	sweepCmd.Flags().Float64Var(&target, "target", 0, "final value the grid search aims for")
	sweepCmd.MarkFlagsRequiredTogether("param", "values")
	sweepCmd.MarkFlagsRequiredTogether("grid", "objective")
	sweepCmd.MarkFlagsOneRequired("param", "grid")
	sweepCmd.MarkFlagsMutuallyExclusive("param", "grid")

	responseCmd := &cobra.Command{
		Use:   "response [run_id]",
		Short: "response times of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  responseRun,
	}
	responseCmd.Flags().StringVar(&responseMethod, "method", "max-minus-min", "response method ("+strings.Join(signal.Methods(), ", ")+")")
	responseCmd.Flags().Float64Var(&threshold, "threshold", config.DefaultThreshold, "threshold fraction")
	responseCmd.Flags().StringSliceVar(&vars, "vars", nil, "variables to analyse (default: all)")

	phaseCmd := &cobra.Command{
		Use:   "phase [run_id]",
		Short: "phase shifts of a stored run against a reference series",
		Args:  cobra.ExactArgs(1),
		RunE:  phaseRun,
	}
	phaseCmd.Flags().StringVar(&reference, "ref", "", "reference variable")
	phaseCmd.Flags().StringSliceVar(&vars, "vars", nil, "target variables (default: all but the reference)")
	phaseCmd.Flags().StringVar(&phaseMode, "mode", "legend", "aggregation (legend, mean)")
	phaseCmd.Flags().StringSliceVar(&portrait, "portrait", nil, "draw a phase portrait of two variables, e.g. X,Y")
	_ = phaseCmd.MarkFlagRequired("ref")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringSliceVar(&plotVars, "vars", nil, "variables to plot (default: all)")
	plotCmd.Flags().IntVar(&plotHeight, "height", 12, "plot height")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "plot width")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export a run's trajectory as csv",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default: stdout)")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a run's trajectory as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default: stdout)")
	exportJSONCmd.Flags().BoolVar(&withResponse, "response", false, "include response times")
	exportJSONCmd.Flags().StringVar(&responseMethod, "method", "max-minus-min", "response method for --response")
	exportJSONCmd.Flags().Float64Var(&threshold, "threshold", config.DefaultThreshold, "threshold fraction for --response")

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list built-in models and their presets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	rootCmd.AddCommand(reduceCmd, simulateCmd, cycleCmd, sweepCmd, responseCmd, phaseCmd,
		listCmd, plotCmd, exportCSVCmd, exportJSONCmd, presetsCmd)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "model file (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "preset of the named model (default: first preset)")
	cmd.Flags().StringArrayVar(&paramSets, "set", nil, "override a parameter, name=value")
}

func addSolverFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&initSets, "init", nil, "override an initial value, name=value")
	cmd.Flags().StringVar(&method, "method", config.DefaultMethod, "solver method (explicit, implicit)")
	cmd.Flags().StringVar(&stepper, "integrator", config.DefaultStepper, "explicit integrator (euler, rk4, rk45)")
	cmd.Flags().Float64Var(&atol, "atol", config.DefaultTol, "absolute tolerance")
	cmd.Flags().Float64Var(&rtol, "rtol", config.DefaultTol, "relative tolerance")
	cmd.Flags().IntVar(&maxSteps, "max-steps", config.DefaultMaxSteps, "step limit per output interval")
	cmd.Flags().Float64Var(&tStart, "start", config.DefaultStart, "start time")
	cmd.Flags().Float64Var(&tStop, "stop", config.DefaultStop, "stop time")
	cmd.Flags().IntVar(&points, "points", config.DefaultPoints, "output points")
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&plot, "plot", false, "plot the trajectory")
	cmd.Flags().StringSliceVar(&plotVars, "vars", nil, "variables to plot (default: all)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

func writeMetrics(cmd *cobra.Command, args []string) error {
	if metricsOut == "" {
		return nil
	}
	return recorder.WriteTextfile(metricsOut)
}

// loadConfig resolves the model from --config or the named preset, then
// applies only the flags the user actually set.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case configFile != "":
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case len(args) == 1:
		model := args[0]
		name := preset
		if name == "" {
			names := config.ListPresets(model)
			if len(names) == 0 {
				return nil, fmt.Errorf("unknown model %q (have %s)", model, strings.Join(config.ListModels(), ", "))
			}
			name = names[0]
		}
		cfg = config.GetPreset(model, name)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %s/%s", model, name)
		}
	default:
		return nil, fmt.Errorf("need a model name or --config")
	}

	flags := cmd.Flags()
	if flags.Changed("method") {
		cfg.Solver.Method = method
	}
	if flags.Changed("integrator") {
		cfg.Solver.Integrator = stepper
	}
	if flags.Changed("atol") {
		cfg.Solver.AbsTol = atol
	}
	if flags.Changed("rtol") {
		cfg.Solver.RelTol = rtol
	}
	if flags.Changed("max-steps") {
		cfg.Solver.MaxSteps = maxSteps
	}
	if flags.Changed("start") {
		cfg.Time.Start = tStart
	}
	if flags.Changed("stop") {
		cfg.Time.Stop = tStop
	}
	if flags.Changed("points") {
		cfg.Time.Points = points
	}
	if flags.Changed("cycles") {
		cfg.Cycle.Cycles = cycles
	}
	if flags.Changed("policy") {
		cfg.Cycle.Policy = policy
	}
	if flags.Changed("bounds") {
		cfg.Cycle.Bounds = bounds
	}

	if cfg.Params == nil {
		cfg.Params = map[string]float64{}
	}
	if cfg.Init == nil {
		cfg.Init = map[string]float64{}
	}
	if err := applyAssignments(cfg.Params, paramSets); err != nil {
		return nil, fmt.Errorf("--set: %w", err)
	}
	if err := applyAssignments(cfg.Init, initSets); err != nil {
		return nil, fmt.Errorf("--init: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyAssignments(dst map[string]float64, assignments []string) error {
	for _, a := range assignments {
		name, value, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("expected name=value, got %q", a)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		dst[strings.TrimSpace(name)] = v
	}
	return nil
}

// prepare reduces the model and builds solver options wired to the
// process logger and metrics recorder.
func prepare(cfg *config.Config) (*preprocess.ReducedSystem, solver.Options, error) {
	logger := slog.Default()
	sys, err := preprocess.Reduce(cfg.Input(logger))
	if err != nil {
		return nil, solver.Options{}, err
	}
	opts, err := cfg.SolverOptions(logger, recorder)
	if err != nil {
		return nil, solver.Options{}, err
	}
	return sys, opts, nil
}
