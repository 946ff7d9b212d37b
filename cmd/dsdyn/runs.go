package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/dsdyn/internal/config"
	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/signal"
	"github.com/san-kum/dsdyn/internal/storage"
	"github.com/san-kum/dsdyn/internal/viz"
)

// loadRun reads a stored run's metadata and trajectory.
func loadRun(runID string) (*storage.RunMetadata, *dynamo.Trajectory, error) {
	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return nil, nil, err
	}
	traj, err := st.LoadTrajectory(runID)
	if err != nil {
		return nil, nil, err
	}
	return meta, traj, nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tMETHOD\tINTEG\tCYCLES")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			run.ID,
			run.Model,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			run.Method,
			run.Integrator,
			run.Cycles,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	meta, traj, err := loadRun(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", traj.Len())

	chart, err := viz.Chart(traj, plotVars, viz.ChartOptions{Height: plotHeight, Width: plotWidth})
	if err != nil {
		return err
	}
	fmt.Println(chart)
	return nil
}

// output returns stdout or the --out file.
func output() (io.WriteCloser, error) {
	if outFile == "" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(outFile)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func exportCSV(cmd *cobra.Command, args []string) error {
	_, traj, err := loadRun(args[0])
	if err != nil {
		return err
	}

	w, err := output()
	if err != nil {
		return err
	}
	if err := storage.WriteCSV(w, traj); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func exportJSON(cmd *cobra.Command, args []string) error {
	meta, traj, err := loadRun(args[0])
	if err != nil {
		return err
	}

	var response map[string][]float64
	if withResponse {
		m, err := signal.ParseMethod(responseMethod)
		if err != nil {
			return err
		}
		response, err = signal.ResponseTimes(traj, nil, m, threshold)
		if err != nil {
			return err
		}
	}

	w, err := output()
	if err != nil {
		return err
	}
	if err := storage.ExportJSON(w, meta.Model, meta.Method, traj, response); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func listPresets(cmd *cobra.Command, args []string) error {
	models := config.ListModels()
	if len(args) == 1 {
		if !slices.Contains(models, args[0]) {
			return fmt.Errorf("unknown model %q (have %s)", args[0], strings.Join(models, ", "))
		}
		models = args[:1]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tPRESET\tMETHOD\tEQUATIONS\tCONSERVATIONS")
	for _, model := range models {
		for _, name := range config.ListPresets(model) {
			cfg := config.GetPreset(model, name)
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
				model, name, cfg.Solver.Method, len(cfg.Equations), cfg.Conservations)
		}
	}
	return w.Flush()
}
