package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/signal"
	"github.com/san-kum/dsdyn/internal/viz"
)

func responseRun(cmd *cobra.Command, args []string) error {
	meta, traj, err := loadRun(args[0])
	if err != nil {
		return err
	}
	m, err := signal.ParseMethod(responseMethod)
	if err != nil {
		return err
	}

	times, err := signal.ResponseTimes(traj, vars, m, threshold)
	if err != nil {
		return err
	}

	names := vars
	if len(names) == 0 {
		names = traj.Order
	}

	fmt.Printf("response times: %s (%s, threshold %g)\n\n", meta.ID, m, threshold)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIABLE\tTIME\tTREND")
	for _, name := range names {
		series, _ := traj.Get(name)
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, viz.FormatValues(times[name]), viz.Sparkline(series, 24))
	}
	return w.Flush()
}

func phaseRun(cmd *cobra.Command, args []string) error {
	meta, traj, err := loadRun(args[0])
	if err != nil {
		return err
	}

	targets := vars
	if len(targets) == 0 {
		for _, name := range traj.Order {
			if name != reference {
				targets = append(targets, name)
			}
		}
	}

	mode := signal.ParseMode(phaseMode)
	shifts, err := signal.PhaseShifts(traj, reference, targets, mode, nil)
	if err != nil {
		return err
	}

	fmt.Printf("phase shifts against %s: %s (%s)\n\n", reference, meta.ID, mode)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIABLE\tSHIFT\tAMPLITUDE")
	for _, name := range targets {
		r := shifts[name]
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, viz.FormatValues(r.Shift), viz.FormatValues(r.Amplitude))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(portrait) == 0 {
		return nil
	}
	if len(portrait) != 2 {
		return fmt.Errorf("--portrait takes two variables, got %d", len(portrait))
	}
	xs, ok := traj.Get(portrait[0])
	if !ok {
		return fmt.Errorf("%w: no series %s", dynamo.ErrMissingValue, portrait[0])
	}
	ys, ok := traj.Get(portrait[1])
	if !ok {
		return fmt.Errorf("%w: no series %s", dynamo.ErrMissingValue, portrait[1])
	}
	out, err := viz.PhasePortrait(xs, ys, 60, 20)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(viz.Subtle.Render(fmt.Sprintf("%s vs %s", portrait[1], portrait[0])))
	fmt.Println(out)
	return nil
}
