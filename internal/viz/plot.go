package viz

import (
	"fmt"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

var seriesColors = []asciigraph.AnsiColor{
	asciigraph.Cyan,
	asciigraph.Yellow,
	asciigraph.Green,
	asciigraph.Magenta,
	asciigraph.Red,
	asciigraph.Blue,
}

type ChartOptions struct {
	Height  int
	Width   int
	Caption string
}

// Chart plots the named series of traj against sample index. An empty
// names list plots every series.
func Chart(traj *dynamo.Trajectory, names []string, opts ChartOptions) (string, error) {
	if len(names) == 0 {
		names = traj.Order
	}
	if len(names) == 0 || traj.Len() == 0 {
		return "", fmt.Errorf("%w: nothing to plot", dynamo.ErrMissingValue)
	}
	if opts.Height <= 0 {
		opts.Height = 10
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}

	data := make([][]float64, len(names))
	colors := make([]asciigraph.AnsiColor, len(names))
	for i, name := range names {
		s, ok := traj.Get(name)
		if !ok {
			return "", fmt.Errorf("%w: no series %s", dynamo.ErrMissingValue, name)
		}
		data[i] = s
		colors[i] = seriesColors[i%len(seriesColors)]
	}

	caption := opts.Caption
	if caption == "" {
		caption = fmt.Sprintf("t = %g .. %g", traj.Times[0], traj.Times[traj.Len()-1])
	}

	return asciigraph.PlotMany(data,
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(colors...),
		asciigraph.SeriesLegends(names...),
	), nil
}
