package viz

import "fmt"

// PhasePortrait plots ys against xs on a width x height cell canvas,
// joining consecutive samples. The ranges are padded by 10% and the axes
// are drawn where they fall inside them.
func PhasePortrait(xs, ys []float64, width, height int) (string, error) {
	if len(xs) != len(ys) {
		return "", fmt.Errorf("phase portrait: %d x values, %d y values", len(xs), len(ys))
	}
	if len(xs) == 0 || width <= 0 || height <= 0 {
		return "", nil
	}

	c := NewCanvas(width, height)
	c.Fit(xs, ys, 0.1)
	c.Axes()
	c.Polyline(xs, ys)
	return c.String(), nil
}
