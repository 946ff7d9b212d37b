package viz

import (
	"math"
	"strings"
)

const brailleBlank = 0x2800

// brailleDots[col][row] is the dot bit for a position inside one 2x4
// Braille cell.
var brailleDots = [2][4]rune{
	{0x01, 0x02, 0x04, 0x40},
	{0x08, 0x10, 0x20, 0x80},
}

// Canvas maps a rectangular data window onto a grid of Braille cells.
// A canvas of cols x rows cells has (2*cols) x (4*rows) dots.
type Canvas struct {
	cols, rows int
	cells      []rune

	minX, maxX float64
	minY, maxY float64
}

// NewCanvas returns a blank canvas whose window is the unit square.
func NewCanvas(cols, rows int) *Canvas {
	c := &Canvas{
		cols:  cols,
		rows:  rows,
		cells: make([]rune, cols*rows),
		maxX:  1,
		maxY:  1,
	}
	for i := range c.cells {
		c.cells[i] = brailleBlank
	}
	return c
}

// PixelSize returns the canvas size in dots.
func (c *Canvas) PixelSize() (int, int) {
	return 2 * c.cols, 4 * c.rows
}

// Window sets the data range shown. A degenerate range is widened to unit
// width around its value.
func (c *Canvas) Window(minX, maxX, minY, maxY float64) {
	if !(maxX > minX) {
		minX, maxX = minX-0.5, minX+0.5
	}
	if !(maxY > minY) {
		minY, maxY = minY-0.5, minY+0.5
	}
	c.minX, c.maxX, c.minY, c.maxY = minX, maxX, minY, maxY
}

// Fit sets the window to the range of xs and ys, grown by pad times the
// range on every side.
func (c *Canvas) Fit(xs, ys []float64, pad float64) {
	loX, hiX := span(xs)
	loY, hiY := span(ys)
	padX, padY := pad*(hiX-loX), pad*(hiY-loY)
	if padX == 0 {
		padX = pad
	}
	if padY == 0 {
		padY = pad
	}
	c.Window(loX-padX, hiX+padX, loY-padY, hiY+padY)
}

// Set lights the dot at (px, py), origin top left. Dots off the canvas
// are dropped.
func (c *Canvas) Set(px, py int) {
	w, h := c.PixelSize()
	if px < 0 || py < 0 || px >= w || py >= h {
		return
	}
	c.cells[(py/4)*c.cols+px/2] |= brailleDots[px%2][py%4]
}

// pixel converts a data point to dot coordinates; y grows upwards in
// data space and downwards on screen.
func (c *Canvas) pixel(x, y float64) (int, int) {
	w, h := c.PixelSize()
	fx := (x - c.minX) / (c.maxX - c.minX)
	fy := (y - c.minY) / (c.maxY - c.minY)
	return int(math.Round(fx * float64(w-1))), h - 1 - int(math.Round(fy*float64(h-1)))
}

// Point lights the dot nearest to the data point (x, y).
func (c *Canvas) Point(x, y float64) {
	c.Set(c.pixel(x, y))
}

// Segment joins two data points with a straight run of dots.
func (c *Canvas) Segment(x0, y0, x1, y1 float64) {
	ax, ay := c.pixel(x0, y0)
	bx, by := c.pixel(x1, y1)
	n := max(abs(bx-ax), abs(by-ay))
	if n == 0 {
		c.Set(ax, ay)
		return
	}
	for i := 0; i <= n; i++ {
		f := float64(i) / float64(n)
		c.Set(ax+int(math.Round(f*float64(bx-ax))), ay+int(math.Round(f*float64(by-ay))))
	}
}

// Polyline joins consecutive points of xs and ys. NaN samples break the
// line.
func (c *Canvas) Polyline(xs, ys []float64) {
	prev := -1
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			prev = -1
			continue
		}
		if prev < 0 {
			c.Point(xs[i], ys[i])
		} else {
			c.Segment(xs[prev], ys[prev], xs[i], ys[i])
		}
		prev = i
	}
}

// Axes draws x = 0 and y = 0 where they fall inside the window.
func (c *Canvas) Axes() {
	if c.minX <= 0 && c.maxX >= 0 {
		c.Segment(0, c.minY, 0, c.maxY)
	}
	if c.minY <= 0 && c.maxY >= 0 {
		c.Segment(c.minX, 0, c.maxX, 0)
	}
}

func (c *Canvas) String() string {
	var b strings.Builder
	for r := 0; r < c.rows; r++ {
		b.WriteString(string(c.cells[r*c.cols : (r+1)*c.cols]))
		b.WriteByte('\n')
	}
	return b.String()
}

// span returns the smallest and largest finite values of vs.
func span(vs []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
