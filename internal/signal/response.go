package signal

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

// SigFigs is the precision of every reported time and amplitude.
const SigFigs = 3

type Method int

const (
	// FinalMinusInitial targets the midpoint between the first and last
	// samples.
	FinalMinusInitial Method = iota
	// MaxMinusMin targets the midpoint between the series minimum and
	// maximum.
	MaxMinusMin
	// Custom reports one time for the initial excursion and one for the
	// return, or the same time twice when there is no return.
	Custom
	// BandPercent reports when the series last leaves the band
	// final*(1±fraction).
	BandPercent
	// BandAbsolute reports when the series last leaves the band
	// final ± |final-initial|*fraction.
	BandAbsolute
)

var methodNames = map[Method]string{
	FinalMinusInitial: "final-minus-initial",
	MaxMinusMin:       "max-minus-min",
	Custom:            "custom",
	BandPercent:       "band-percent",
	BandAbsolute:      "band-absolute",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("method(%d)", int(m))
}

func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(s)
	for m, name := range methodNames {
		if s == name {
			return m, nil
		}
	}
	return 0, &dynamo.UnsupportedConfigurationError{What: fmt.Sprintf("unknown response time method %q", s)}
}

// Methods returns every method name in declaration order.
func Methods() []string {
	out := make([]string, 0, len(methodNames))
	for m := FinalMinusInitial; m <= BandAbsolute; m++ {
		out = append(out, m.String())
	}
	return out
}

// ResponseTime measures series against time with the given method.
// fraction is the threshold used by Custom and the band methods. A level
// the series never crosses yields NaN, except for the band methods where
// a band that is never left counts as time 0.
func ResponseTime(time, series []float64, method Method, fraction float64) ([]float64, error) {
	if err := checkSeries(time, series); err != nil {
		return nil, err
	}
	if fraction < 0 || math.IsNaN(fraction) {
		return nil, &dynamo.UnsupportedConfigurationError{What: fmt.Sprintf("threshold fraction %g", fraction)}
	}

	first, last := series[0], series[len(series)-1]
	lo, hi := minMax(series)

	switch method {
	case FinalMinusInitial:
		level := math.Min(first, last) + math.Abs(first-last)/2
		return []float64{firstCrossing(time, series, level)}, nil

	case MaxMinusMin:
		level := lo + (hi-lo)/2
		return []float64{firstCrossing(time, series, level)}, nil

	case Custom:
		return custom(time, series, fraction, first, last, lo, hi), nil

	case BandPercent:
		return []float64{leaveBand(time, series, last*(1+fraction), last*(1-fraction))}, nil

	case BandAbsolute:
		d := math.Abs(last-first) * fraction
		return []float64{leaveBand(time, series, last+d, last-d)}, nil
	}
	return nil, &dynamo.UnsupportedConfigurationError{What: "response time method " + method.String()}
}

func custom(time, series []float64, fraction, first, last, lo, hi float64) []float64 {
	span := hi - lo
	var a, b float64
	if (first == lo || first > last) && hi != first {
		// rises to a peak, possibly falls back
		a = firstCrossing(time, series, first+(hi-first)/2)
		b = a
		if hi-last > fraction*span {
			b = secondCrossing(time, series, last+(hi-last)/2)
		}
	} else {
		// falls to a trough, possibly recovers
		a = firstCrossing(time, series, first-(first-lo)/2)
		b = a
		if last-lo > fraction*span {
			b = secondCrossing(time, series, lo+(last-lo)/2)
		}
	}
	return []float64{a, b}
}

// leaveBand returns the later of the last crossings of the two band edges.
func leaveBand(time, series []float64, upper, lower float64) float64 {
	t := 0.0
	for _, level := range []float64{upper, lower} {
		if c := FindCrossings(time, series, level); len(c) > 0 {
			t = math.Max(t, c[len(c)-1])
		}
	}
	return t
}

func firstCrossing(time, series []float64, level float64) float64 {
	c := FindCrossings(time, series, level)
	if len(c) == 0 {
		return math.NaN()
	}
	return c[0]
}

// secondCrossing prefers the second crossing, since the first usually
// belongs to the initial excursion.
func secondCrossing(time, series []float64, level float64) float64 {
	c := FindCrossings(time, series, level)
	switch {
	case len(c) >= 2:
		return c[1]
	case len(c) == 1:
		return c[0]
	}
	return math.NaN()
}

// FindCrossings returns every time series passes through level, in order.
// A crossing is counted on the interval whose right sample reaches the
// level, so a sample sitting exactly on it is reported once.
func FindCrossings(time, series []float64, level float64) []float64 {
	var out []float64
	for i := 1; i < len(series) && i < len(time); i++ {
		y0, y1 := series[i-1], series[i]
		up := y0 < level && y1 >= level
		down := y0 > level && y1 <= level
		if up || down {
			out = append(out, RoundSig(InterpolateCrossing(time[i-1], time[i], y0, y1, level), SigFigs))
		}
	}
	return out
}

// InterpolateCrossing returns the time at which the line through (t0, y0)
// and (t1, y1) reaches level.
func InterpolateCrossing(t0, t1, y0, y1, level float64) float64 {
	if y1 == y0 {
		return t0
	}
	return t0 + (level-y0)*(t1-t0)/(y1-y0)
}

// RoundSig rounds x to n significant figures.
func RoundSig(x float64, n int) float64 {
	if x == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	digits := n - 1 - int(math.Floor(math.Log10(math.Abs(x))))
	if digits < 0 {
		scale := math.Pow(10, float64(-digits))
		return math.Round(x/scale) * scale
	}
	scale := math.Pow(10, float64(digits))
	return math.Round(x*scale) / scale
}

func minMax(xs []float64) (float64, float64) {
	lo, hi := xs[0], xs[0]
	for _, v := range xs[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func checkSeries(time, series []float64) error {
	if err := dynamo.ValidateGrid(time); err != nil {
		return err
	}
	if len(series) != len(time) {
		return fmt.Errorf("%w: series has %d samples, time has %d",
			dynamo.ErrDimensionMismatch, len(series), len(time))
	}
	return nil
}
