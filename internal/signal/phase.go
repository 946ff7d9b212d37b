package signal

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Detector returns the ascending indices of the local maxima of series,
// or of its local minima when valleys is set.
type Detector func(series []float64, valleys bool) []int

// Mode selects how matched peak pairs are aggregated.
type Mode int

const (
	// Mean reports the mean of all matched values, NaN when none matched.
	Mean Mode = iota
	// Legend reports the sorted set of distinct matched values.
	Legend
)

func (m Mode) String() string {
	if m == Legend {
		return "legend"
	}
	return "mean"
}

// ParseMode maps "legend" to Legend and anything else to Mean.
func ParseMode(s string) Mode {
	if strings.EqualFold(s, "legend") {
		return Legend
	}
	return Mean
}

// PhaseResult holds phase shifts and amplitudes. In Mean mode each slice
// has exactly one element.
type PhaseResult struct {
	Shift     []float64
	Amplitude []float64
}

// PhaseShift pairs each peak of ref with the nearest preceding peak of
// target and reports their time difference. Amplitudes pair each target
// peak with the nearest preceding target valley. A nil detector means
// DetectExtrema.
func PhaseShift(time, ref, target []float64, mode Mode, detector Detector) (PhaseResult, error) {
	if err := checkSeries(time, ref); err != nil {
		return PhaseResult{}, err
	}
	if err := checkSeries(time, target); err != nil {
		return PhaseResult{}, err
	}
	if detector == nil {
		detector = DetectExtrema
	}

	refPeaks := detector(ref, false)
	peaks := detector(target, false)
	valleys := detector(target, true)

	var shifts, amps []float64
	for _, r := range refPeaks {
		if p, ok := preceding(peaks, r); ok {
			shifts = append(shifts, RoundSig(time[r]-time[p], SigFigs))
		}
	}
	for _, p := range peaks {
		if v, ok := preceding(valleys, p); ok {
			amps = append(amps, RoundSig(target[p]-target[v], SigFigs))
		}
	}

	return PhaseResult{
		Shift:     aggregate(shifts, mode),
		Amplitude: aggregate(amps, mode),
	}, nil
}

// preceding returns the largest index in sorted idx that is at most i.
func preceding(idx []int, i int) (int, bool) {
	k := sort.SearchInts(idx, i+1)
	if k == 0 {
		return 0, false
	}
	return idx[k-1], true
}

func aggregate(values []float64, mode Mode) []float64 {
	if mode == Legend {
		set := make([]float64, 0, len(values))
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		for i, v := range sorted {
			if i == 0 || v != sorted[i-1] {
				set = append(set, v)
			}
		}
		return set
	}
	if len(values) == 0 {
		return []float64{math.NaN()}
	}
	return []float64{stat.Mean(values, nil)}
}

// DetectExtrema finds strict local maxima of series (minima when valleys
// is set). A flat top is reported once, at its middle sample. Endpoints
// are never extrema.
func DetectExtrema(series []float64, valleys bool) []int {
	sign := 1.0
	if valleys {
		sign = -1
	}
	var out []int
	n := len(series)
	for i := 1; i < n-1; {
		if !(sign*series[i] > sign*series[i-1]) {
			i++
			continue
		}
		j := i
		for j+1 < n-1 && series[j+1] == series[i] {
			j++
		}
		if sign*series[j+1] < sign*series[i] {
			out = append(out, (i+j)/2)
		}
		i = j + 1
	}
	return out
}
