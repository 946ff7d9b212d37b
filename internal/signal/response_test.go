package signal

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

func seq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func sameFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.IsNaN(a[i]) && math.IsNaN(b[i]) {
			continue
		}
		if math.Abs(a[i]-b[i]) > 1e-12 {
			return false
		}
	}
	return true
}

func TestResponseTime(t *testing.T) {
	peak := []float64{0, 1, 2, 3, 2, 1, 0}
	settle := []float64{0, 1.5, 0.8, 1.05, 1.0}

	tests := []struct {
		name     string
		time     []float64
		series   []float64
		method   Method
		fraction float64
		want     []float64
	}{
		{"ramp midpoint", seq(11), seq(11), FinalMinusInitial, 0, []float64{5}},
		{"falling ramp", seq(5), []float64{8, 6, 4, 2, 0}, FinalMinusInitial, 0, []float64{2}},
		{"max minus min interpolates", seq(7), peak, MaxMinusMin, 0, []float64{1.5}},
		{"custom rise and fall", seq(7), peak, Custom, 0.1, []float64{1.5, 4.5}},
		{"custom rise only", seq(6), []float64{0, 1, 2, 3, 3, 3}, Custom, 0.1, []float64{1.5, 1.5}},
		{"custom fall and recover", seq(7), []float64{3, 2, 1, 0, 1, 2, 3}, Custom, 0.1, []float64{1.5, 4.5}},
		{"band percent", seq(5), settle, BandPercent, 0.1, []float64{2.4}},
		{"band absolute", seq(5), settle, BandAbsolute, 0.1, []float64{2.4}},
		{"flat never crosses", seq(3), []float64{1, 1, 1}, FinalMinusInitial, 0, []float64{math.NaN()}},
		{"flat never leaves band", seq(3), []float64{1, 1, 1}, BandPercent, 0.1, []float64{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResponseTime(tt.time, tt.series, tt.method, tt.fraction)
			if err != nil {
				t.Fatalf("ResponseTime failed: %v", err)
			}
			if !sameFloats(got, tt.want) {
				t.Errorf("ResponseTime = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResponseTime_Errors(t *testing.T) {
	tests := []struct {
		name   string
		time   []float64
		series []float64
		method Method
		frac   float64
		want   error
	}{
		{"length mismatch", seq(3), seq(4), MaxMinusMin, 0, dynamo.ErrDimensionMismatch},
		{"single point", []float64{0}, []float64{1}, MaxMinusMin, 0, dynamo.ErrInvalidTimeGrid},
		{"unsorted time", []float64{0, 2, 1}, seq(3), MaxMinusMin, 0, dynamo.ErrInvalidTimeGrid},
		{"unknown method", seq(3), seq(3), Method(42), 0, dynamo.ErrUnsupportedConfiguration},
		{"negative fraction", seq(3), seq(3), BandPercent, -0.1, dynamo.ErrUnsupportedConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResponseTime(tt.time, tt.series, tt.method, tt.frac)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFindCrossings(t *testing.T) {
	got := FindCrossings(seq(7), []float64{0, 1, 2, 3, 2, 1, 0}, 1.5)
	if !sameFloats(got, []float64{1.5, 4.5}) {
		t.Errorf("FindCrossings = %v, want [1.5 4.5]", got)
	}
	// max-minus-min reports only the first of the bracketing crossings
	rt, err := ResponseTime(seq(7), []float64{0, 1, 2, 3, 2, 1, 0}, MaxMinusMin, 0.5)
	if err != nil || !sameFloats(rt, []float64{1.5}) {
		t.Errorf("MaxMinusMin = %v (%v), want [1.5]", rt, err)
	}

	// a sample exactly on the level counts once
	got = FindCrossings(seq(3), []float64{0, 1, 2}, 1)
	if !sameFloats(got, []float64{1}) {
		t.Errorf("FindCrossings on sample = %v, want [1]", got)
	}

	if got := FindCrossings(seq(3), []float64{0, 0.5, 0.2}, 1); len(got) != 0 {
		t.Errorf("expected no crossings, got %v", got)
	}
}

func TestInterpolateCrossing(t *testing.T) {
	if got := InterpolateCrossing(0, 2, 0, 4, 1); got != 0.5 {
		t.Errorf("InterpolateCrossing = %v, want 0.5", got)
	}
	if got := InterpolateCrossing(3, 4, 2, 2, 2); got != 3 {
		t.Errorf("flat segment = %v, want 3", got)
	}
}

func TestRoundSig(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1234.5, 1230},
		{0.0012345, 0.00123},
		{-2.346, -2.35},
		{0.49999999999999978, 0.5},
		{5, 5},
		{0, 0},
	}
	for _, tt := range tests {
		if got := RoundSig(tt.in, 3); got != tt.want {
			t.Errorf("RoundSig(%v, 3) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if !math.IsNaN(RoundSig(math.NaN(), 3)) {
		t.Error("RoundSig(NaN) should stay NaN")
	}
}

func TestParseMethod(t *testing.T) {
	for _, name := range Methods() {
		m, err := ParseMethod(name)
		if err != nil {
			t.Fatalf("ParseMethod(%q): %v", name, err)
		}
		if m.String() != name {
			t.Errorf("round trip %q -> %q", name, m.String())
		}
	}
	if _, err := ParseMethod("rise-time"); !errors.Is(err, dynamo.ErrUnsupportedConfiguration) {
		t.Errorf("expected ErrUnsupportedConfiguration, got %v", err)
	}
}
