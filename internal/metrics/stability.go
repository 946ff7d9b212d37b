package metrics

import (
	"math"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

// Stability is the fraction of rows in which every tracked variable stays
// within [floor, threshold]. Concentration-like systems use floor = 0 to
// catch integrator undershoot.
type Stability struct {
	name       string
	vars       []string
	floor      float64
	threshold  float64
	violations int
	samples    int
}

func NewStability(vars []string, floor, threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		vars:      vars,
		floor:     floor,
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(t float64, row dynamo.Environment) {
	s.samples++
	for _, name := range s.vars {
		val := row[name]
		if math.IsNaN(val) || val < s.floor || val > s.threshold {
			s.violations++
			break
		}
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
