package metrics

import (
	"math"

	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/expr"
)

// ConstraintViolation tracks the largest absolute value any conservation
// zero form takes along a trajectory.
type ConstraintViolation struct {
	name        string
	constraints []expr.Expression
	maxAbs      float64
	failed      bool
}

func NewConstraintViolation(constraints []expr.Expression) *ConstraintViolation {
	return &ConstraintViolation{
		name:        "constraint_violation",
		constraints: constraints,
	}
}

func (c *ConstraintViolation) Name() string { return c.name }

func (c *ConstraintViolation) Observe(t float64, row dynamo.Environment) {
	for _, g := range c.constraints {
		v, err := g.Eval(row)
		if err != nil {
			c.failed = true
			continue
		}
		c.maxAbs = math.Max(c.maxAbs, math.Abs(v))
	}
}

// Value is NaN when a constraint could not be evaluated on some row.
func (c *ConstraintViolation) Value() float64 {
	if c.failed {
		return math.NaN()
	}
	return c.maxAbs
}

func (c *ConstraintViolation) Reset() {
	c.maxAbs = 0
	c.failed = false
}

// TotalDrift is the largest relative change of the sum of the named
// variables from its first observed value.
type TotalDrift struct {
	name     string
	vars     []string
	initial  float64
	maxDrift float64
	samples  int
}

func NewTotalDrift(vars []string) *TotalDrift {
	return &TotalDrift{
		name: "total_drift",
		vars: vars,
	}
}

func (d *TotalDrift) Name() string { return d.name }

func (d *TotalDrift) Observe(t float64, row dynamo.Environment) {
	total := 0.0
	for _, v := range d.vars {
		total += row[v]
	}

	if d.samples == 0 {
		d.initial = total
	}
	d.samples++

	if d.initial != 0 {
		drift := math.Abs(total-d.initial) / math.Abs(d.initial)
		d.maxDrift = math.Max(d.maxDrift, drift)
	}
}

func (d *TotalDrift) Value() float64 {
	return d.maxDrift
}

func (d *TotalDrift) Reset() {
	d.initial = 0
	d.maxDrift = 0
	d.samples = 0
}
