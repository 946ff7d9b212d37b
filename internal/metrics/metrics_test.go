package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/expr"
)

func closedTrajectory() *dynamo.Trajectory {
	tr := dynamo.NewTrajectory([]float64{0, 1, 2})
	tr.Set("A", []float64{1, 0.6, 0.5})
	tr.Set("B", []float64{0, 0.4, 0.52})
	return tr
}

func TestConstraintViolation(t *testing.T) {
	m := NewConstraintViolation([]expr.Expression{expr.MustParse("A + B - T")})

	got := Evaluate(closedTrajectory(), dynamo.Environment{"T": 1}, m)
	if math.Abs(got["constraint_violation"]-0.02) > 1e-12 {
		t.Errorf("constraint_violation = %v, want 0.02", got["constraint_violation"])
	}

	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestConstraintViolation_MissingValue(t *testing.T) {
	m := NewConstraintViolation([]expr.Expression{expr.MustParse("A + B - T")})

	got := Evaluate(closedTrajectory(), nil, m)
	if !math.IsNaN(got["constraint_violation"]) {
		t.Errorf("expected NaN when T is missing, got %v", got["constraint_violation"])
	}
}

func TestTotalDrift(t *testing.T) {
	m := NewTotalDrift([]string{"A", "B"})

	got := Evaluate(closedTrajectory(), nil, m)
	if math.Abs(got["total_drift"]-0.02) > 1e-12 {
		t.Errorf("total_drift = %v, want 0.02", got["total_drift"])
	}
}

func TestStability(t *testing.T) {
	tr := dynamo.NewTrajectory([]float64{0, 1, 2, 3})
	tr.Set("X", []float64{0.5, -0.01, 0.2, 2})

	m := NewStability([]string{"X"}, 0, 1)
	got := Evaluate(tr, nil, m)
	if got["stability"] != 0.5 {
		t.Errorf("stability = %v, want 0.5", got["stability"])
	}

	m.Reset()
	if m.Value() != 1.0 {
		t.Error("expected 1.0 after reset")
	}
}
