package preprocess

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/expr"
)

// three-state closed chain X1 <-> X2 <-> X3 with total pool 1
var chain = []string{
	"X1. = -V + k2*X2",
	"X2. = V - k2*X2 - k3*X2 + k4*X3",
	"X3. = k3*X2 - k4*X3",
	"V = k1*X1",
	"Xc1 = X1 + X2 + X3 - 1",
}

var chainParams = dynamo.Environment{"k1": 1, "k2": 0.5, "k3": 2, "k4": 0.25}

func TestReduce_NoConservation(t *testing.T) {
	sys, err := Reduce(Input{
		Equations: []string{"X. = -k*W", "W = 2*V", "V = X^2"},
		Auxiliary: []string{"W", "V"},
	})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if sys.HasConservation() {
		t.Error("unexpected conservation map")
	}
	if got := sys.StateNames(); !reflect.DeepEqual(got, []string{"X"}) {
		t.Errorf("StateNames = %v", got)
	}

	rhs := sys.StateEquations[0].RHS
	if got := rhs.Variables(); !reflect.DeepEqual(got, []string{"X", "k"}) {
		t.Errorf("auxiliary names survived substitution: %v", got)
	}
	v, err := rhs.Eval(dynamo.Environment{"X": 3, "k": 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if v != -9 {
		t.Errorf("rhs(3) = %v, want -9", v)
	}

	if len(sys.Auxiliary) != 2 || sys.Auxiliary[0].Name != "W" {
		t.Fatalf("Auxiliary = %v", sys.Auxiliary)
	}
	if got := sys.Auxiliary[0].RHS.Variables(); !reflect.DeepEqual(got, []string{"X"}) {
		t.Errorf("W not fully resolved: %v", got)
	}
}

func TestReduce_AuxiliarySubstitutionIdempotent(t *testing.T) {
	sys, err := Reduce(Input{Equations: chain, Auxiliary: []string{"V"}, Conservations: 1})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}

	aux := make(map[string]expr.Expression)
	for _, a := range sys.Auxiliary {
		aux[a.Name] = a.RHS
	}
	for _, eq := range sys.StateEquations {
		again := eq.RHS.Subst(aux)
		if again.String() != eq.RHS.String() {
			t.Errorf("%s: second substitution changed %q to %q", eq.Name, eq.RHS, again)
		}
	}
}

func TestReduce_AuxiliaryCycle(t *testing.T) {
	_, err := Reduce(Input{
		Equations: []string{"X. = -A", "A = B + 1", "B = 2*A"},
	})
	if !errors.Is(err, dynamo.ErrAuxiliaryCycle) {
		t.Fatalf("expected ErrAuxiliaryCycle, got %v", err)
	}

	var ce *dynamo.AuxiliaryCycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *AuxiliaryCycleError, got %T", err)
	}
	if !reflect.DeepEqual(ce.Cycle, []string{"A", "B", "A"}) {
		t.Errorf("Cycle = %v", ce.Cycle)
	}
}

func TestReduce_SelfReferencingAuxiliary(t *testing.T) {
	_, err := Reduce(Input{Equations: []string{"X. = -A", "A = A*X"}})
	if !errors.Is(err, dynamo.ErrAuxiliaryCycle) {
		t.Fatalf("expected ErrAuxiliaryCycle, got %v", err)
	}
}

func TestReduce_ConservationMap(t *testing.T) {
	sys, err := Reduce(Input{Equations: chain, Auxiliary: []string{"V"}, Conservations: 1})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}

	if !reflect.DeepEqual(sys.ConservedVariableOrder, []string{"X1"}) {
		t.Fatalf("ConservedVariableOrder = %v", sys.ConservedVariableOrder)
	}
	if got := sys.StateNames(); !reflect.DeepEqual(got, []string{"X2", "X3"}) {
		t.Errorf("StateNames = %v", got)
	}
	if got := sys.Dependent(); !reflect.DeepEqual(got, []string{"X2", "X3", "X1"}) {
		t.Errorf("Dependent = %v", got)
	}
	if len(sys.StateEquations)+len(sys.ConservedVariableOrder) != sys.DependentCount() {
		t.Error("state + conserved count does not match dependent count")
	}

	entry := sys.ConservationMap["X1"]
	if entry.Coefficient != 1 {
		t.Errorf("Coefficient = %v, want 1", entry.Coefficient)
	}

	for _, st := range []dynamo.Environment{
		{"X2": 0.2, "X3": 0.3},
		{"X2": 0.7, "X3": 0.05},
		{"X2": 0, "X3": 1},
	} {
		env := chainParams.Merge(st)
		x1, err := entry.Eval(env)
		if err != nil {
			t.Fatal(err)
		}
		env["X1"] = x1

		residual, err := sys.Constraints()[0].Eval(env)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(residual) > 1e-12 {
			t.Errorf("constraint residual %v at %v", residual, env)
		}
	}
}

func TestReduce_ConservationCoefficientAndFactor(t *testing.T) {
	sys, err := Reduce(Input{
		Equations: []string{
			"X1. = -k*X1",
			"X2. = k*X1",
			"Xc1 = 2*X1*k + X2 - T",
		},
		Conservations: 1,
	})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}

	entry := sys.ConservationMap["X1"]
	if entry.Coefficient != 2 {
		t.Errorf("Coefficient = %v, want 2", entry.Coefficient)
	}

	env := dynamo.Environment{"X2": 1, "T": 5, "k": 0.5}
	got, err := entry.Eval(env)
	if err != nil {
		t.Fatal(err)
	}
	want := (5.0 - 1.0) / (2 * 0.5)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("X1 = %v, want %v", got, want)
	}
}

func TestReduce_TwoConservationsBackSubstitute(t *testing.T) {
	sys, err := Reduce(Input{
		Equations: []string{
			"X1. = -X1",
			"X2. = X1 - X2",
			"X3. = X2",
			"X4. = X3",
			"Xc1 = X1 + X2 - A",
			"Xc2 = X2 + X3 + X4 - B",
		},
		Conservations: 2,
	})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}

	if !reflect.DeepEqual(sys.ConservedVariableOrder, []string{"X1", "X2"}) {
		t.Fatalf("ConservedVariableOrder = %v", sys.ConservedVariableOrder)
	}

	// X1 must be computable without X2, which is itself conserved.
	env := dynamo.Environment{"X3": 0.25, "X4": 0.5, "A": 2, "B": 1}
	x2, err := sys.ConservationMap["X2"].Eval(env)
	if err != nil {
		t.Fatal(err)
	}
	x1, err := sys.ConservationMap["X1"].Eval(env)
	if err != nil {
		t.Fatalf("X1 still depends on a conserved variable: %v", err)
	}
	if math.Abs(x2-0.25) > 1e-12 || math.Abs(x1-1.75) > 1e-12 {
		t.Errorf("X1, X2 = %v, %v; want 1.75, 0.25", x1, x2)
	}
}

func TestReduce_EliminateOverride(t *testing.T) {
	sys, err := Reduce(Input{
		Equations:     chain,
		Auxiliary:     []string{"V"},
		Conservations: 1,
		Eliminate:     []string{"X3"},
	})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if !reflect.DeepEqual(sys.ConservedVariableOrder, []string{"X3"}) {
		t.Errorf("ConservedVariableOrder = %v", sys.ConservedVariableOrder)
	}
	if got := sys.StateNames(); !reflect.DeepEqual(got, []string{"X1", "X2"}) {
		t.Errorf("StateNames = %v", got)
	}
}

func TestReduce_ConservationErrors(t *testing.T) {
	tests := []struct {
		name      string
		equations []string
		n         int
		index     int
	}{
		{
			name:      "no state variable",
			equations: []string{"X1. = -X1", "X2. = X1", "Xc1 = k - 1"},
			n:         1,
			index:     2,
		},
		{
			name:      "two states in one term",
			equations: []string{"X1. = -X1", "X2. = X1", "Xc1 = X1*X2 - 1"},
			n:         1,
			index:     2,
		},
		{
			name:      "nonlinear in selected variable",
			equations: []string{"X1. = -X1", "X2. = X1", "Xc1 = X1^2 + X2 - 1"},
			n:         1,
			index:     2,
		},
		{
			name:      "variable in two terms",
			equations: []string{"X1. = -X1", "X2. = X1", "Xc1 = X1 + k*X1 + X2"},
			n:         1,
			index:     2,
		},
		{
			name:      "variable inside group",
			equations: []string{"X1. = -X1", "X2. = X1", "Xc1 = X1 + (X1 + X2)^2"},
			n:         1,
			index:     2,
		},
		{
			name:      "no other terms",
			equations: []string{"X1. = -X1", "X2. = X1", "Xc1 = X1"},
			n:         1,
			index:     2,
		},
		{
			name:      "variables run out",
			equations: []string{"X1. = -X1", "Xc1 = X1 - 1", "Xc2 = X1 - 2"},
			n:         2,
			index:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reduce(Input{Equations: tt.equations, Conservations: tt.n})
			if !errors.Is(err, dynamo.ErrConservationParse) {
				t.Fatalf("expected ErrConservationParse, got %v", err)
			}
			var pe *dynamo.ConservationParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ConservationParseError, got %T", err)
			}
			if pe.Index != tt.index {
				t.Errorf("Index = %d, want %d", pe.Index, tt.index)
			}
		})
	}
}

func TestReduce_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"too many conservations", Input{Equations: []string{"X. = -X"}, Conservations: 2}},
		{"reserved name", Input{Equations: []string{"Xc1. = -Xc1", "X. = 1", "Xc1 = X - 1"}, Conservations: 1}},
		{"undeclared auxiliary", Input{Equations: []string{"X. = -X"}, Auxiliary: []string{"Y"}}},
		{"duplicate definition", Input{Equations: []string{"X. = -X", "X. = X"}}},
		{"compound lhs", Input{Equations: []string{"X. = -X", "2*Y = X"}}},
		{"eliminate length", Input{Equations: chain, Conservations: 1, Eliminate: []string{"X1", "X2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Reduce(tt.in); !errors.Is(err, dynamo.ErrInvalidSystem) {
				t.Errorf("expected ErrInvalidSystem, got %v", err)
			}
		})
	}
}

func TestReduce_SyntaxError(t *testing.T) {
	_, err := Reduce(Input{Equations: []string{"X. = -X +"}})
	if !errors.Is(err, expr.ErrSyntax) {
		t.Errorf("expected expr.ErrSyntax, got %v", err)
	}
}
