package integrators

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

func decayResidual(t float64, y, yp dynamo.State) (dynamo.State, error) {
	return dynamo.State{-y[0] - yp[0]}, nil
}

func TestSolveDAE_ODE(t *testing.T) {
	grid := dynamo.Linspace(0, 5, 51)

	sol, err := SolveDAE(context.Background(), decayResidual, dynamo.State{1}, dynamo.State{-1}, []bool{true}, grid,
		DAEOptions{AbsTol: 1e-8, RelTol: 1e-8})
	if err != nil {
		t.Fatalf("SolveDAE failed: %v", err)
	}
	if len(sol.Values) != len(grid) || len(sol.Derivatives) != len(grid) {
		t.Fatalf("got %d values, %d derivatives for %d grid points", len(sol.Values), len(sol.Derivatives), len(grid))
	}

	for k, tk := range grid {
		want := math.Exp(-tk)
		if math.Abs(sol.Values[k][0]-want) > 1e-5 {
			t.Errorf("t=%.2f: got %.8f, want %.8f", tk, sol.Values[k][0], want)
		}
	}
	if sol.Stats.Steps == 0 || sol.Stats.JacobianEvals == 0 {
		t.Errorf("unexpected stats %+v", sol.Stats)
	}
}

func TestJacobian_Linear(t *testing.T) {
	b := &bdf{n: 2, opts: DAEOptions{AbsTol: 1e-6, RelTol: 1e-6}}
	// G(y) = A*y with A = [[2, 1], [0, -3]]
	linear := func(y dynamo.State) (dynamo.State, error) {
		return dynamo.State{2*y[0] + y[1], -3 * y[1]}, nil
	}
	y := dynamo.State{0.5, 4}
	g, _ := linear(y)

	var lu mat.LU
	if err := b.jacobian(&lu, 0.1, y, dynamo.State{1, -1}, g, linear); err != nil {
		t.Fatalf("jacobian failed: %v", err)
	}
	if det := lu.Det(); math.Abs(det+6) > 1e-6 {
		t.Errorf("det = %v, want -6", det)
	}
	if b.stats.JacobianEvals != 1 {
		t.Errorf("JacobianEvals = %d", b.stats.JacobianEvals)
	}

	want := errors.New("residual blew up")
	failing := func(yy dynamo.State) (dynamo.State, error) {
		if yy[1] != y[1] {
			return nil, want
		}
		return linear(yy)
	}
	if err := b.jacobian(&lu, 0.1, y, dynamo.State{1, -1}, g, failing); !errors.Is(err, want) {
		t.Errorf("expected residual error, got %v", err)
	}
}

// y1' = -k*y1 with y1 + y2 = 1 held algebraically
func chainResidual(k float64) dynamo.Residual {
	return func(t float64, y, yp dynamo.State) (dynamo.State, error) {
		return dynamo.State{
			-k*y[0] - yp[0],
			y[0] + y[1] - 1,
		}, nil
	}
}

func TestSolveDAE_IndexOne(t *testing.T) {
	const k = 0.7
	grid := dynamo.Linspace(0, 4, 41)

	for _, suppress := range []bool{false, true} {
		sol, err := SolveDAE(context.Background(), chainResidual(k),
			dynamo.State{1, 0}, dynamo.State{-k, 0}, []bool{true, false}, grid,
			DAEOptions{AbsTol: 1e-8, RelTol: 1e-8, SuppressAlgebraicErrorTest: suppress})
		if err != nil {
			t.Fatalf("suppress=%v: SolveDAE failed: %v", suppress, err)
		}

		for i, tk := range grid {
			y := sol.Values[i]
			if math.Abs(y[0]+y[1]-1) > 1e-9 {
				t.Errorf("suppress=%v t=%.1f: constraint violated: %v", suppress, tk, y)
			}
			if math.Abs(y[1]-(1-math.Exp(-k*tk))) > 1e-5 {
				t.Errorf("suppress=%v t=%.1f: y2 = %.8f, want %.8f", suppress, tk, y[1], 1-math.Exp(-k*tk))
			}
		}

		last := sol.Derivatives[len(grid)-1]
		y1 := sol.Values[len(grid)-1][0]
		if math.Abs(last[0]+k*y1) > 1e-3 {
			t.Errorf("suppress=%v: y1' = %v, want %v", suppress, last[0], -k*y1)
		}
	}
}

func TestSolveDAE_ResidualError(t *testing.T) {
	cause := errors.New("negative concentration")
	res := func(t float64, y, yp dynamo.State) (dynamo.State, error) {
		if t > 0.3 {
			return nil, cause
		}
		return decayResidual(t, y, yp)
	}

	_, err := SolveDAE(context.Background(), res, dynamo.State{1}, dynamo.State{-1}, []bool{true}, dynamo.Linspace(0, 1, 11), DAEOptions{})
	if !errors.Is(err, dynamo.ErrIntegratorFailure) || !errors.Is(err, cause) {
		t.Errorf("expected integrator failure wrapping cause, got %v", err)
	}
}

func TestSolveDAE_MaxSteps(t *testing.T) {
	_, err := SolveDAE(context.Background(), decayResidual, dynamo.State{1}, dynamo.State{-1}, []bool{true},
		[]float64{0, 10}, DAEOptions{MaxSteps: 2})
	if !errors.Is(err, dynamo.ErrIntegratorFailure) {
		t.Errorf("expected ErrIntegratorFailure, got %v", err)
	}
}

func TestSolveDAE_DimensionMismatch(t *testing.T) {
	_, err := SolveDAE(context.Background(), decayResidual, dynamo.State{1}, dynamo.State{-1, 0}, []bool{true}, []float64{0, 1}, DAEOptions{})
	if !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}
