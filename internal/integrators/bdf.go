package integrators

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

const (
	bdfMethod      = "bdf"
	newtonMaxIters = 4
	newtonTol      = 0.1
	maxGrowth      = 2.0
	minShrink      = 0.2
	bdfSafety      = 0.9
)

var (
	errNewton   = errors.New("newton iteration did not converge")
	errSingular = errors.New("singular iteration matrix")
)

type DAEOptions struct {
	AbsTol float64
	RelTol float64
	// MaxSteps bounds the internal steps between two grid points.
	MaxSteps int
	// SuppressAlgebraicErrorTest leaves algebraic components out of the
	// local error test.
	SuppressAlgebraicErrorTest bool
	InitialStep                float64
	MaxStep                    float64
}

func (o DAEOptions) withDefaults() DAEOptions {
	if o.AbsTol <= 0 {
		o.AbsTol = DefaultAbsTol
	}
	if o.RelTol <= 0 {
		o.RelTol = DefaultRelTol
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	return o
}

// DAESolution holds values and derivatives at every grid point.
type DAESolution struct {
	Times       []float64
	Values      []dynamo.State
	Derivatives []dynamo.State
	Stats       Stats
}

// bdf carries the integration history. Order 1 is used until a previous
// point exists, variable-step BDF2 afterwards.
type bdf struct {
	res  dynamo.Residual
	id   []bool
	opts DAEOptions
	n    int

	t     float64
	y, yp dynamo.State
	yPrev dynamo.State
	hPrev float64
	order int

	stats Stats
}

// SolveDAE integrates F(t, y, y') = 0 over grid from consistent initial
// values y0, yp0. id marks differential components (true) and algebraic
// ones (false).
func SolveDAE(ctx context.Context, residual dynamo.Residual, y0, yp0 dynamo.State, id []bool, grid []float64, opts DAEOptions) (*DAESolution, error) {
	if err := dynamo.ValidateGrid(grid); err != nil {
		return nil, err
	}
	n := len(y0)
	if len(yp0) != n || len(id) != n {
		return nil, fmt.Errorf("%w: y0=%d yp0=%d id=%d",
			dynamo.ErrDimensionMismatch, len(y0), len(yp0), len(id))
	}
	if !y0.IsValid() || !yp0.IsValid() {
		return nil, fmt.Errorf("initial values: %w", dynamo.ErrInvalidState)
	}
	opts = opts.withDefaults()

	b := &bdf{
		res:   residual,
		id:    id,
		opts:  opts,
		n:     n,
		t:     grid[0],
		y:     y0.Clone(),
		yp:    yp0.Clone(),
		order: 1,
	}

	sol := &DAESolution{
		Times:       append([]float64(nil), grid...),
		Values:      make([]dynamo.State, len(grid)),
		Derivatives: make([]dynamo.State, len(grid)),
	}
	sol.Values[0] = y0.Clone()
	sol.Derivatives[0] = yp0.Clone()

	h := opts.InitialStep
	if h <= 0 {
		h = math.Min(grid[1]-grid[0], 1e-3*(grid[len(grid)-1]-grid[0]))
	}

	for k := 1; k < len(grid); k++ {
		var err error
		h, err = b.advance(ctx, grid[k], h)
		if err != nil {
			sol.Stats = b.stats
			return nil, err
		}
		sol.Values[k] = b.y.Clone()
		sol.Derivatives[k] = b.yp.Clone()
	}

	sol.Stats = b.stats
	return sol, nil
}

func (b *bdf) fail(err error) error {
	return &dynamo.IntegratorError{Method: bdfMethod, Step: b.stats.Steps, Time: b.t, Err: err}
}

// advance steps until b.t == tOut and returns the step size to try next.
func (b *bdf) advance(ctx context.Context, tOut, h float64) (float64, error) {
	steps := 0
	for b.t < tOut {
		if err := ctx.Err(); err != nil {
			return h, err
		}
		if steps >= b.opts.MaxSteps {
			return h, b.fail(errMaxSteps)
		}
		if b.opts.MaxStep > 0 && h > b.opts.MaxStep {
			h = b.opts.MaxStep
		}
		if h < minStep(b.t) {
			return h, b.fail(errUnderflow)
		}
		steps++

		dt := h
		last := false
		// stretch by up to 10% rather than leave a sliver before tOut
		if b.t+1.1*dt >= tOut {
			dt = tOut - b.t
			last = true
		}

		yNew, ypNew, errNorm, err := b.attempt(dt)
		if err != nil {
			if errors.Is(err, errNewton) || errors.Is(err, errSingular) {
				b.stats.Rejected++
				h = dt / 2
				continue
			}
			return h, b.fail(err)
		}

		factor := maxGrowth
		if math.IsNaN(errNorm) {
			factor = minShrink
		} else if errNorm > 0 {
			factor = bdfSafety * math.Pow(errNorm, -1/float64(b.order+1))
			factor = math.Min(maxGrowth, math.Max(minShrink, factor))
		}

		if !(errNorm <= 1) {
			b.stats.Rejected++
			h = dt * math.Min(factor, bdfSafety)
			continue
		}

		b.yPrev = b.y
		b.hPrev = dt
		b.y = yNew
		b.yp = ypNew
		if last {
			b.t = tOut
		} else {
			b.t += dt
		}
		b.order = 2
		b.stats.Steps++
		h = dt * factor
	}
	return h, nil
}

// coefficients returns alpha, beta with y' = alpha*y + beta for a step of
// size h.
func (b *bdf) coefficients(h float64) (float64, dynamo.State) {
	beta := make(dynamo.State, b.n)
	if b.order == 1 {
		for i := range beta {
			beta[i] = -b.y[i] / h
		}
		return 1 / h, beta
	}
	w := h / b.hPrev
	alpha := (1 + 2*w) / ((1 + w) * h)
	for i := range beta {
		beta[i] = (-(1+w)*b.y[i] + w*w/(1+w)*b.yPrev[i]) / h
	}
	return alpha, beta
}

func (b *bdf) predict(h float64) dynamo.State {
	pred := make(dynamo.State, b.n)
	if b.order == 1 {
		for i := range pred {
			pred[i] = b.y[i] + h*b.yp[i]
		}
		return pred
	}
	// quadratic through (t-hPrev, yPrev) with value y and slope yp at t
	hp := b.hPrev
	for i := range pred {
		c := (b.yPrev[i] - b.y[i] + b.yp[i]*hp) / (hp * hp)
		pred[i] = b.y[i] + b.yp[i]*h + c*h*h
	}
	return pred
}

// attempt runs the corrector for a step of size h and returns the new
// values, derivatives and weighted local error norm.
func (b *bdf) attempt(h float64) (dynamo.State, dynamo.State, float64, error) {
	tNew := b.t + h
	alpha, beta := b.coefficients(h)
	pred := b.predict(h)

	y := pred.Clone()
	ypOf := func(y dynamo.State) dynamo.State {
		yp := make(dynamo.State, b.n)
		for i := range yp {
			yp[i] = alpha*y[i] + beta[i]
		}
		return yp
	}
	eval := func(y dynamo.State) (dynamo.State, error) {
		b.stats.Evaluations++
		r, err := b.res(tNew, y, ypOf(y))
		if err != nil {
			return nil, err
		}
		if len(r) != b.n {
			return nil, fmt.Errorf("%w: residual has %d rows, want %d", dynamo.ErrDimensionMismatch, len(r), b.n)
		}
		return r, nil
	}

	g, err := eval(y)
	if err != nil {
		return nil, nil, 0, err
	}

	var lu mat.LU
	if err := b.jacobian(&lu, h, y, ypOf(y), g, eval); err != nil {
		return nil, nil, 0, err
	}

	w := b.weights(y, false)
	rhs := mat.NewVecDense(b.n, nil)
	var delta mat.VecDense
	converged := false
	for iter := 0; iter < newtonMaxIters; iter++ {
		for i := 0; i < b.n; i++ {
			rhs.SetVec(i, -g[i])
		}
		if err := lu.SolveVecTo(&delta, false, rhs); err != nil {
			return nil, nil, 0, errSingular
		}
		d := delta.RawVector().Data
		for i := range y {
			y[i] += d[i]
		}
		if !y.IsValid() {
			return nil, nil, 0, errNewton
		}
		if wrms(d, w, nil) <= newtonTol {
			converged = true
			break
		}
		if g, err = eval(y); err != nil {
			return nil, nil, 0, err
		}
	}
	if !converged {
		return nil, nil, 0, errNewton
	}

	diff := make([]float64, b.n)
	floats.SubTo(diff, y, pred)
	errConst := 1.0 / 3.0
	if b.order == 1 {
		errConst = 0.5
	}
	floats.Scale(errConst, diff)

	var mask []bool
	if b.opts.SuppressAlgebraicErrorTest {
		mask = b.id
	}
	errNorm := wrms(diff, b.weights(y, true), mask)

	return y, ypOf(y), errNorm, nil
}

// jacobian factorizes dG/dy = dF/dy + alpha*dF/dy' by forward differences
// of the composed residual G(y) = F(t, y, alpha*y + beta). Each column has
// its own increment; fd differentiates G(y + D*u) at u = 0 with a unit step
// and the columns are divided by D afterwards.
func (b *bdf) jacobian(lu *mat.LU, h float64, y, yp, g dynamo.State, eval func(dynamo.State) (dynamo.State, error)) error {
	b.stats.JacobianEvals++
	sqrtEps := math.Sqrt(2.220446049250313e-16)
	deltas := make([]float64, b.n)
	for j := range deltas {
		deltas[j] = math.Max(sqrtEps*math.Max(math.Abs(y[j]), math.Abs(h*yp[j])),
			b.opts.AbsTol+b.opts.RelTol*math.Abs(y[j]))
	}

	var evalErr error
	yu := make(dynamo.State, b.n)
	shifted := func(out, u []float64) {
		for j := range yu {
			yu[j] = y[j] + deltas[j]*u[j]
		}
		gu, err := eval(yu)
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			for i := range out {
				out[i] = math.NaN()
			}
			return
		}
		copy(out, gu)
	}

	jac := mat.NewDense(b.n, b.n, nil)
	fd.Jacobian(jac, shifted, make([]float64, b.n), &fd.JacobianSettings{
		Formula:     fd.Forward,
		OriginValue: g,
		Step:        1,
	})
	if evalErr != nil {
		return evalErr
	}
	for j, d := range deltas {
		for i := 0; i < b.n; i++ {
			jac.Set(i, j, jac.At(i, j)/d)
		}
	}

	lu.Factorize(jac)
	if math.IsInf(lu.Cond(), 1) {
		return errSingular
	}
	return nil
}

func (b *bdf) weights(y dynamo.State, withPrev bool) []float64 {
	w := make([]float64, b.n)
	for i := range w {
		scale := math.Abs(y[i])
		if withPrev {
			scale = math.Max(scale, math.Abs(b.y[i]))
		}
		w[i] = b.opts.AbsTol + b.opts.RelTol*scale
	}
	return w
}

// wrms is the weighted root mean square of v; when mask is non-nil only
// components with mask[i] set take part.
func wrms(v, w []float64, mask []bool) float64 {
	sum := 0.0
	count := 0
	for i := range v {
		if mask != nil && !mask[i] {
			continue
		}
		r := v[i] / w[i]
		sum += r * r
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
