package integrators

import (
	"math"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

type RK45 struct {
	safety   float64
	minScale float64
	maxScale float64
}

func NewRK45() *RK45 {
	return &RK45{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
	}
}

func (r *RK45) Name() string { return "rk45" }

// Step takes one unchecked step of size dt with the default tolerances.
func (r *RK45) Step(sys dynamo.System, x dynamo.State, t, dt float64) (dynamo.State, error) {
	newX, _, _, err := r.StepAdaptive(sys, x, t, dt, DefaultAbsTol, DefaultRelTol)
	return newX, err
}

// StepAdaptive attempts a step of size dt. errNorm is the weighted RMS of
// the embedded error estimate; the step should be accepted when it is at
// most 1. dtNext is the suggested size of the next attempt either way.
func (r *RK45) StepAdaptive(sys dynamo.System, x dynamo.State, t, dt, atol, rtol float64) (xNew dynamo.State, dtNext, errNorm float64, err error) {
	n := len(x)
	k := make([]dynamo.State, 7)

	derive := func(i int, tt float64, xx dynamo.State) bool {
		k[i], err = sys.Derive(tt, xx)
		return err == nil
	}

	if !derive(0, t, x) {
		return nil, 0, 0, err
	}
	k1 := k[0]

	x2 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x2[i] = x[i] + dt*b21*k1[i]
	}
	if !derive(1, t+a2*dt, x2) {
		return nil, 0, 0, err
	}
	k2 := k[1]

	x3 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x3[i] = x[i] + dt*(b31*k1[i]+b32*k2[i])
	}
	if !derive(2, t+a3*dt, x3) {
		return nil, 0, 0, err
	}
	k3 := k[2]

	x4 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x4[i] = x[i] + dt*(b41*k1[i]+b42*k2[i]+b43*k3[i])
	}
	if !derive(3, t+a4*dt, x4) {
		return nil, 0, 0, err
	}
	k4 := k[3]

	x5 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x5[i] = x[i] + dt*(b51*k1[i]+b52*k2[i]+b53*k3[i]+b54*k4[i])
	}
	if !derive(4, t+a5*dt, x5) {
		return nil, 0, 0, err
	}
	k5 := k[4]

	x6 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x6[i] = x[i] + dt*(b61*k1[i]+b62*k2[i]+b63*k3[i]+b64*k4[i]+b65*k5[i])
	}
	if !derive(5, t+dt, x6) {
		return nil, 0, 0, err
	}
	k6 := k[5]

	xNew = make(dynamo.State, n)
	for i := 0; i < n; i++ {
		xNew[i] = x[i] + dt*(c1*k1[i]+c3*k3[i]+c4*k4[i]+c5*k5[i]+c6*k6[i])
	}

	if !derive(6, t+dt, xNew) {
		return nil, 0, 0, err
	}
	k7 := k[6]

	sum := 0.0
	for i := 0; i < n; i++ {
		errEst := dt * (dc1*k1[i] + dc3*k3[i] + dc4*k4[i] + dc5*k5[i] + dc6*k6[i] + dc7*k7[i])
		scale := atol + rtol*math.Max(math.Abs(x[i]), math.Abs(xNew[i]))
		sum += (errEst / scale) * (errEst / scale)
	}
	if n > 0 {
		errNorm = math.Sqrt(sum / float64(n))
	}

	var factor float64
	switch {
	case math.IsNaN(errNorm):
		factor = r.minScale
	case errNorm > 1:
		factor = math.Max(r.minScale, r.safety*math.Pow(errNorm, -0.25))
	case errNorm > 0:
		factor = math.Min(r.maxScale, r.safety*math.Pow(errNorm, -0.2))
	default:
		factor = r.maxScale
	}

	return xNew, dt * factor, errNorm, nil
}
