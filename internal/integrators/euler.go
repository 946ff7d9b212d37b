package integrators

import "github.com/san-kum/dsdyn/internal/dynamo"

type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Name() string { return "euler" }

func (e *Euler) Step(sys dynamo.System, x dynamo.State, t, dt float64) (dynamo.State, error) {
	dx, err := sys.Derive(t, x)
	if err != nil {
		return nil, err
	}
	result := make(dynamo.State, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result, nil
}
