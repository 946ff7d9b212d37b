// Package dynamo provides the value types shared by every stage of the
// simulation pipeline.
//
//   - [State]: vector of integrated values in a fixed order
//   - [Environment]: variable name to value mapping used for evaluation
//   - [System]: explicit ODE right-hand side (dX/dt = f(t, X))
//   - [Residual]: implicit DAE residual F(t, Y, Y')
//   - [Trajectory]: named series sampled on a time grid
//
// The error taxonomy lives here as well so that callers can match failures
// from any stage with errors.Is and errors.As.
//
// # Thread Safety
//
// None of these types carry hidden shared state. An Environment handed to
// an evaluation is treated as read-only; code that needs to extend one
// clones it first, which is what makes concurrent solves safe.
package dynamo
