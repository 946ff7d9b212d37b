package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for preprocessing and simulation.
var (
	// ErrConservationParse indicates a conservation law could not be solved
	// symbolically for one of its variables.
	ErrConservationParse = errors.New("dynamo: conservation constraint cannot be parsed")

	// ErrAuxiliaryCycle indicates auxiliary definitions refer to each other
	// in a loop.
	ErrAuxiliaryCycle = errors.New("dynamo: auxiliary variables form a cycle")

	// ErrIntegratorFailure indicates the underlying integrator did not reach
	// the end of the time grid.
	ErrIntegratorFailure = errors.New("dynamo: integrator failure")

	// ErrRenormalization indicates the post-event state sums to zero.
	ErrRenormalization = errors.New("dynamo: cannot renormalize a zero state")

	// ErrUnsupportedConfiguration indicates a solver/constraint combination
	// that is not implemented.
	ErrUnsupportedConfiguration = errors.New("dynamo: unsupported configuration")

	// ErrInvalidTimeGrid indicates a time grid that is too short or not
	// strictly increasing.
	ErrInvalidTimeGrid = errors.New("dynamo: invalid time grid")

	// ErrDimensionMismatch indicates mismatched vector lengths.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch")

	// ErrMissingValue indicates a variable has no value in an environment.
	ErrMissingValue = errors.New("dynamo: missing value")

	// ErrInvalidSystem indicates a malformed equation set.
	ErrInvalidSystem = errors.New("dynamo: invalid equation system")

	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")
)

// ConservationParseError reports which conservation equation failed.
type ConservationParseError struct {
	Index    int
	Equation string
	Reason   string
}

func (e *ConservationParseError) Error() string {
	return fmt.Sprintf("conservation equation %d (%s): %s", e.Index, e.Equation, e.Reason)
}

func (e *ConservationParseError) Unwrap() error { return ErrConservationParse }

// AuxiliaryCycleError carries the names forming the cycle, first name
// repeated at the end.
type AuxiliaryCycleError struct {
	Cycle []string
}

func (e *AuxiliaryCycleError) Error() string {
	return fmt.Sprintf("auxiliary cycle: %v", e.Cycle)
}

func (e *AuxiliaryCycleError) Unwrap() error { return ErrAuxiliaryCycle }

// IntegratorError wraps the native integrator failure with where it
// happened.
type IntegratorError struct {
	Method string
	Step   int
	Time   float64
	Err    error
}

func (e *IntegratorError) Error() string {
	return fmt.Sprintf("%s: step %d (t=%.6g): %v", e.Method, e.Step, e.Time, e.Err)
}

// Unwrap exposes both the sentinel and the native cause.
func (e *IntegratorError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIntegratorFailure}
	}
	return []error{ErrIntegratorFailure, e.Err}
}

type RenormalizationError struct {
	Cycle int
}

func (e *RenormalizationError) Error() string {
	return fmt.Sprintf("cycle %d: state sum is zero after thresholding", e.Cycle)
}

func (e *RenormalizationError) Unwrap() error { return ErrRenormalization }

type UnsupportedConfigurationError struct {
	What string
}

func (e *UnsupportedConfigurationError) Error() string {
	return "unsupported configuration: " + e.What
}

func (e *UnsupportedConfigurationError) Unwrap() error { return ErrUnsupportedConfiguration }
