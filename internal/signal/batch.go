package signal

import (
	"fmt"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

func series(traj *dynamo.Trajectory, name string) ([]float64, error) {
	s, ok := traj.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: no series %s in trajectory", dynamo.ErrMissingValue, name)
	}
	return s, nil
}

// ResponseTimes runs ResponseTime over the named series of traj. An empty
// names list means every series, in trajectory order.
func ResponseTimes(traj *dynamo.Trajectory, names []string, method Method, fraction float64) (map[string][]float64, error) {
	if len(names) == 0 {
		names = traj.Order
	}
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		s, err := series(traj, name)
		if err != nil {
			return nil, err
		}
		rt, err := ResponseTime(traj.Times, s, method, fraction)
		if err != nil {
			return nil, fmt.Errorf("response time of %s: %w", name, err)
		}
		out[name] = rt
	}
	return out, nil
}

// PhaseShifts measures every target series against the ref series of traj.
func PhaseShifts(traj *dynamo.Trajectory, ref string, targets []string, mode Mode, detector Detector) (map[string]PhaseResult, error) {
	r, err := series(traj, ref)
	if err != nil {
		return nil, err
	}
	out := make(map[string]PhaseResult, len(targets))
	for _, name := range targets {
		s, err := series(traj, name)
		if err != nil {
			return nil, err
		}
		res, err := PhaseShift(traj.Times, r, s, mode, detector)
		if err != nil {
			return nil, fmt.Errorf("phase shift of %s against %s: %w", name, ref, err)
		}
		out[name] = res
	}
	return out, nil
}
