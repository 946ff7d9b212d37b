// Package signal measures trajectories: response times and the phase shift
// and amplitude between two series.
//
// Response times locate a target level from the shape of a series and
// report where the series first crosses it, interpolating linearly between
// the bracketing samples:
//
//   - [FinalMinusInitial]: midpoint between the first and last samples
//   - [MaxMinusMin]: midpoint of the series range
//   - [Custom]: rise-then-fall or fall-then-rise, one time per phase
//   - [BandPercent], [BandAbsolute]: settling into a band around the final value
//
// Phase shifts pair each peak of a reference series with the nearest
// preceding peak of a target series:
//
//	res, err := signal.PhaseShift(times, ref, target, signal.Legend, nil)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Shift) // distinct lags, 3 significant figures
//
// Every result is rounded to 3 significant figures with [RoundSig].
package signal
