package config

import "sort"

var chainEquations = []string{
	"X1. = -V + k2*X2",
	"X2. = V - k2*X2 - k3*X2 + k4*X3",
	"X3. = k3*X2 - k4*X3",
	"V = k1*X1",
	"Xc1 = X1 + X2 + X3 - 1",
}

var enzymeEquations = []string{
	"S. = -k1*E*S + km1*C",
	"C. = k1*E*S - km1*C - k2*C",
	"E. = -k1*E*S + km1*C + k2*C",
	"P. = k2*C",
	"Xc1 = E + C - Et",
	"Xc2 = S + C + P - St",
}

var Presets = map[string]map[string]*Config{
	"chain": {
		"default": {
			Model: "chain", Equations: chainEquations, Auxiliary: []string{"V"}, Conservations: 1,
			Params: map[string]float64{"k1": 1, "k2": 0.5, "k3": 2, "k4": 0.25},
			Init:   map[string]float64{"X1": 1, "X2": 0, "X3": 0},
			Time:   TimeConfig{Start: 0, Stop: 10, Points: 101},
			Solver: SolverConfig{Method: "implicit", Integrator: "rk45", AbsTol: 1e-6, RelTol: 1e-6, MaxSteps: 10000},
			Cycle:  CycleConfig{Cycles: 1, Policy: "none"},
			Analysis: AnalysisConfig{
				ResponseMethod: "final-minus-initial", Threshold: 0.1, PhaseMode: "legend",
			},
		},
		"pulsed": {
			Model: "chain", Equations: chainEquations, Auxiliary: []string{"V"}, Conservations: 1,
			Params: map[string]float64{"k1": 1, "k2": 0.5, "k3": 2, "k4": 0.25},
			Init:   map[string]float64{"X1": 1, "X2": 0, "X3": 0},
			Time:   TimeConfig{Start: 0, Stop: 2, Points: 41},
			Solver: SolverConfig{Method: "explicit", Integrator: "rk45", AbsTol: 1e-8, RelTol: 1e-8, MaxSteps: 10000},
			Cycle:  CycleConfig{Cycles: 5, Policy: "drop-below-threshold", Bounds: []float64{0.05, 0.05}},
			Analysis: AnalysisConfig{
				ResponseMethod: "custom", Threshold: 0.1, PhaseMode: "mean",
			},
		},
	},
	"enzyme": {
		"michaelis": {
			Model: "enzyme", Equations: enzymeEquations, Conservations: 2,
			Eliminate: []string{"E", "S"},
			Params:    map[string]float64{"k1": 10, "km1": 1, "k2": 2, "Et": 0.1, "St": 1},
			Init:      map[string]float64{"C": 0, "P": 0},
			Time:      TimeConfig{Start: 0, Stop: 20, Points: 201},
			Solver:    SolverConfig{Method: "implicit", Integrator: "rk45", AbsTol: 1e-8, RelTol: 1e-6, MaxSteps: 10000},
			Cycle:     CycleConfig{Cycles: 1, Policy: "none"},
			Analysis: AnalysisConfig{
				ResponseMethod: "final-minus-initial", Threshold: 0.1, PhaseMode: "legend",
			},
		},
		"saturated": {
			Model: "enzyme", Equations: enzymeEquations, Conservations: 2,
			Eliminate: []string{"E", "S"},
			Params:    map[string]float64{"k1": 10, "km1": 1, "k2": 2, "Et": 0.1, "St": 20},
			Init:      map[string]float64{"C": 0, "P": 0},
			Time:      TimeConfig{Start: 0, Stop: 150, Points: 301},
			Solver:    SolverConfig{Method: "implicit", Integrator: "rk45", AbsTol: 1e-8, RelTol: 1e-6, MaxSteps: 10000},
			Cycle:     CycleConfig{Cycles: 1, Policy: "none"},
			Analysis: AnalysisConfig{
				ResponseMethod: "band-percent", Threshold: 0.05, PhaseMode: "legend",
			},
		},
	},
	"oscillator": {
		"harmonic": {
			Model:     "oscillator",
			Equations: []string{"X. = w*Y", "Y. = -w*X"},
			Params:    map[string]float64{"w": 1},
			Init:      map[string]float64{"X": 0, "Y": 1},
			Time:      TimeConfig{Start: 0, Stop: 20, Points: 2001},
			Solver:    SolverConfig{Method: "explicit", Integrator: "rk45", AbsTol: 1e-9, RelTol: 1e-9, MaxSteps: 10000},
			Cycle:     CycleConfig{Cycles: 1, Policy: "none"},
			Analysis: AnalysisConfig{
				ResponseMethod: "max-minus-min", Threshold: 0.1, PhaseMode: "legend", Reference: "X",
			},
		},
		"damped": {
			Model:     "oscillator",
			Equations: []string{"X. = w*Y", "Y. = -w*X - c*Y"},
			Params:    map[string]float64{"w": 1, "c": 0.2},
			Init:      map[string]float64{"X": 0, "Y": 1},
			Time:      TimeConfig{Start: 0, Stop: 40, Points: 4001},
			Solver:    SolverConfig{Method: "explicit", Integrator: "rk45", AbsTol: 1e-9, RelTol: 1e-9, MaxSteps: 10000},
			Cycle:     CycleConfig{Cycles: 1, Policy: "none"},
			Analysis: AnalysisConfig{
				ResponseMethod: "band-absolute", Threshold: 0.05, PhaseMode: "mean", Reference: "X",
			},
		},
	},
	"toggle": {
		"bistable": {
			Model:     "toggle",
			Equations: []string{"U. = a/(1 + V^2) - U", "V. = b/(1 + U^2) - V"},
			Params:    map[string]float64{"a": 4, "b": 4},
			Init:      map[string]float64{"U": 0.1, "V": 2},
			Time:      TimeConfig{Start: 0, Stop: 30, Points: 301},
			Solver:    SolverConfig{Method: "explicit", Integrator: "rk45", AbsTol: 1e-6, RelTol: 1e-6, MaxSteps: 10000},
			Cycle:     CycleConfig{Cycles: 1, Policy: "none"},
			Analysis: AnalysisConfig{
				ResponseMethod: "final-minus-initial", Threshold: 0.1, PhaseMode: "legend",
			},
		},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

// ListPresets returns the preset names of model, sorted.
func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListModels() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
