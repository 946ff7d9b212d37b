package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/dsdyn/internal/cycle"
	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/metrics"
	"github.com/san-kum/dsdyn/internal/preprocess"
	"github.com/san-kum/dsdyn/internal/signal"
	"github.com/san-kum/dsdyn/internal/solver"
)

const (
	DefaultStart     = 0.0
	DefaultStop      = 10.0
	DefaultPoints    = 101
	DefaultMethod    = "implicit"
	DefaultStepper   = "rk45"
	DefaultTol       = 1e-6
	DefaultMaxSteps  = 10000
	DefaultThreshold = 0.1
)

// Config is a model file: the equation system plus how to solve and
// analyse it.
type Config struct {
	Model         string             `yaml:"model"`
	Equations     []string           `yaml:"equations"`
	Auxiliary     []string           `yaml:"auxiliary,omitempty"`
	Conservations int                `yaml:"conservations,omitempty"`
	Eliminate     []string           `yaml:"eliminate,omitempty"`
	Params        map[string]float64 `yaml:"params"`
	Init          map[string]float64 `yaml:"init"`
	Time          TimeConfig         `yaml:"time"`
	Solver        SolverConfig       `yaml:"solver"`
	Cycle         CycleConfig        `yaml:"cycle"`
	Analysis      AnalysisConfig     `yaml:"analysis"`
}

type TimeConfig struct {
	Start  float64 `yaml:"start"`
	Stop   float64 `yaml:"stop"`
	Points int     `yaml:"points"`
}

type SolverConfig struct {
	Method                     string  `yaml:"method"`
	Integrator                 string  `yaml:"integrator"`
	AbsTol                     float64 `yaml:"atol"`
	RelTol                     float64 `yaml:"rtol"`
	MaxSteps                   int     `yaml:"max_steps"`
	SuppressAlgebraicErrorTest bool    `yaml:"suppress_algebraic_error_test,omitempty"`
}

type CycleConfig struct {
	Cycles int       `yaml:"cycles"`
	Policy string    `yaml:"policy"`
	Bounds []float64 `yaml:"bounds,omitempty"`
}

type AnalysisConfig struct {
	ResponseMethod string  `yaml:"response_method"`
	Threshold      float64 `yaml:"threshold"`
	PhaseMode      string  `yaml:"phase_mode"`
	Reference      string  `yaml:"reference,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Params: map[string]float64{},
		Init:   map[string]float64{},
		Time: TimeConfig{
			Start:  DefaultStart,
			Stop:   DefaultStop,
			Points: DefaultPoints,
		},
		Solver: SolverConfig{
			Method:     DefaultMethod,
			Integrator: DefaultStepper,
			AbsTol:     DefaultTol,
			RelTol:     DefaultTol,
			MaxSteps:   DefaultMaxSteps,
		},
		Cycle: CycleConfig{
			Cycles: 1,
			Policy: cycle.PolicyNone.String(),
		},
		Analysis: AnalysisConfig{
			ResponseMethod: signal.MaxMinusMin.String(),
			Threshold:      DefaultThreshold,
			PhaseMode:      signal.Legend.String(),
		},
	}
}

// Load reads a model file over the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Equations = append([]string(nil), c.Equations...)
	out.Auxiliary = append([]string(nil), c.Auxiliary...)
	out.Eliminate = append([]string(nil), c.Eliminate...)
	out.Cycle.Bounds = append([]float64(nil), c.Cycle.Bounds...)
	out.Params = dynamo.Environment(c.Params).Clone()
	out.Init = dynamo.Environment(c.Init).Clone()
	return &out
}

// Validate checks everything that can be checked without reducing the
// equations.
func (c *Config) Validate() error {
	if len(c.Equations) == 0 {
		return fmt.Errorf("%w: no equations", dynamo.ErrInvalidSystem)
	}
	if c.Conservations < 0 || c.Conservations > len(c.Equations) {
		return fmt.Errorf("%w: %d conservations for %d equations",
			dynamo.ErrInvalidSystem, c.Conservations, len(c.Equations))
	}
	if c.Time.Points < 2 || !(c.Time.Stop > c.Time.Start) {
		return fmt.Errorf("%w: start=%g stop=%g points=%d",
			dynamo.ErrInvalidTimeGrid, c.Time.Start, c.Time.Stop, c.Time.Points)
	}
	if c.Solver.AbsTol < 0 || c.Solver.RelTol < 0 || c.Solver.MaxSteps < 0 {
		return &dynamo.UnsupportedConfigurationError{What: "negative solver tolerance or step limit"}
	}
	if _, err := solver.ParseMethod(c.Solver.Method); err != nil {
		return err
	}
	if c.Cycle.Cycles < 0 {
		return &dynamo.UnsupportedConfigurationError{What: fmt.Sprintf("%d cycles", c.Cycle.Cycles)}
	}
	if _, err := cycle.ParsePolicy(c.Cycle.Policy); err != nil {
		return err
	}
	if _, err := signal.ParseMethod(c.Analysis.ResponseMethod); err != nil {
		return err
	}
	if c.Analysis.Threshold < 0 {
		return &dynamo.UnsupportedConfigurationError{What: fmt.Sprintf("threshold %g", c.Analysis.Threshold)}
	}
	return nil
}

// Grid returns the evenly spaced output times.
func (c *Config) Grid() []float64 {
	return dynamo.Linspace(c.Time.Start, c.Time.Stop, c.Time.Points)
}

func (c *Config) Input(logger *slog.Logger) preprocess.Input {
	return preprocess.Input{
		Equations:     c.Equations,
		Auxiliary:     c.Auxiliary,
		Conservations: c.Conservations,
		Eliminate:     c.Eliminate,
		Logger:        logger,
	}
}

func (c *Config) SolverOptions(logger *slog.Logger, rec *metrics.Recorder) (solver.Options, error) {
	method, err := solver.ParseMethod(c.Solver.Method)
	if err != nil {
		return solver.Options{}, err
	}
	return solver.Options{
		Method:                     method,
		Stepper:                    c.Solver.Integrator,
		AbsTol:                     c.Solver.AbsTol,
		RelTol:                     c.Solver.RelTol,
		MaxSteps:                   c.Solver.MaxSteps,
		SuppressAlgebraicErrorTest: c.Solver.SuppressAlgebraicErrorTest,
		Logger:                     logger,
		Metrics:                    rec,
	}, nil
}

func (c *Config) CycleConfig(opts solver.Options) (cycle.Config, error) {
	policy, err := cycle.ParsePolicy(c.Cycle.Policy)
	if err != nil {
		return cycle.Config{}, err
	}
	return cycle.Config{
		Cycles: c.Cycle.Cycles,
		Bounds: c.Cycle.Bounds,
		Policy: policy,
		Solver: opts,
	}, nil
}
