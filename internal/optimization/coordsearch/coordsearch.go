// Package coordsearch implements a compass search over the tuning lattice.
//
// Each iteration polls the current point along a fixed basis in order and
// moves to the first poll that improves on it. An iteration without an
// improvement shrinks the step and counts as a failure.
package coordsearch

import (
	"math"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// Name is the registered method name.
const Name = "coord-search"

// Config controls a coordinate search.
type Config struct {
	Initial       optimization.Point
	InitialStep   float64
	MinStep       float64
	ShrinkFactor  float64
	MaxFailures   int
	MaxIterations int

	// Basis lists the poll directions in the order they are tried.
	Basis []optimization.Point
	Round optimization.RoundFunc

	Observer optimization.Observer
}

// DefaultBasis polls +num_gangs, +vector_length, -vector_length and
// -num_gangs, in that order.
func DefaultBasis() []optimization.Point {
	return []optimization.Point{
		optimization.NewPoint(1, 0),
		optimization.NewPoint(0, 1),
		optimization.NewPoint(0, -1),
		optimization.NewPoint(-1, 0),
	}
}

// DefaultConfig returns the accelerator defaults.
func DefaultConfig() Config {
	return Config{
		Initial:       optimization.NewPoint(256, 128),
		InitialStep:   256,
		MinStep:       32,
		ShrinkFactor:  0.75,
		MaxFailures:   2,
		MaxIterations: 100,
		Basis:         DefaultBasis(),
		Round:         optimization.AcceleratorRound(optimization.DefaultBlockSize),
	}
}

// Optimizer is a configured coordinate search.
type Optimizer struct {
	config Config
}

// New validates config and fills unset fields from DefaultConfig.
func New(config Config) (*Optimizer, error) {
	def := DefaultConfig()
	if config.Initial == optimization.Zero() {
		config.Initial = def.Initial
	}
	if config.InitialStep == 0 {
		config.InitialStep = def.InitialStep
	}
	if config.MinStep == 0 {
		config.MinStep = def.MinStep
	}
	if config.ShrinkFactor == 0 {
		config.ShrinkFactor = def.ShrinkFactor
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.MaxIterations == 0 {
		config.MaxIterations = def.MaxIterations
	}
	if len(config.Basis) == 0 {
		config.Basis = def.Basis
	}
	if config.Round == nil {
		config.Round = def.Round
	}

	invalid := func(format string, args ...interface{}) error {
		return optimization.WrapErrorf(optimization.ErrInvalidConfig, format, args...).
			WithComponent(Name).WithOperation("New")
	}
	switch {
	case config.MaxIterations < 0:
		return nil, invalid("max iterations must be positive, got %d", config.MaxIterations)
	case config.MaxFailures < 0:
		return nil, invalid("max failures must be positive, got %d", config.MaxFailures)
	case config.InitialStep < 0 || config.MinStep < 0:
		return nil, invalid("steps must be positive, got initial %g and minimum %g", config.InitialStep, config.MinStep)
	case config.ShrinkFactor <= 0 || config.ShrinkFactor >= 1:
		return nil, invalid("shrink factor %g must lie in (0, 1)", config.ShrinkFactor)
	}
	for _, c := range config.Initial {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, invalid("initial point %v is not finite", config.Initial)
		}
	}

	return &Optimizer{config: config}, nil
}

// Name implements optimization.Strategy.
func (o *Optimizer) Name() string { return Name }

// Search implements optimization.Strategy.
func (o *Optimizer) Search(objective optimization.Objective) (*optimization.Result, error) {
	cfg := o.config
	ev := optimization.NewEvaluator(objective, cfg.Observer)

	current := cfg.Round(cfg.Initial)
	ev.Evaluate(current)

	step := cfg.InitialStep
	failures := 0
	iterations := 0
	for iterations < cfg.MaxIterations && failures < cfg.MaxFailures && step >= cfg.MinStep {
		iterations++
		if next, ok := poll(ev, cfg, current, step); ok {
			current = next
			failures = 0
			continue
		}
		failures++
		step = math.Floor(step * cfg.ShrinkFactor)
	}

	best, _ := ev.Best()
	converged := failures >= cfg.MaxFailures || step < cfg.MinStep
	return ev.Result(Name, best, iterations, converged), nil
}

// poll returns the first basis candidate that strictly improves on current.
// Candidates that were already measured are skipped.
func poll(ev *optimization.Evaluator, cfg Config, current optimization.Point, step float64) (optimization.Point, bool) {
	fCurrent := ev.Evaluate(current)
	for _, d := range cfg.Basis {
		candidate := cfg.Round(current.Add(d.Scale(step)))
		if ev.Visited(candidate) {
			continue
		}
		if ev.Evaluate(candidate).Less(fCurrent) {
			return candidate, true
		}
	}
	return current, false
}
