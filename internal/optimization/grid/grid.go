// Package grid implements exhaustive search over a rectangular lattice.
package grid

import (
	"github.com/copyleftdev/acctune/internal/optimization"
	"golang.org/x/sync/errgroup"
)

// Name is the method name used when no layout specific name is set.
const Name = "grid"

// Config controls a grid search.
type Config struct {
	// Name overrides the method name reported in results, e.g. "grid32".
	Name   string
	Bounds optimization.Bounds
	Layout Layout
	// Workers is the number of concurrent measurements. Values below 2 run
	// sequentially.
	Workers  int
	Observer optimization.Observer
}

// Optimizer is a configured grid search.
type Optimizer struct {
	config     Config
	candidates []optimization.Point
}

// New validates config and enumerates the grid.
func New(config Config) (*Optimizer, error) {
	if config.Name == "" {
		config.Name = Name
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	for i, rule := range config.Layout {
		if rule == nil {
			return nil, optimization.WrapErrorf(optimization.ErrInvalidConfig,
				"axis %d has no step rule", i).WithComponent(config.Name).WithOperation("New")
		}
	}
	if err := config.Bounds.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid grid bounds").
			WithComponent(config.Name).WithOperation("New")
	}

	candidates := config.Layout.Candidates(config.Bounds)
	if len(candidates) == 0 {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidConfig,
			"layout %s x %s admits no points in %v", config.Layout[0], config.Layout[1], config.Bounds).
			WithComponent(config.Name).WithOperation("New")
	}

	return &Optimizer{config: config, candidates: candidates}, nil
}

// Name implements optimization.Strategy.
func (o *Optimizer) Name() string { return o.config.Name }

// Candidates returns the enumerated grid in evaluation order.
func (o *Optimizer) Candidates() []optimization.Point {
	return append([]optimization.Point(nil), o.candidates...)
}

// Search implements optimization.Strategy.
func (o *Optimizer) Search(objective optimization.Objective) (*optimization.Result, error) {
	ev := optimization.NewEvaluator(objective, o.config.Observer)

	if o.config.Workers > 1 {
		outcomes := make([]optimization.Outcome, len(o.candidates))
		var g errgroup.Group
		g.SetLimit(o.config.Workers)
		for i, p := range o.candidates {
			g.Go(func() error {
				outcomes[i] = objective(p)
				outcomes[i].Point = p
				return nil
			})
		}
		// Measurement failures travel in the outcomes, never as errors.
		_ = g.Wait()
		for _, out := range outcomes {
			ev.Record(out)
		}
	} else {
		for _, p := range o.candidates {
			ev.Evaluate(p)
		}
	}

	best, _ := ev.Best()
	return ev.Result(o.config.Name, best, len(o.candidates), true), nil
}
