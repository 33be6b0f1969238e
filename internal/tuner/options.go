package tuner

import (
	"github.com/copyleftdev/acctune/internal/optimization"
)

// Options selects and bounds a tuning run.
type Options struct {
	Method string              `json:"method" yaml:"method"`
	Bounds optimization.Bounds `json:"bounds" yaml:"bounds"`
	// MaxIterations overrides the strategy iteration cap when positive.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// Repetitions is the number of runs behind every measurement. It is the
	// sample size used by the significance test.
	Repetitions int `json:"repetitions" yaml:"repetitions"`
	// Workers is the number of concurrent measurements in grid searches.
	Workers int `json:"workers" yaml:"workers"`
	// Initial overrides the starting point of the local searches when set.
	Initial optimization.Point `json:"initial" yaml:"initial"`
}

// DefaultOptions returns Nelder-Mead over [2, 1024] on both axes with 10
// repetitions per point.
func DefaultOptions() Options {
	return Options{
		Method: "nelder-mead",
		Bounds: optimization.NewBounds(
			optimization.Range{Min: 2, Max: 1024},
			optimization.Range{Min: 2, Max: 1024},
		),
		Repetitions: 10,
		Workers:     1,
	}
}

// Validate checks the options without building a strategy.
func (o Options) Validate() error {
	if _, err := Lookup(o.Method); err != nil {
		return err
	}
	if err := o.Bounds.Validate(); err != nil {
		return err
	}
	for i, r := range o.Bounds {
		if r.Min <= 0 {
			return optimization.WrapErrorf(optimization.ErrInvalidBounds,
				"axis %d minimum must be positive, got %g", i, r.Min).
				WithOperation("Options.Validate").WithComponent("tuner")
		}
	}
	invalid := func(format string, args ...interface{}) error {
		return optimization.WrapErrorf(optimization.ErrInvalidConfig, format, args...).
			WithOperation("Options.Validate").WithComponent("tuner")
	}
	switch {
	case o.Repetitions <= 0:
		return invalid("repetitions must be positive, got %d", o.Repetitions)
	case o.MaxIterations < 0:
		return invalid("max iterations must not be negative, got %d", o.MaxIterations)
	case o.Workers < 0:
		return invalid("workers must not be negative, got %d", o.Workers)
	}
	return nil
}
