package tuner

import (
	"sort"

	"github.com/copyleftdev/acctune/internal/optimization"
	"github.com/copyleftdev/acctune/internal/optimization/bayesian"
	"github.com/copyleftdev/acctune/internal/optimization/coordsearch"
	"github.com/copyleftdev/acctune/internal/optimization/grid"
	"github.com/copyleftdev/acctune/internal/optimization/neldermead"
)

// Factory builds a strategy for the given options. observer may be nil.
type Factory func(opts Options, observer optimization.Observer) (optimization.Strategy, error)

var registry = map[string]Factory{
	neldermead.Name: func(opts Options, obs optimization.Observer) (optimization.Strategy, error) {
		cfg := neldermead.DefaultConfig()
		cfg.Observer = obs
		if opts.MaxIterations > 0 {
			cfg.MaxIterations = opts.MaxIterations
		}
		if opts.Initial != optimization.Zero() {
			cfg.Initial = opts.Initial
		}
		return neldermead.New(cfg)
	},
	coordsearch.Name: func(opts Options, obs optimization.Observer) (optimization.Strategy, error) {
		cfg := coordsearch.DefaultConfig()
		cfg.Observer = obs
		if opts.MaxIterations > 0 {
			cfg.MaxIterations = opts.MaxIterations
		}
		if opts.Initial != optimization.Zero() {
			cfg.Initial = opts.Initial
		}
		return coordsearch.New(cfg)
	},
	bayesian.Name: func(opts Options, obs optimization.Observer) (optimization.Strategy, error) {
		cfg := bayesian.DefaultConfig(opts.Bounds)
		cfg.Observer = obs
		if opts.MaxIterations > 0 {
			cfg.MaxIterations = opts.MaxIterations
		}
		return bayesian.New(cfg)
	},
	"grid-pow2":     gridFactory("grid-pow2", grid.Pow2Layout()),
	"grid32":        gridFactory("grid32", grid.MultiplesLayout(32)),
	"grid64":        gridFactory("grid64", grid.MultiplesLayout(64)),
	"grid128":       gridFactory("grid128", grid.MultiplesLayout(128)),
	"grid256":       gridFactory("grid256", grid.MultiplesLayout(256)),
	"grid32-vlpow2": gridFactory("grid32-vlpow2", grid.GangsVectorLayout(32)),
}

func gridFactory(name string, layout grid.Layout) Factory {
	return func(opts Options, obs optimization.Observer) (optimization.Strategy, error) {
		return grid.New(grid.Config{
			Name:     name,
			Bounds:   opts.Bounds,
			Layout:   layout,
			Workers:  opts.Workers,
			Observer: obs,
		})
	}
}

// Methods returns the registered method names in sorted order.
func Methods() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	f, ok := registry[name]
	if !ok {
		return nil, optimization.WrapErrorf(optimization.ErrUnknownMethod, "method %q", name).
			WithOperation("Lookup").WithComponent("tuner")
	}
	return f, nil
}

// NewStrategy builds the strategy named by opts.Method.
func NewStrategy(opts Options, observer optimization.Observer) (optimization.Strategy, error) {
	f, err := Lookup(opts.Method)
	if err != nil {
		return nil, err
	}
	return f(opts, observer)
}
