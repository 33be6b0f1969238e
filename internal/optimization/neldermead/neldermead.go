// Package neldermead implements a Nelder-Mead simplex search adapted to a
// rounded integer lattice.
//
// Every candidate the simplex proposes is snapped to the lattice. When
// rounding collapses a candidate onto a point that is already in the simplex
// or has already been measured, the candidate is replaced by the first
// unmeasured neighbor of the best vertex so that the search keeps moving.
package neldermead

import (
	"math"
	"sort"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// Name is the registered method name.
const Name = "nelder-mead"

// Config controls a Nelder-Mead search.
type Config struct {
	// Initial is the first point of the simplex.
	Initial optimization.Point
	// MaxIterations caps the number of simplex iterations.
	MaxIterations int
	// Round snaps candidates to the lattice.
	Round optimization.RoundFunc
	// Neighbors builds the initial simplex and replaces collapsed candidates.
	Neighbors optimization.NeighborFunc

	Reflection  float64
	Expansion   float64
	Contraction float64
	Shrink      float64

	// Observer is notified of every new measurement. Optional.
	Observer optimization.Observer
}

// DefaultConfig returns the accelerator defaults: start at (256, 128), 100
// iterations, num_gangs in blocks of 32 and vector_length in powers of two.
func DefaultConfig() Config {
	return Config{
		Initial:       optimization.NewPoint(256, 128),
		MaxIterations: 100,
		Round:         optimization.AcceleratorRound(optimization.DefaultBlockSize),
		Neighbors:     optimization.AcceleratorNeighbors(optimization.DefaultBlockSize),
		Reflection:    1,
		Expansion:     2,
		Contraction:   0.5,
		Shrink:        0.5,
	}
}

// Optimizer is a configured Nelder-Mead search.
type Optimizer struct {
	config Config
}

// New validates config and fills unset fields from DefaultConfig.
func New(config Config) (*Optimizer, error) {
	def := DefaultConfig()
	if config.Initial == optimization.Zero() {
		config.Initial = def.Initial
	}
	if config.MaxIterations == 0 {
		config.MaxIterations = def.MaxIterations
	}
	if config.Round == nil {
		config.Round = def.Round
	}
	if config.Neighbors == nil {
		config.Neighbors = def.Neighbors
	}
	if config.Reflection == 0 {
		config.Reflection = def.Reflection
	}
	if config.Expansion == 0 {
		config.Expansion = def.Expansion
	}
	if config.Contraction == 0 {
		config.Contraction = def.Contraction
	}
	if config.Shrink == 0 {
		config.Shrink = def.Shrink
	}

	if config.MaxIterations < 0 {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidConfig,
			"max iterations must be positive, got %d", config.MaxIterations).
			WithComponent(Name).WithOperation("New")
	}
	for _, c := range config.Initial {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, optimization.WrapErrorf(optimization.ErrInvalidConfig,
				"initial point %v is not finite", config.Initial).
				WithComponent(Name).WithOperation("New")
		}
	}
	if config.Expansion <= config.Reflection {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidConfig,
			"expansion %g must exceed reflection %g", config.Expansion, config.Reflection).
			WithComponent(Name).WithOperation("New")
	}
	if config.Contraction <= 0 || config.Contraction >= 1 || config.Shrink <= 0 || config.Shrink >= 1 {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidConfig,
			"contraction %g and shrink %g must lie in (0, 1)", config.Contraction, config.Shrink).
			WithComponent(Name).WithOperation("New")
	}

	return &Optimizer{config: config}, nil
}

// Name implements optimization.Strategy.
func (o *Optimizer) Name() string { return Name }

// Search implements optimization.Strategy.
func (o *Optimizer) Search(objective optimization.Objective) (*optimization.Result, error) {
	r := &run{
		cfg: o.config,
		ev:  optimization.NewEvaluator(objective, o.config.Observer),
	}
	return r.search(), nil
}

// run holds the state of one search.
type run struct {
	cfg     Config
	ev      *optimization.Evaluator
	simplex []optimization.Point
}

func (r *run) f(p optimization.Point) optimization.Outcome {
	return r.ev.Evaluate(p)
}

func (r *run) search() *optimization.Result {
	n := optimization.Dims
	r.initSimplex(n)

	iterations := 0
	converged := false
	for iterations < r.cfg.MaxIterations {
		r.order()
		if r.collapsed() {
			converged = true
			break
		}
		iterations++
		r.step(n)
	}
	r.order()

	return r.ev.Result(Name, r.simplex[0], iterations, converged)
}

// initSimplex builds the simplex from the initial point and the first n
// distinct lattice neighbors of it.
func (r *run) initSimplex(n int) {
	start := r.cfg.Round(r.cfg.Initial)
	r.simplex = append(make([]optimization.Point, 0, n+1), start)
	for _, nb := range r.cfg.Neighbors(start) {
		if len(r.simplex) == n+1 {
			break
		}
		nb = r.cfg.Round(nb)
		if r.inSimplex(nb) {
			continue
		}
		r.simplex = append(r.simplex, nb)
	}
	// A neighbor generator that cannot fill the simplex leaves it degenerate;
	// pad with the start point so the search still terminates.
	for len(r.simplex) < n+1 {
		r.simplex = append(r.simplex, start)
	}
	for _, p := range r.simplex {
		r.f(p)
	}
}

func (r *run) order() {
	sort.SliceStable(r.simplex, func(i, j int) bool {
		return r.f(r.simplex[i]).Less(r.f(r.simplex[j]))
	})
}

// collapsed reports whether every vertex equals the best vertex.
func (r *run) collapsed() bool {
	for _, p := range r.simplex[1:] {
		if p != r.simplex[0] {
			return false
		}
	}
	return true
}

func (r *run) inSimplex(p optimization.Point) bool {
	for _, q := range r.simplex {
		if q == p {
			return true
		}
	}
	return false
}

// candidate rounds p and applies the collapse substitution.
func (r *run) candidate(p optimization.Point) optimization.Point {
	p = r.cfg.Round(p)
	if !r.inSimplex(p) && !r.ev.Visited(p) {
		return p
	}
	best := r.simplex[0]
	for _, nb := range r.cfg.Neighbors(best) {
		nb = r.cfg.Round(nb)
		if !r.inSimplex(nb) && !r.ev.Visited(nb) {
			return nb
		}
	}
	return p
}

func (r *run) step(n int) {
	best := r.simplex[0]
	worst := r.simplex[n]
	fBest := r.f(best)
	fSecondWorst := r.f(r.simplex[n-1])
	fWorst := r.f(worst)

	centroid := optimization.Centroid(r.simplex[:n])

	xr := r.candidate(centroid.Add(centroid.Sub(worst).Scale(r.cfg.Reflection)))
	fr := r.f(xr)

	switch {
	case !fr.Less(fBest) && fr.Less(fSecondWorst):
		r.simplex[n] = xr

	case fr.Less(fBest):
		xe := r.candidate(centroid.Add(xr.Sub(centroid).Scale(r.cfg.Expansion)))
		if r.f(xe).Less(fr) {
			r.simplex[n] = xe
		} else {
			r.simplex[n] = xr
		}

	case fr.Less(fWorst):
		// Outside contraction, between the centroid and the reflection.
		xc := r.candidate(centroid.Add(xr.Sub(centroid).Scale(r.cfg.Contraction)))
		if !fr.Less(r.f(xc)) {
			r.simplex[n] = xc
		} else {
			r.shrink(n)
		}

	default:
		// Inside contraction, between the centroid and the worst vertex.
		xc := r.candidate(centroid.Add(worst.Sub(centroid).Scale(r.cfg.Contraction)))
		if r.f(xc).Less(fWorst) {
			r.simplex[n] = xc
		} else {
			r.shrink(n)
		}
	}
}

// shrink moves every non-best vertex halfway toward the best one.
func (r *run) shrink(n int) {
	best := r.simplex[0]
	for i := 1; i <= n; i++ {
		xi := r.candidate(best.Add(r.simplex[i].Sub(best).Scale(r.cfg.Shrink)))
		r.simplex[i] = xi
		r.f(xi)
	}
}
