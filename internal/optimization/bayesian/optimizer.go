// Package bayesian implements a Bayesian search over the launch lattice.
//
// The search fits a Gaussian process to the points measured so far and
// measures next the unvisited grid candidate with the largest expected
// improvement. Candidates come from a grid layout, so every proposal is a
// valid lattice point and no point is measured twice.
package bayesian

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/acctune/internal/optimization"
	"github.com/copyleftdev/acctune/internal/optimization/acquisition"
	"github.com/copyleftdev/acctune/internal/optimization/grid"
	"github.com/copyleftdev/acctune/internal/optimization/kernels"
)

// Name is the registered method name.
const Name = "bayes"

// Config controls a Bayesian lattice search.
type Config struct {
	Name   string
	Bounds optimization.Bounds
	// Layout enumerates the candidate points.
	Layout grid.Layout
	// InitialPoints is the size of the space-filling design measured before
	// the model is used.
	InitialPoints int
	// MaxIterations caps the number of model-guided measurements.
	MaxIterations int
	// Xi trades exploration for exploitation, in units of the standardized
	// cost.
	Xi float64
	// Tolerance stops the search once no candidate has a larger expected
	// improvement. A negative value never stops early.
	Tolerance float64
	Kernel    kernels.Kernel
	NoiseVar  float64

	Observer optimization.Observer
	Logger   *zap.Logger
}

// DefaultConfig returns the defaults over bounds: num_gangs in multiples of
// 32, vector_length in powers of two, six initial points and 30 guided
// measurements.
func DefaultConfig(bounds optimization.Bounds) Config {
	return Config{
		Bounds:        bounds,
		Layout:        grid.GangsVectorLayout(optimization.DefaultBlockSize),
		InitialPoints: 6,
		MaxIterations: 30,
		Xi:            0.01,
		Tolerance:     1e-6,
		NoiseVar:      1e-6,
	}
}

// Optimizer is a configured Bayesian lattice search.
type Optimizer struct {
	config     Config
	candidates []optimization.Point
	// features holds the normalized grid coordinates of every candidate.
	features *mat.Dense
	// axisLen is the number of grid values per axis.
	axisLen [optimization.Dims]int
}

// New validates config, fills unset fields from DefaultConfig and
// enumerates the candidates.
func New(config Config) (*Optimizer, error) {
	def := DefaultConfig(config.Bounds)
	if config.Name == "" {
		config.Name = Name
	}
	if config.Layout == (grid.Layout{}) {
		config.Layout = def.Layout
	}
	if config.InitialPoints == 0 {
		config.InitialPoints = def.InitialPoints
	}
	if config.MaxIterations == 0 {
		config.MaxIterations = def.MaxIterations
	}
	if config.Xi == 0 {
		config.Xi = def.Xi
	}
	if config.Tolerance == 0 {
		config.Tolerance = def.Tolerance
	}
	if config.NoiseVar == 0 {
		config.NoiseVar = def.NoiseVar
	}
	if config.Kernel == nil {
		k, err := kernels.NewMatern52Kernel(0.25, 1)
		if err != nil {
			return nil, err
		}
		config.Kernel = k
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	invalid := func(format string, args ...interface{}) error {
		return optimization.WrapErrorf(optimization.ErrInvalidConfig, format, args...).
			WithComponent(config.Name).WithOperation("New")
	}
	switch {
	case config.InitialPoints < 1:
		return nil, invalid("initial points must be positive, got %d", config.InitialPoints)
	case config.MaxIterations < 0:
		return nil, invalid("max iterations must not be negative, got %d", config.MaxIterations)
	case config.Xi < 0:
		return nil, invalid("xi must not be negative, got %g", config.Xi)
	case config.NoiseVar < 0:
		return nil, invalid("noise variance must not be negative, got %g", config.NoiseVar)
	}
	for i, rule := range config.Layout {
		if rule == nil {
			return nil, invalid("axis %d has no step rule", i)
		}
	}
	if err := config.Bounds.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid bounds").
			WithComponent(config.Name).WithOperation("New")
	}

	var axes [optimization.Dims][]float64
	var axisLen [optimization.Dims]int
	for i, rule := range config.Layout {
		axes[i] = rule.Values(config.Bounds[i])
		axisLen[i] = len(axes[i])
	}
	candidates := config.Layout.Candidates(config.Bounds)
	if len(candidates) == 0 {
		return nil, invalid("layout %s x %s admits no points in %v",
			config.Layout[0], config.Layout[1], config.Bounds)
	}

	// Candidates are axis-0-major, so candidate c sits at grid index
	// (c / n1, c % n1).
	features := mat.NewDense(len(candidates), optimization.Dims, nil)
	for c := range candidates {
		idx := [optimization.Dims]int{c / axisLen[1], c % axisLen[1]}
		for d := range idx {
			if axisLen[d] > 1 {
				features.Set(c, d, float64(idx[d])/float64(axisLen[d]-1))
			}
		}
	}

	return &Optimizer{
		config:     config,
		candidates: candidates,
		features:   features,
		axisLen:    axisLen,
	}, nil
}

// Name implements optimization.Strategy.
func (o *Optimizer) Name() string { return o.config.Name }

// Candidates returns the lattice points the search chooses from.
func (o *Optimizer) Candidates() []optimization.Point {
	return append([]optimization.Point(nil), o.candidates...)
}

// Search implements optimization.Strategy.
func (o *Optimizer) Search(objective optimization.Objective) (*optimization.Result, error) {
	ev := optimization.NewEvaluator(objective, o.config.Observer)
	log := o.config.Logger.Named("bayes")

	for _, c := range o.initialDesign() {
		ev.Evaluate(o.candidates[c])
	}

	iterations := 0
	converged := false
	for iterations < o.config.MaxIterations {
		next, ok := o.next(ev, log)
		if !ok {
			converged = true
			break
		}
		iterations++
		ev.Evaluate(o.candidates[next])
	}

	best, _ := ev.Best()
	return ev.Result(o.config.Name, best, iterations, converged), nil
}

// initialDesign picks a Latin hypercube over the grid indices: every
// design point gets its own stratum on each axis, and the strata of the
// second axis are visited with a stride coprime to the design size.
func (o *Optimizer) initialDesign() []int {
	k := o.config.InitialPoints
	if k > len(o.candidates) {
		k = len(o.candidates)
	}
	stride := coprimeStride(k)

	design := make([]int, 0, k)
	for i := 0; i < k; i++ {
		i0 := stratum(i, k, o.axisLen[0])
		i1 := stratum((i*stride)%k, k, o.axisLen[1])
		design = append(design, i0*o.axisLen[1]+i1)
	}
	return design
}

// stratum maps stratum s of k to the grid index at its center.
func stratum(s, k, n int) int {
	idx := int((float64(s) + 0.5) / float64(k) * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// coprimeStride returns the smallest stride of at least 0.618k that is
// coprime to k.
func coprimeStride(k int) int {
	if k <= 2 {
		return 1
	}
	s := int(math.Ceil(0.618 * float64(k)))
	for gcd(s, k) != 1 {
		s++
	}
	return s
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// next returns the unvisited candidate with the largest expected
// improvement, or false when the candidates are exhausted or none is
// expected to improve by more than the tolerance.
func (o *Optimizer) next(ev *optimization.Evaluator, log *zap.Logger) (int, bool) {
	var visited, open []int
	for c, p := range o.candidates {
		if ev.Visited(p) {
			visited = append(visited, c)
		} else {
			open = append(open, c)
		}
	}
	if len(open) == 0 {
		return 0, false
	}

	y, best, ok := o.targets(ev, visited)
	if !ok {
		// Nothing measured successfully yet: keep exploring in order.
		return open[0], true
	}

	X := mat.NewDense(len(visited), optimization.Dims, nil)
	for i, c := range visited {
		X.SetRow(i, o.features.RawRowView(c))
	}
	gp := NewGP(o.config.Kernel, o.config.NoiseVar, log)
	if err := gp.Fit(X, y); err != nil {
		log.Debug("Falling back to enumeration order", zap.Error(err))
		return open[0], true
	}

	Xs := mat.NewDense(len(open), optimization.Dims, nil)
	for i, c := range open {
		Xs.SetRow(i, o.features.RawRowView(c))
	}
	mean, variance, err := gp.Predict(Xs)
	if err != nil {
		log.Debug("Falling back to enumeration order", zap.Error(err))
		return open[0], true
	}

	ei := acquisition.NewExpectedImprovement(best, o.config.Xi)
	pick, top := open[0], math.Inf(-1)
	for i, c := range open {
		if v := ei.Compute(mean.AtVec(i), math.Sqrt(variance.AtVec(i))); v > top {
			pick, top = c, v
		}
	}
	if o.config.Tolerance >= 0 && top <= o.config.Tolerance {
		return 0, false
	}
	return pick, true
}

// targets standardizes the measured costs of visited. Failed points are
// scored one unit above the worst success. ok is false when nothing
// succeeded.
func (o *Optimizer) targets(ev *optimization.Evaluator, visited []int) (y *mat.VecDense, best float64, ok bool) {
	ledger := ev.Ledger()
	var costs []float64
	for _, c := range visited {
		if out := ledger[o.candidates[c]]; !out.HasFailure() {
			costs = append(costs, out.Average)
		}
	}
	if len(costs) == 0 {
		return nil, 0, false
	}

	mean, sd := stat.MeanStdDev(costs, nil)
	if !(sd > 0) {
		sd = 1
	}
	best, worst := math.Inf(1), math.Inf(-1)
	for _, c := range costs {
		best = math.Min(best, (c-mean)/sd)
		worst = math.Max(worst, (c-mean)/sd)
	}

	y = mat.NewVecDense(len(visited), nil)
	for i, c := range visited {
		out := ledger[o.candidates[c]]
		if out.HasFailure() {
			y.SetVec(i, worst+1)
			continue
		}
		y.SetVec(i, (out.Average-mean)/sd)
	}
	return y, best, true
}
