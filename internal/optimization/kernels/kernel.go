// Package kernels provides covariance functions for the Gaussian-process
// surrogate used by the Bayesian lattice search.
package kernels

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// Kernel is a covariance function over feature vectors.
type Kernel interface {
	// Eval computes the covariance between x1 and x2.
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the length scale and the signal variance.
	Hyperparameters() []float64

	// SetHyperparameters replaces the length scale and the signal variance.
	SetHyperparameters(params []float64) error
}

// params holds the hyperparameters shared by the stationary kernels.
type params struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

func newParams(kernel string, lengthScale, signalVar float64) (params, error) {
	p := params{}
	if err := p.set(kernel, []float64{lengthScale, signalVar}); err != nil {
		return params{}, err
	}
	return p, nil
}

func (p *params) set(kernel string, values []float64) error {
	if len(values) != 2 {
		return optimization.WrapErrorf(optimization.ErrInvalidConfig,
			"expected 2 hyperparameters, got %d", len(values)).WithComponent(kernel)
	}
	for _, v := range values {
		if !(v > 0) || math.IsInf(v, 0) {
			return optimization.WrapErrorf(optimization.ErrInvalidConfig,
				"hyperparameters must be positive and finite, got %v", values).WithComponent(kernel)
		}
	}
	p.lengthScale, p.signalVar = values[0], values[1]
	return nil
}

func (p *params) Hyperparameters() []float64 {
	return []float64{p.lengthScale, p.signalVar}
}

// RBFKernel is the squared exponential kernel.
type RBFKernel struct {
	params
}

// NewRBFKernel creates an RBF kernel. Both parameters must be positive.
func NewRBFKernel(lengthScale, signalVar float64) (*RBFKernel, error) {
	p, err := newParams("rbf", lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &RBFKernel{params: p}, nil
}

// Eval implements Kernel.
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	d := floats.Distance(x1, x2, 2)
	return k.signalVar * math.Exp(-d*d/(2*k.lengthScale*k.lengthScale))
}

// SetHyperparameters implements Kernel.
func (k *RBFKernel) SetHyperparameters(values []float64) error {
	return k.set("rbf", values)
}

// Matern52Kernel is the Matérn 5/2 kernel.
type Matern52Kernel struct {
	params
}

// NewMatern52Kernel creates a Matérn 5/2 kernel. Both parameters must be
// positive.
func NewMatern52Kernel(lengthScale, signalVar float64) (*Matern52Kernel, error) {
	p, err := newParams("matern52", lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &Matern52Kernel{params: p}, nil
}

// Eval implements Kernel.
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := math.Sqrt(5) * floats.Distance(x1, x2, 2) / k.lengthScale
	return k.signalVar * (1 + r + r*r/3) * math.Exp(-r)
}

// SetHyperparameters implements Kernel.
func (k *Matern52Kernel) SetHyperparameters(values []float64) error {
	return k.set("matern52", values)
}
