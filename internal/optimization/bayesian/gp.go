package bayesian

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/acctune/internal/optimization"
	"github.com/copyleftdev/acctune/internal/optimization/kernels"
)

// maxJitterAttempts bounds the diagonal jitter escalation in Fit.
const maxJitterAttempts = 10

// GP is a zero-mean Gaussian-process regression model.
type GP struct {
	kernel   kernels.Kernel
	noiseVar float64

	// Training inputs, one row per sample.
	X     *mat.Dense
	alpha *mat.VecDense
	chol  *mat.Cholesky

	logger *zap.Logger
}

// NewGP creates a model with the given kernel and observation noise. A nil
// logger discards output.
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		logger:   logger.Named("gaussian_process"),
	}
}

func gpError(err error, op string) error {
	return optimization.WrapError(err, "gaussian process").
		WithComponent("gaussian_process").WithOperation(op)
}

// Fit conditions the model on inputs X (n_samples x n_features) and targets
// y. When the covariance matrix is not numerically positive definite the
// diagonal jitter is raised tenfold until it factorizes.
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return gpError(errors.New("input matrices must not be nil"), op)
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return gpError(errors.New("input matrix X must not be empty"), op)
	}
	if nSamples != y.Len() {
		return gpError(fmt.Errorf("dimension mismatch: X has %d samples but y has length %d",
			nSamples, y.Len()), op)
	}

	K := mat.NewSymDense(nSamples, nil)
	for i := 0; i < nSamples; i++ {
		xi := X.RawRowView(i)
		for j := i; j < nSamples; j++ {
			K.SetSym(i, j, gp.kernel.Eval(xi, X.RawRowView(j)))
		}
	}

	var chol mat.Cholesky
	jitter := 0.0
	ok := false
	for attempt := 0; attempt < maxJitterAttempts; attempt++ {
		Kj := mat.NewSymDense(nSamples, nil)
		Kj.CopySym(K)
		for i := 0; i < nSamples; i++ {
			Kj.SetSym(i, i, K.At(i, i)+gp.noiseVar+jitter)
		}
		if ok = chol.Factorize(Kj); ok {
			break
		}
		gp.logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", jitter))
		if jitter == 0 {
			jitter = 1e-10
		} else {
			jitter *= 10
		}
	}
	if !ok {
		return gpError(errors.New("Cholesky decomposition failed: matrix is not positive definite"), op)
	}

	alpha := mat.NewVecDense(nSamples, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return gpError(fmt.Errorf("failed to solve linear system: %w", err), op)
	}

	gp.X = mat.DenseCopyOf(X)
	gp.alpha = alpha
	gp.chol = &chol

	gp.logger.Debug("Fitted GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("jitter", jitter),
	)
	return nil
}

// Predict returns the posterior mean and variance of the latent function at
// every row of X.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, gpError(errors.New("input matrix X is nil"), op)
	}
	if gp.X == nil || gp.alpha == nil {
		return nil, nil, gpError(errors.New("model not trained"), op)
	}

	nTest, testFeatures := X.Dims()
	nTrain, nFeatures := gp.X.Dims()
	if testFeatures != nFeatures {
		return nil, nil, gpError(fmt.Errorf("dimension mismatch: model has %d features, X has %d",
			nFeatures, testFeatures), op)
	}

	Kstar := mat.NewDense(nTest, nTrain, nil)
	for i := 0; i < nTest; i++ {
		xStar := X.RawRowView(i)
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, gp.kernel.Eval(xStar, gp.X.RawRowView(j)))
		}
	}

	mean := mat.NewVecDense(nTest, nil)
	mean.MulVec(Kstar, gp.alpha)

	// v = K^-1 K*^T, so var_i = k(x_i, x_i) - K*_i . v_i
	var v mat.Dense
	if err := gp.chol.SolveTo(&v, Kstar.T()); err != nil {
		return nil, nil, gpError(fmt.Errorf("failed to solve linear system: %w", err), op)
	}

	variance := mat.NewVecDense(nTest, nil)
	for i := 0; i < nTest; i++ {
		xStar := X.RawRowView(i)
		explained := mat.Dot(Kstar.RowView(i), v.ColView(i))
		// Clamp rounding noise below zero.
		variance.SetVec(i, math.Max(0, gp.kernel.Eval(xStar, xStar)-explained))
	}

	return mean, variance, nil
}
