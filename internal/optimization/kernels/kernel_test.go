package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/acctune/internal/optimization"
)

func TestRBFKernel(t *testing.T) {
	tests := []struct {
		name     string
		x1       []float64
		x2       []float64
		ls       float64
		sv       float64
		expected float64
	}{
		{"same point", []float64{1, 2}, []float64{1, 2}, 1, 1, 1},
		{"different points", []float64{0, 0}, []float64{1, 1}, 1, 1, math.Exp(-1)},
		{"with different length scale", []float64{0, 0}, []float64{2, 2}, 2, 1, math.Exp(-1)},
		{"signal variance scales", []float64{0, 0}, []float64{0, 0}, 1, 2.5, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel, err := NewRBFKernel(tt.ls, tt.sv)
			require.NoError(t, err)

			assert.InDelta(t, tt.expected, kernel.Eval(tt.x1, tt.x2), 1e-12)
			assert.InDelta(t, kernel.Eval(tt.x1, tt.x2), kernel.Eval(tt.x2, tt.x1), 1e-12, "kernel is not symmetric")
		})
	}
}

func TestMatern52Kernel(t *testing.T) {
	kernel, err := NewMatern52Kernel(1, 1)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, kernel.Eval([]float64{3, 4}, []float64{3, 4}), 1e-12)

	// r = sqrt(5) for unit distance
	r := math.Sqrt(5)
	want := (1 + r + r*r/3) * math.Exp(-r)
	assert.InDelta(t, want, kernel.Eval([]float64{0, 0}, []float64{1, 0}), 1e-12)

	// Covariance decays with distance.
	near := kernel.Eval([]float64{0, 0}, []float64{0.1, 0})
	far := kernel.Eval([]float64{0, 0}, []float64{2, 0})
	assert.Greater(t, near, far)
	assert.Greater(t, far, 0.0)
}

func TestHyperparameters(t *testing.T) {
	for _, k := range []Kernel{mustRBF(t), mustMatern(t)} {
		assert.Equal(t, []float64{0.5, 2}, k.Hyperparameters())

		require.NoError(t, k.SetHyperparameters([]float64{1, 3}))
		assert.Equal(t, []float64{1, 3}, k.Hyperparameters())

		assert.ErrorIs(t, k.SetHyperparameters([]float64{1}), optimization.ErrInvalidConfig)
		assert.ErrorIs(t, k.SetHyperparameters([]float64{0, 1}), optimization.ErrInvalidConfig)
		assert.ErrorIs(t, k.SetHyperparameters([]float64{1, math.Inf(1)}), optimization.ErrInvalidConfig)
		assert.Equal(t, []float64{1, 3}, k.Hyperparameters())
	}
}

func TestInvalidKernels(t *testing.T) {
	_, err := NewRBFKernel(0, 1)
	assert.ErrorIs(t, err, optimization.ErrInvalidConfig)

	_, err = NewMatern52Kernel(1, -1)
	assert.ErrorIs(t, err, optimization.ErrInvalidConfig)

	_, err = NewMatern52Kernel(math.NaN(), 1)
	assert.ErrorIs(t, err, optimization.ErrInvalidConfig)
}

func mustRBF(t *testing.T) Kernel {
	k, err := NewRBFKernel(0.5, 2)
	require.NoError(t, err)
	return k
}

func mustMatern(t *testing.T) Kernel {
	k, err := NewMatern52Kernel(0.5, 2)
	require.NoError(t, err)
	return k
}
