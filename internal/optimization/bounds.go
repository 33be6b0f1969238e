package optimization

import "math"

// Range is an inclusive interval on one axis.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether x lies within the range.
func (r Range) Contains(x float64) bool {
	return x >= r.Min && x <= r.Max
}

// Bounds holds one Range per axis.
type Bounds [Dims]Range

// NewBounds creates bounds from num_gangs and vector_length ranges.
func NewBounds(numGangs, vectorLength Range) Bounds {
	return Bounds{numGangs, vectorLength}
}

// Contains reports whether every coordinate of p lies within its range.
func (b Bounds) Contains(p Point) bool {
	for i, r := range b {
		if !r.Contains(p[i]) {
			return false
		}
	}
	return true
}

// Validate rejects inverted or non-finite bounds.
func (b Bounds) Validate() error {
	for i, r := range b {
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
			return WrapErrorf(ErrInvalidBounds, "axis %d has non-finite bounds [%g, %g]", i, r.Min, r.Max).
				WithOperation("Bounds.Validate")
		}
		if r.Min > r.Max {
			return WrapErrorf(ErrInvalidBounds, "axis %d minimum %g exceeds maximum %g", i, r.Min, r.Max).
				WithOperation("Bounds.Validate")
		}
	}
	return nil
}
