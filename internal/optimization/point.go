package optimization

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Dims is the dimensionality of the tuning space: num_gangs and vector_length.
const Dims = 2

// Point is a candidate configuration in the tuning space.
//
// Point is a value type. Two points are equal when every coordinate is
// exactly equal, which makes Point usable as a map key.
type Point [Dims]float64

// NewPoint creates a point from its num_gangs and vector_length coordinates.
func NewPoint(numGangs, vectorLength float64) Point {
	return Point{numGangs, vectorLength}
}

// Zero returns the neutral element for Add.
func Zero() Point {
	return Point{}
}

// NumGangs returns the parallelism-width coordinate.
func (p Point) NumGangs() float64 { return p[0] }

// VectorLength returns the vector-width coordinate.
func (p Point) VectorLength() float64 { return p[1] }

// Add returns p + q.
func (p Point) Add(q Point) Point {
	var out Point
	floats.AddTo(out[:], p[:], q[:])
	return out
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	var out Point
	floats.SubTo(out[:], p[:], q[:])
	return out
}

// Scale returns p multiplied by the scalar c.
func (p Point) Scale(c float64) Point {
	var out Point
	floats.ScaleTo(out[:], c, p[:])
	return out
}

// Div returns p divided by the scalar c.
func (p Point) Div(c float64) Point {
	var out Point
	for i, v := range p {
		out[i] = v / c
	}
	return out
}

// Equal reports whether p and q are structurally equal.
func (p Point) Equal(q Point) bool {
	return p == q
}

// String renders the point as Point(x, y).
func (p Point) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "Point(" + strings.Join(parts, ", ") + ")"
}

// Sum adds the given points. The sum of no points is Zero().
func Sum(points ...Point) Point {
	total := Zero()
	for _, p := range points {
		total = total.Add(p)
	}
	return total
}

// Centroid returns the arithmetic mean of the given points.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Zero()
	}
	return Sum(points...).Div(float64(len(points)))
}
