package optimization

import "math"

// DefaultBlockSize is the num_gangs granularity used by the accelerator
// rounding and neighbor rules.
const DefaultBlockSize = 32

// RoundFunc maps an arbitrary point to a valid lattice point. Implementations
// must be idempotent.
type RoundFunc func(Point) Point

// NeighborFunc returns candidate points around p in a deterministic order.
type NeighborFunc func(p Point) []Point

// AcceleratorRound snaps num_gangs to the nearest multiple of block and
// vector_length to the nearest power of two. Both coordinates are at least 1.
// Halfway cases round to even.
func AcceleratorRound(block float64) RoundFunc {
	return func(p Point) Point {
		return Point{
			RoundMultiple(p[0], block),
			RoundPow2(p[1]),
		}
	}
}

// RoundMultiple rounds x to the nearest multiple of step, never below 1.
func RoundMultiple(x, step float64) float64 {
	if math.IsNaN(x) {
		return 1
	}
	return math.Max(math.RoundToEven(x/step)*step, 1)
}

// RoundPow2 rounds x to the nearest power of two in log space, never below 1.
// Non-positive inputs map to 1.
func RoundPow2(x float64) float64 {
	if !(x > 0) {
		return 1
	}
	exp := math.RoundToEven(math.Log2(x))
	switch {
	case exp < 0:
		return 1
	case math.IsInf(exp, 1):
		return x
	}
	return math.Ldexp(1, int(exp))
}

// AcceleratorNeighbors perturbs num_gangs by {-block, 0, +block} and
// vector_length by {x0.5, x1, x2}, skipping the identity. Points are emitted
// num_gangs-major: (-block, x0.5), (-block, x1), (-block, x2), (0, x0.5), ...
func AcceleratorNeighbors(block float64) NeighborFunc {
	return func(p Point) []Point {
		out := make([]Point, 0, 8)
		for _, dg := range []float64{-block, 0, block} {
			for _, fv := range []float64{0.5, 1, 2} {
				if dg == 0 && fv == 1 {
					continue
				}
				out = append(out, Point{p[0] + dg, p[1] * fv})
			}
		}
		return out
	}
}
