package grid

import (
	"fmt"
	"math"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// Rule enumerates the admissible values of one axis within a range.
type Rule interface {
	Values(r optimization.Range) []float64
	String() string
}

// PowersOfTwo admits 2^k for every k with 2^k inside the range.
type PowersOfTwo struct{}

// Values implements Rule.
func (PowersOfTwo) Values(r optimization.Range) []float64 {
	if r.Max < 1 || r.Max < r.Min {
		return nil
	}
	lo := math.Ceil(math.Log2(math.Max(r.Min, 1)))
	hi := math.Floor(math.Log2(r.Max))
	var out []float64
	for k := lo; k <= hi; k++ {
		out = append(out, math.Ldexp(1, int(k)))
	}
	return out
}

func (PowersOfTwo) String() string { return "pow2" }

// MultiplesOf admits every multiple of Step inside the range. A zero
// multiple is reported as 1.
type MultiplesOf struct {
	Step float64
}

// Values implements Rule.
func (m MultiplesOf) Values(r optimization.Range) []float64 {
	if !(m.Step > 0) || r.Max < r.Min {
		return nil
	}
	lo := math.Ceil(r.Min / m.Step)
	hi := math.Floor(r.Max / m.Step)
	var out []float64
	for k := lo; k <= hi; k++ {
		v := math.Max(k*m.Step, 1)
		if n := len(out); n > 0 && out[n-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (m MultiplesOf) String() string { return fmt.Sprintf("x%g", m.Step) }

// Layout assigns a rule to each axis.
type Layout [optimization.Dims]Rule

// Pow2Layout is powers of two on both axes.
func Pow2Layout() Layout {
	return Layout{PowersOfTwo{}, PowersOfTwo{}}
}

// MultiplesLayout is multiples of step on both axes.
func MultiplesLayout(step float64) Layout {
	return Layout{MultiplesOf{Step: step}, MultiplesOf{Step: step}}
}

// GangsVectorLayout is multiples of step for num_gangs and powers of two for
// vector_length.
func GangsVectorLayout(step float64) Layout {
	return Layout{MultiplesOf{Step: step}, PowersOfTwo{}}
}

// Candidates enumerates the grid axis-0-major.
func (l Layout) Candidates(b optimization.Bounds) []optimization.Point {
	xs := l[0].Values(b[0])
	ys := l[1].Values(b[1])
	out := make([]optimization.Point, 0, len(xs)*len(ys))
	for _, x := range xs {
		for _, y := range ys {
			out = append(out, optimization.NewPoint(x, y))
		}
	}
	return out
}
