// Package optimizationtest provides synthetic objectives for testing search
// strategies.
package optimizationtest

import (
	"math/rand"
	"testing"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// Quadratic returns a convex objective with its minimum at target.
func Quadratic(target optimization.Point) optimization.Objective {
	return func(p optimization.Point) optimization.Outcome {
		d := p.Sub(target)
		return optimization.Success(p, d[0]*d[0]+d[1]*d[1], 0)
	}
}

// Flat returns an objective reporting the same outcome everywhere.
func Flat(average, stdDev float64) optimization.Objective {
	return func(p optimization.Point) optimization.Outcome {
		return optimization.Success(p, average, stdDev)
	}
}

// Noisy adds uniform noise in [-scale/2, scale/2) to objective. The standard
// deviation reported is scale.
func Noisy(objective optimization.Objective, scale float64, seed int64) optimization.Objective {
	rng := rand.New(rand.NewSource(seed))
	return func(p optimization.Point) optimization.Outcome {
		out := objective(p)
		if out.HasFailure() {
			return out
		}
		out.Average += scale * (rng.Float64() - 0.5)
		out.StdDev = scale
		return out
	}
}

// Counter wraps an objective and records every invocation.
type Counter struct {
	objective optimization.Objective
	calls     map[optimization.Point]int
	order     []optimization.Point
}

// NewCounter wraps objective.
func NewCounter(objective optimization.Objective) *Counter {
	return &Counter{
		objective: objective,
		calls:     make(map[optimization.Point]int),
	}
}

// Objective returns the counting objective.
func (c *Counter) Objective() optimization.Objective {
	return func(p optimization.Point) optimization.Outcome {
		c.calls[p]++
		c.order = append(c.order, p)
		return c.objective(p)
	}
}

// Total returns the number of invocations.
func (c *Counter) Total() int {
	return len(c.order)
}

// Calls returns how many times p was measured.
func (c *Counter) Calls(p optimization.Point) int {
	return c.calls[p]
}

// Order returns the points in invocation order.
func (c *Counter) Order() []optimization.Point {
	return c.order
}

// AssertNoDuplicates fails the test when any point was measured more than
// once, or when the ledger and the invocation count disagree.
func (c *Counter) AssertNoDuplicates(t testing.TB, result *optimization.Result) {
	t.Helper()

	for p, n := range c.calls {
		if n != 1 {
			t.Fatalf("point %v measured %d times", p, n)
		}
	}
	if len(result.Ledger) != c.Total() {
		t.Fatalf("ledger has %d points but objective was called %d times", len(result.Ledger), c.Total())
	}
	if len(result.History) != c.Total() {
		t.Fatalf("history has %d entries but objective was called %d times", len(result.History), c.Total())
	}
}
