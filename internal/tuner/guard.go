package tuner

import "github.com/copyleftdev/acctune/internal/optimization"

// RangeGuard returns an objective that reports FailureOutOfRange for points
// outside bounds without calling objective.
func RangeGuard(bounds optimization.Bounds, objective optimization.Objective) optimization.Objective {
	return func(p optimization.Point) optimization.Outcome {
		if !bounds.Contains(p) {
			return optimization.Failed(p, optimization.FailureOutOfRange)
		}
		return objective(p)
	}
}
