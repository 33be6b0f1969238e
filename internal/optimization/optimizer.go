package optimization

// Strategy is a search method over the tuning lattice.
type Strategy interface {
	// Name returns the registered method name, e.g. "nelder-mead".
	Name() string

	// Search drives the objective until the method terminates. It returns
	// an error only for configuration faults; measurement failures are
	// carried in the ledger.
	Search(objective Objective) (*Result, error)
}

// Result contains the outcome of a search run.
type Result struct {
	// Method is the strategy name that produced the result.
	Method string
	// Optimal is the best point found.
	Optimal Point
	// Ledger maps every evaluated point to its outcome.
	Ledger Ledger
	// History lists the same evaluations in invocation order.
	History []Evaluation
	// Iterations is the number of iterations the strategy consumed.
	Iterations int
	// Converged is true when the strategy stopped on its own criterion
	// rather than the iteration cap.
	Converged bool
}

// Best returns the outcome of the optimal point.
func (r *Result) Best() Outcome {
	return r.Ledger[r.Optimal]
}

// Ranked returns the evaluations ordered from best to worst.
func (r *Result) Ranked() []Evaluation {
	return RankHistory(r.History)
}
