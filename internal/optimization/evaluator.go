package optimization

import "sort"

// Objective measures a point. It must be total: every failure is reported
// through the returned Outcome, never by panicking.
type Objective func(Point) Outcome

// Ledger maps every evaluated point to its outcome.
type Ledger map[Point]Outcome

// Evaluation is a single invocation of the underlying objective.
type Evaluation struct {
	// Index is the zero-based position of the call within the run.
	Index   int
	Outcome Outcome
}

// Observer receives every new evaluation as it happens.
type Observer interface {
	Evaluated(ev Evaluation)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Evaluation)

// Evaluated implements Observer.
func (f ObserverFunc) Evaluated(ev Evaluation) { f(ev) }

// Observers fans an evaluation out to several observers. Nil entries are
// skipped.
func Observers(obs ...Observer) Observer {
	return ObserverFunc(func(ev Evaluation) {
		for _, o := range obs {
			if o != nil {
				o.Evaluated(ev)
			}
		}
	})
}

// Memoize wraps objective so that structurally-equal points are measured
// once. Every distinct point is recorded in ledger.
func Memoize(objective Objective, ledger Ledger) Objective {
	return func(p Point) Outcome {
		if out, ok := ledger[p]; ok {
			return out
		}
		out := objective(p)
		out.Point = p
		ledger[p] = out
		return out
	}
}

// Evaluator is the memoized objective shared by every strategy. It keeps the
// ledger and the order in which points were first measured.
//
// An Evaluator belongs to a single search run and is not safe for
// concurrent use.
type Evaluator struct {
	objective Objective
	observer  Observer
	ledger    Ledger
	history   []Evaluation
}

// NewEvaluator wraps objective. observer may be nil.
func NewEvaluator(objective Objective, observer Observer) *Evaluator {
	return &Evaluator{
		objective: objective,
		observer:  observer,
		ledger:    make(Ledger),
	}
}

// Evaluate returns the outcome for p, invoking the objective only the first
// time p is seen.
func (e *Evaluator) Evaluate(p Point) Outcome {
	if out, ok := e.ledger[p]; ok {
		return out
	}
	out := e.objective(p)
	e.record(p, out)
	return out
}

// record stores an outcome that was measured outside Evaluate. It is a
// no-op for points already in the ledger.
func (e *Evaluator) record(p Point, out Outcome) {
	if _, ok := e.ledger[p]; ok {
		return
	}
	out.Point = p
	e.ledger[p] = out
	ev := Evaluation{Index: len(e.history), Outcome: out}
	e.history = append(e.history, ev)
	if e.observer != nil {
		e.observer.Evaluated(ev)
	}
}

// Record stores an outcome measured by the caller, for strategies that
// invoke the objective themselves (for example in parallel). The first
// recorded outcome for a point wins.
func (e *Evaluator) Record(out Outcome) {
	e.record(out.Point, out)
}

// Objective returns the raw objective wrapped by the evaluator.
func (e *Evaluator) Objective() Objective {
	return e.objective
}

// Visited reports whether p has already been evaluated.
func (e *Evaluator) Visited(p Point) bool {
	_, ok := e.ledger[p]
	return ok
}

// Calls returns the number of distinct objective invocations so far.
func (e *Evaluator) Calls() int {
	return len(e.history)
}

// Ledger returns the point to outcome mapping. Callers must not modify it.
func (e *Evaluator) Ledger() Ledger {
	return e.ledger
}

// History returns the evaluations in invocation order.
func (e *Evaluator) History() []Evaluation {
	return e.history
}

// Best returns the best point evaluated so far. Ties go to the point that
// was evaluated first. ok is false when nothing has been evaluated.
func (e *Evaluator) Best() (best Point, ok bool) {
	if len(e.history) == 0 {
		return Point{}, false
	}
	ranked := RankHistory(e.history)
	return ranked[0].Outcome.Point, true
}

// Result packages the evaluator state into a search result.
func (e *Evaluator) Result(method string, optimal Point, iterations int, converged bool) *Result {
	return &Result{
		Method:     method,
		Optimal:    optimal,
		Ledger:     e.ledger,
		History:    e.history,
		Iterations: iterations,
		Converged:  converged,
	}
}

// RankHistory returns a copy of history ordered from best to worst outcome,
// keeping invocation order among ties.
func RankHistory(history []Evaluation) []Evaluation {
	ranked := append([]Evaluation(nil), history...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Outcome.Less(ranked[j].Outcome)
	})
	return ranked
}
