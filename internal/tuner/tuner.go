// Package tuner wires a search strategy, the range guard and the result
// reporting into a single tuning run.
package tuner

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/acctune/internal/optimization"
	"github.com/copyleftdev/acctune/internal/optimization/stats"
)

// Reference is prior knowledge about the search space, typically a full
// replay table.
type Reference interface {
	// KnownBest returns the best recorded outcome.
	KnownBest() optimization.Outcome
	// Percentile returns the share of recorded points, in percent, whose
	// time is at most t.
	Percentile(t float64) int
}

// Recorder is notified once per finished search.
type Recorder interface {
	SearchFinished(result *optimization.Result, elapsed time.Duration)
}

// Report is the outcome of a tuning run.
type Report struct {
	Result  *optimization.Result
	Best    optimization.Outcome
	Elapsed time.Duration

	// The fields below are only set when a reference was supplied.
	Reference       optimization.Outcome
	HasReference    bool
	Percentile      int
	Significant     bool
	SignificanceErr error
}

// Tuner runs one configured search.
type Tuner struct {
	opts     Options
	logger   *zap.Logger
	strategy optimization.Strategy
	recorder Recorder
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithRecorder reports finished searches to r.
func WithRecorder(r Recorder) Option {
	return func(t *Tuner) { t.recorder = r }
}

// New validates opts and builds the strategy. Additional observers receive
// every measurement alongside the logging observer.
func New(opts Options, logger *zap.Logger, observers []optimization.Observer, options ...Option) (*Tuner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger = logger.Named("tuner").With(zap.String("method", opts.Method))
	obs := optimization.Observers(append([]optimization.Observer{LogObserver(logger)}, observers...)...)
	strategy, err := NewStrategy(opts, obs)
	if err != nil {
		return nil, err
	}

	t := &Tuner{opts: opts, logger: logger, strategy: strategy}
	for _, o := range options {
		o(t)
	}
	return t, nil
}

// Options returns the validated options.
func (t *Tuner) Options() Options { return t.opts }

// Run searches objective within the configured bounds. ref may be nil.
func (t *Tuner) Run(objective optimization.Objective, ref Reference) (*Report, error) {
	start := time.Now()
	result, err := t.strategy.Search(RangeGuard(t.opts.Bounds, objective))
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	if t.recorder != nil {
		t.recorder.SearchFinished(result, elapsed)
	}

	report := &Report{Result: result, Best: result.Best(), Elapsed: elapsed}
	t.logResult(report)

	if ref != nil {
		t.compare(report, ref)
	}
	return report, nil
}

func (t *Tuner) logResult(report *Report) {
	ranked := report.Result.Ranked()
	t.logger.Info("-- RESULTS --")
	for i := len(ranked) - 1; i >= 0; i-- {
		t.logger.Info(ranked[i].Outcome.String())
	}
	t.logger.Info("-------------")
	t.logger.Info("Search finished",
		zap.Int("points", len(report.Result.Ledger)),
		zap.Int("iterations", report.Result.Iterations),
		zap.Bool("converged", report.Result.Converged),
		zap.Duration("elapsed", report.Elapsed),
	)
	t.logger.Info("Best result found: " + report.Best.String())
}

func (t *Tuner) compare(report *Report, ref Reference) {
	known := ref.KnownBest()
	report.Reference = known
	report.HasReference = true
	report.Percentile = ref.Percentile(report.Best.Average)

	t.logger.Info("Optimal result from test data: " + known.String())
	t.logger.Info("Percentile of best result", zap.Int("percentile", report.Percentile))

	if known.HasFailure() || report.Best.HasFailure() {
		report.SignificanceErr = optimization.WrapError(optimization.ErrIndeterminate,
			"cannot compare failed measurements").WithOperation("Run").WithComponent("tuner")
	} else {
		n := t.opts.Repetitions
		report.Significant, report.SignificanceErr = stats.IsDiffSignificant(
			stats.SampleOf(known, n), stats.SampleOf(report.Best, n))
	}

	switch {
	case errors.Is(report.SignificanceErr, optimization.ErrIndeterminate):
		t.logger.Warn("Unable to perform T-test", zap.Error(report.SignificanceErr))
	case report.SignificanceErr != nil:
		t.logger.Error("T-test failed", zap.Error(report.SignificanceErr))
	case report.Significant:
		t.logger.Warn("Best result found differs from optimal result")
	default:
		t.logger.Info("No statistically significant difference")
	}
}
