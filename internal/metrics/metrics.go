// Package metrics exposes Prometheus collectors for tuning runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// Metrics holds the tuner collectors.
type Metrics struct {
	evaluations *prometheus.CounterVec
	searches    *prometheus.CounterVec
	iterations  *prometheus.HistogramVec
	duration    *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acctune_evaluations_total",
			Help: "Distinct points measured, by method and status",
		}, []string{"method", "status"}),
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acctune_searches_total",
			Help: "Finished searches, by method and result",
		}, []string{"method", "result"}),
		iterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acctune_search_iterations",
			Help:    "Iterations consumed per search",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"method"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acctune_search_duration_seconds",
			Help:    "Wall clock duration of a search",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"method"}),
	}
}

// Observer counts every measurement made by method.
func (m *Metrics) Observer(method string) optimization.Observer {
	ok := m.evaluations.WithLabelValues(method, "ok")
	return optimization.ObserverFunc(func(ev optimization.Evaluation) {
		if ev.Outcome.HasFailure() {
			m.evaluations.WithLabelValues(method, string(ev.Outcome.Failure)).Inc()
			return
		}
		ok.Inc()
	})
}

// SearchFinished implements tuner.Recorder.
func (m *Metrics) SearchFinished(result *optimization.Result, elapsed time.Duration) {
	outcome := "converged"
	switch {
	case result.Best().HasFailure():
		outcome = "failed"
	case !result.Converged:
		outcome = "iteration_cap"
	}
	m.searches.WithLabelValues(result.Method, outcome).Inc()
	m.iterations.WithLabelValues(result.Method).Observe(float64(result.Iterations))
	m.duration.WithLabelValues(result.Method).Observe(elapsed.Seconds())
}

// SearchCancelled counts a search stopped by its caller.
func (m *Metrics) SearchCancelled(method string) {
	m.searches.WithLabelValues(method, "cancelled").Inc()
}
