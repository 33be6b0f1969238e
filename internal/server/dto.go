package server

import (
	"time"

	"github.com/copyleftdev/acctune/internal/optimization"
	"github.com/copyleftdev/acctune/internal/optimization/stats"
	"github.com/copyleftdev/acctune/internal/tuner"
)

// BoundsRequest is the JSON form of optimization.Bounds.
type BoundsRequest struct {
	NumGangs     optimization.Range `json:"num_gangs"`
	VectorLength optimization.Range `json:"vector_length"`
}

// Measurement is one recorded point of a replay table.
type Measurement struct {
	NumGangs     float64 `json:"num_gangs"`
	VectorLength float64 `json:"vector_length"`
	Time         float64 `json:"time"`
	StdDev       float64 `json:"stdev"`
	Error        string  `json:"error,omitempty"`
}

// Outcome returns the measurement as an optimization outcome.
func (m Measurement) Outcome() optimization.Outcome {
	p := optimization.NewPoint(m.NumGangs, m.VectorLength)
	if m.Error != "" {
		return optimization.Failed(p, optimization.Failure(m.Error))
	}
	return optimization.Success(p, m.Time, m.StdDev)
}

// TuneRequest starts a replay backed tuning run.
type TuneRequest struct {
	Method        string         `json:"method"`
	Bounds        *BoundsRequest `json:"bounds,omitempty"`
	MaxIterations int            `json:"max_iterations,omitempty"`
	Repetitions   int            `json:"repetitions,omitempty"`
	Workers       int            `json:"workers,omitempty"`
	Measurements  []Measurement  `json:"measurements"`
}

// Options merges the request over defaults.
func (r TuneRequest) Options(defaults tuner.Options) tuner.Options {
	opts := defaults
	if r.Method != "" {
		opts.Method = r.Method
	}
	if r.Bounds != nil {
		opts.Bounds = optimization.NewBounds(r.Bounds.NumGangs, r.Bounds.VectorLength)
	}
	if r.MaxIterations != 0 {
		opts.MaxIterations = r.MaxIterations
	}
	if r.Repetitions != 0 {
		opts.Repetitions = r.Repetitions
	}
	if r.Workers != 0 {
		opts.Workers = r.Workers
	}
	return opts
}

// StartResponse acknowledges a new run.
type StartResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PointResult is the JSON form of an outcome. Time and StdDev are omitted
// for failures.
type PointResult struct {
	NumGangs     float64  `json:"num_gangs"`
	VectorLength float64  `json:"vector_length"`
	Time         *float64 `json:"time,omitempty"`
	StdDev       *float64 `json:"stdev,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func pointResult(out optimization.Outcome) PointResult {
	pr := PointResult{NumGangs: out.Point.NumGangs(), VectorLength: out.Point.VectorLength()}
	if out.HasFailure() {
		pr.Error = string(out.Failure)
		return pr
	}
	avg, sd := out.Average, out.StdDev
	pr.Time, pr.StdDev = &avg, &sd
	return pr
}

// StatusResponse reports the state of a run.
type StatusResponse struct {
	ID          string        `json:"id"`
	Method      string        `json:"method"`
	Status      string        `json:"status"`
	StartTime   time.Time     `json:"start_time"`
	LastUpdated time.Time     `json:"last_update"`
	EndTime     *time.Time    `json:"end_time,omitempty"`
	Evaluations int           `json:"evaluations"`
	Best        *PointResult  `json:"best,omitempty"`
	Iterations  int           `json:"iterations,omitempty"`
	Converged   bool          `json:"converged,omitempty"`
	Ledger      []PointResult `json:"ledger,omitempty"`
	Percentile  *int          `json:"percentile,omitempty"`
	Significant *bool         `json:"significant,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// SignificanceRequest compares two samples.
type SignificanceRequest struct {
	A stats.Sample `json:"a"`
	B stats.Sample `json:"b"`
}

// SignificanceResponse is the comparator verdict.
type SignificanceResponse struct {
	Significant bool    `json:"significant"`
	Low         float64 `json:"low"`
	High        float64 `json:"high"`
}
