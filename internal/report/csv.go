// Package report writes tuning results to CSV and gnuplot files.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// CSVWriter streams outcomes as CSV rows, flushing after every row so that
// an interrupted run leaves a usable replay file.
//
// CSVWriter is safe for concurrent use.
type CSVWriter struct {
	mu sync.Mutex
	w  *csv.Writer
}

// NewCSVWriter writes the header to w.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w)}
	if err := cw.write([]string{"num_gangs", "vector_length", "time", "stdev", "error msg"}); err != nil {
		return nil, err
	}
	return cw, nil
}

// Add writes one outcome.
func (c *CSVWriter) Add(out optimization.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write([]string{
		strconv.FormatFloat(out.Point.NumGangs(), 'f', 0, 64),
		strconv.FormatFloat(out.Point.VectorLength(), 'f', 0, 64),
		formatFloat(out.Average),
		formatFloat(out.StdDev),
		string(out.Failure),
	})
}

// Evaluated implements optimization.Observer. Points rejected by the range
// guard were never measured and are not written. Write errors are dropped;
// use Add directly to observe them.
func (c *CSVWriter) Evaluated(ev optimization.Evaluation) {
	if ev.Outcome.Failure == optimization.FailureOutOfRange {
		return
	}
	_ = c.Add(ev.Outcome)
}

func (c *CSVWriter) write(record []string) error {
	return writeRow(c.w, record)
}

// RunWriter streams every individual run time as a
// num_gangs,vector_length,time row.
//
// RunWriter is safe for concurrent use.
type RunWriter struct {
	mu  sync.Mutex
	w   *csv.Writer
	err error
}

// NewRunWriter writes the header to w.
func NewRunWriter(w io.Writer) (*RunWriter, error) {
	rw := &RunWriter{w: csv.NewWriter(w)}
	if err := writeRow(rw.w, []string{"num_gangs", "vector_length", "time"}); err != nil {
		return nil, err
	}
	return rw, nil
}

// RecordRun implements measure.RunRecorder. The first write error is kept
// and reported by Err.
func (r *RunWriter) RecordRun(p optimization.Point, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = writeRow(r.w, []string{
		strconv.FormatFloat(p.NumGangs(), 'f', 0, 64),
		strconv.FormatFloat(p.VectorLength(), 'f', 0, 64),
		formatFloat(seconds),
	})
}

// Err returns the first write error.
func (r *RunWriter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func writeRow(w *csv.Writer, record []string) error {
	if err := w.Write(record); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
