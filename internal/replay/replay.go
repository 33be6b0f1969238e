// Package replay serves previously recorded measurements as an objective.
//
// Tables are read from the CSV files written by report.CSVWriter: a header
// of num_gangs, vector_length, time and stdev, plus an optional error msg
// column. A non-empty error msg marks the row as a failed measurement.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// Columns lists the header fields in the order they are written.
var Columns = []string{"num_gangs", "vector_length", "time", "stdev", "error msg"}

var required = Columns[:4]

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// Table is an immutable set of recorded outcomes.
type Table struct {
	rows   map[optimization.Point]optimization.Outcome
	sorted []optimization.Outcome
}

// New builds a table from outcomes. Later outcomes for the same point
// replace earlier ones.
func New(outcomes []optimization.Outcome) (*Table, error) {
	if len(outcomes) == 0 {
		return nil, optimization.WrapError(optimization.ErrNoSamples, "replay table is empty").
			WithComponent("replay").WithOperation("New")
	}
	t := &Table{rows: make(map[optimization.Point]optimization.Outcome, len(outcomes))}
	for _, out := range outcomes {
		t.rows[out.Point] = out
	}
	t.sorted = make([]optimization.Outcome, 0, len(t.rows))
	for _, out := range t.rows {
		t.sorted = append(t.sorted, out)
	}
	sort.Slice(t.sorted, func(i, j int) bool {
		if c := optimization.Compare(t.sorted[i], t.sorted[j]); c != 0 {
			return c < 0
		}
		return lessPoint(t.sorted[i].Point, t.sorted[j].Point)
	})
	return t, nil
}

func lessPoint(a, b optimization.Point) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

// Load parses a CSV table from r.
func Load(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("invalid CSV file format: %w %s", ErrMissingColumn, name)
		}
	}
	errCol, hasErrCol := index["error msg"]

	var outcomes []optimization.Outcome
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		line, _ := reader.FieldPos(0)

		var values [4]float64
		for i, name := range required {
			col := index[name]
			if col >= len(record) {
				return nil, fmt.Errorf("line %d: %w %s", line, ErrMissingColumn, name)
			}
			v, err := strconv.ParseFloat(record[col], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %s: %w", line, name, err)
			}
			values[i] = v
		}

		p := optimization.NewPoint(values[0], values[1])
		if hasErrCol && errCol < len(record) && record[errCol] != "" {
			outcomes = append(outcomes, optimization.Failed(p, optimization.Failure(record[errCol])))
			continue
		}
		outcomes = append(outcomes, optimization.Success(p, values[2], values[3]))
	}

	return New(outcomes)
}

// LoadFile opens path and parses it with Load.
func LoadFile(path string, logger *zap.Logger) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if logger != nil {
		min, max := t.Extremes()
		logger.Info("Using timing data from CSV file",
			zap.String("path", path),
			zap.Int("points", t.Len()),
			zap.Stringer("minimum", min),
			zap.Stringer("maximum", max),
		)
	}
	return t, nil
}

// Len returns the number of distinct points.
func (t *Table) Len() int { return len(t.rows) }

// Lookup returns the recorded outcome for p.
func (t *Table) Lookup(p optimization.Point) (optimization.Outcome, bool) {
	out, ok := t.rows[p]
	return out, ok
}

// Outcomes returns every row from best to worst.
func (t *Table) Outcomes() []optimization.Outcome {
	return append([]optimization.Outcome(nil), t.sorted...)
}

// Objective replays recorded outcomes. Points without a row fail with a
// message naming the point.
func (t *Table) Objective() optimization.Objective {
	return func(p optimization.Point) optimization.Outcome {
		if out, ok := t.rows[p]; ok {
			return out
		}
		return optimization.Failed(p, optimization.Failure(fmt.Sprintf("%v not in CSV data", p)))
	}
}

// KnownBest returns the best recorded outcome.
func (t *Table) KnownBest() optimization.Outcome {
	return t.sorted[0]
}

// Extremes returns the best and the worst recorded outcomes.
func (t *Table) Extremes() (best, worst optimization.Outcome) {
	return t.sorted[0], t.sorted[len(t.sorted)-1]
}

// Percentile returns the rounded share of rows, in percent, whose time is
// at most time. Failed rows are counted as slower than any time.
func (t *Table) Percentile(time float64) int {
	count := sort.Search(len(t.sorted), func(i int) bool {
		out := t.sorted[i]
		return out.HasFailure() || out.Average > time
	})
	return int(math.RoundToEven(100 * float64(count) / float64(len(t.sorted))))
}
