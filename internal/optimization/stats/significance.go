// Package stats compares timing measurements.
//
// The comparator uses Welch's t-test with a two-sided 90% confidence
// interval. Critical values come from a fixed table of the 0.95 quantile of
// Student's t distribution for 1 to 30 degrees of freedom; larger values are
// clamped to 30.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// Sample summarises repeated measurements of one configuration.
type Sample struct {
	Average float64 `json:"average"`
	StdDev  float64 `json:"stdev"`
	N       int     `json:"n"`
}

// SampleOf builds a sample from a successful outcome measured n times.
func SampleOf(out optimization.Outcome, n int) Sample {
	return Sample{Average: out.Average, StdDev: out.StdDev, N: n}
}

var tTable = [...]float64{
	6.314, 2.92, 2.353, 2.132, 2.015, 1.943, 1.895, 1.86, 1.833, 1.812,
	1.796, 1.782, 1.771, 1.761, 1.753, 1.746, 1.74, 1.734, 1.729, 1.725,
	1.721, 1.717, 1.714, 1.711, 1.708, 1.706, 1.703, 1.701, 1.699, 1.697,
}

// MaxTableDF is the largest tabulated degree of freedom.
const MaxTableDF = len(tTable)

// TCritical returns the tabulated critical value for df degrees of freedom,
// rounded half to even and clamped to [1, MaxTableDF].
func TCritical(df float64) float64 {
	idx := 1
	if !math.IsNaN(df) {
		idx = int(math.Max(1, math.Min(float64(MaxTableDF), math.RoundToEven(df))))
	}
	return tTable[idx-1]
}

// WelchDF returns the degrees of freedom used by IsDiffSignificant.
func WelchDF(a, b Sample) float64 {
	va := a.StdDev * a.StdDev / float64(a.N)
	vb := b.StdDev * b.StdDev / float64(b.N)
	return (va+vb)*(va+vb)/(va*va/float64(a.N+1)+vb*vb/float64(b.N+1)) - 2
}

// Interval is a confidence interval for the difference of two means.
type Interval struct {
	Low, High float64
}

// ExcludesZero reports whether zero lies outside the interval.
func (i Interval) ExcludesZero() bool {
	return i.Low > 0 || i.High < 0
}

// DiffInterval returns the 90% confidence interval of a.Average - b.Average.
func DiffInterval(a, b Sample) (Interval, error) {
	if err := validate(a, b); err != nil {
		return Interval{}, err
	}
	se := math.Sqrt(a.StdDev*a.StdDev/float64(a.N) + b.StdDev*b.StdDev/float64(b.N))
	diff := a.Average - b.Average
	t := TCritical(WelchDF(a, b))
	return Interval{Low: diff - t*se, High: diff + t*se}, nil
}

// IsDiffSignificant reports whether the means of a and b differ at the 90%
// confidence level. It returns an error wrapping ErrIndeterminate when the
// test cannot be computed.
func IsDiffSignificant(a, b Sample) (bool, error) {
	iv, err := DiffInterval(a, b)
	if err != nil {
		return false, err
	}
	return iv.ExcludesZero(), nil
}

func validate(a, b Sample) error {
	indeterminate := func(format string, args ...interface{}) error {
		return optimization.WrapErrorf(optimization.ErrIndeterminate, format, args...).
			WithComponent("stats").WithOperation("IsDiffSignificant")
	}
	if a.N <= 0 || b.N <= 0 {
		return indeterminate("sample sizes must be positive, got %d and %d", a.N, b.N)
	}
	for _, v := range []float64{a.Average, a.StdDev, b.Average, b.StdDev} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return indeterminate("non-finite sample value %g", v)
		}
	}
	if a.StdDev == 0 && b.StdDev == 0 {
		return indeterminate("both samples have zero variance")
	}
	return nil
}

// Summarize returns the mean and standard deviation of repeated timings.
// The standard deviation is the unbiased estimate; a single sample has a
// standard deviation of zero.
func Summarize(samples []float64) (avg, stdDev float64, err error) {
	switch len(samples) {
	case 0:
		return 0, 0, optimization.WrapError(optimization.ErrNoSamples, "nothing to summarize").
			WithComponent("stats").WithOperation("Summarize")
	case 1:
		return samples[0], 0, nil
	}
	avg, stdDev = stat.MeanStdDev(samples, nil)
	return avg, stdDev, nil
}
