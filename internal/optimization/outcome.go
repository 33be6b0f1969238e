package optimization

import (
	"fmt"
	"math"
)

// Epsilon is the tolerance under which two averages (or two standard
// deviations) are considered tied.
const Epsilon = 1e-7

// Failure is a short tag describing why a point could not be measured.
// The empty Failure means the measurement succeeded.
type Failure string

const (
	FailureOutOfRange          Failure = "Point out of range"
	FailureCompile             Failure = "Compile command failed"
	FailureExecutable          Failure = "Executable failed"
	FailureTimingMissing       Failure = "Timing data missing"
	FailureKernelTimingMissing Failure = "PGI kernel timing data missing"
	FailureNoSamples           Failure = "No points tested"
	FailureCancelled           Failure = "Search cancelled"
)

// Outcome is the measured cost of a single point, or the reason it could
// not be measured.
type Outcome struct {
	Point   Point
	Average float64
	StdDev  float64
	Failure Failure
}

// Success creates a successful outcome.
func Success(p Point, average, stdDev float64) Outcome {
	return Outcome{Point: p, Average: average, StdDev: stdDev}
}

// Failed creates a failed outcome. Failed outcomes carry infinite cost.
func Failed(p Point, reason Failure) Outcome {
	return Outcome{
		Point:   p,
		Average: math.Inf(1),
		StdDev:  math.Inf(1),
		Failure: reason,
	}
}

// HasFailure reports whether the outcome is a failure.
func (o Outcome) HasFailure() bool {
	return o.Failure != ""
}

// Less reports whether o is strictly better than other.
func (o Outcome) Less(other Outcome) bool {
	return Compare(o, other) < 0
}

// Compare orders outcomes from best to worst. It returns -1 when a is
// better than b, 1 when it is worse and 0 when they are tied.
//
// Any failure is worse than any success and failures are tied with each
// other. Successful outcomes compare by average, then by standard deviation
// when the averages are within Epsilon.
func Compare(a, b Outcome) int {
	switch {
	case a.HasFailure() && b.HasFailure():
		return 0
	case a.HasFailure():
		return 1
	case b.HasFailure():
		return -1
	}

	if math.Abs(a.Average-b.Average) < Epsilon {
		if math.Abs(a.StdDev-b.StdDev) < Epsilon {
			return 0
		}
		if a.StdDev > b.StdDev {
			return 1
		}
		return -1
	}
	if a.Average > b.Average {
		return 1
	}
	return -1
}

func (o Outcome) String() string {
	if o.HasFailure() {
		return fmt.Sprintf("num_gangs=%-4.0f vector_length=%-4.0f => error=%s",
			o.Point.NumGangs(), o.Point.VectorLength(), o.Failure)
	}
	return fmt.Sprintf("num_gangs=%-4.0f vector_length=%-4.0f => time=%g (stdev=%g)",
		o.Point.NumGangs(), o.Point.VectorLength(), o.Average, o.StdDev)
}
