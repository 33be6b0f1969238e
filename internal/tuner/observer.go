package tuner

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// Prefix formats a point the way every per-point log line starts.
func Prefix(p optimization.Point) string {
	return fmt.Sprintf("[num_gangs:%4.0f, vector_length:%4.0f]", p.NumGangs(), p.VectorLength())
}

// LogObserver logs every new measurement. Successes are logged at info
// level, failures at warn.
func LogObserver(logger *zap.Logger) optimization.Observer {
	return optimization.ObserverFunc(func(ev optimization.Evaluation) {
		out := ev.Outcome
		if out.HasFailure() {
			logger.Warn(Prefix(out.Point)+" "+string(out.Failure), zap.Int("evaluation", ev.Index))
			return
		}
		logger.Info(fmt.Sprintf("%s Average: %f, Standard Deviation: %f", Prefix(out.Point), out.Average, out.StdDev),
			zap.Int("evaluation", ev.Index))
	})
}
