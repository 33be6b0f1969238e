package report

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// WriteGnuplotData writes the successful points of result as a gnuplot data
// table sorted by coordinates. A blank line separates successive num_gangs
// values so that gnuplot draws one scan line per value.
func WriteGnuplotData(w io.Writer, result *optimization.Result) error {
	points := make([]optimization.Point, 0, len(result.Ledger))
	for p, out := range result.Ledger {
		if !out.HasFailure() {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i][0] != points[j][0] {
			return points[i][0] < points[j][0]
		}
		return points[i][1] < points[j][1]
	})

	bw := bufio.NewWriter(w)
	lastX := 0.0
	for _, p := range points {
		out := result.Ledger[p]
		if p[0] != lastX {
			bw.WriteString("\n")
			lastX = p[0]
		}
		fmt.Fprintf(bw, "%-6.0f %-6.0f %s %s\n", p[0], p[1], formatFloat(out.Average), formatFloat(out.StdDev))
	}
	return bw.Flush()
}

// WriteGnuplotScript writes a gnuplot 5 script plotting the data file named
// dataFile, with the optimum of result labelled. The plot is written to
// output.
func WriteGnuplotScript(w io.Writer, dataFile, output string, result *optimization.Result) error {
	best := result.Best()
	_, err := fmt.Fprintf(w, gnuplotScript,
		output,
		best.Point.NumGangs(), best.Point.VectorLength(), formatFloat(best.Average), formatFloat(best.StdDev),
		formatFloat(best.Average), best.Point.NumGangs(), best.Point.VectorLength(), formatFloat(best.Average),
		dataFile, dataFile,
	)
	return err
}

const gnuplotScript = `# Script for gnuplot 5.0
set term postscript eps enhanced color size 10, 14 "Times-Roman,24"
set output "%s"
set multiplot layout 2,1

set title "All Points Tested - Optimal: %.0f gangs, vector length %.0f - Resulting time %s (stdev: %s)"
set xlabel "Num Gangs"
set ylabel "Vector Length"
set zlabel "Time" rotate
set label 1 "%s" at %g, %g, %s left
set grid

splot '%s' using 1:2:3 notitle with points pointtype 7

splot '%s' using 1:2:3 notitle with linespoints

unset multiplot
`
