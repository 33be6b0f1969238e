package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/acctune/internal/measure"
	"github.com/copyleftdev/acctune/internal/optimization"
	"github.com/copyleftdev/acctune/internal/replay"
	"github.com/copyleftdev/acctune/internal/report"
	"github.com/copyleftdev/acctune/internal/tuner"
)

type runOptions struct {
	root *rootOptions

	method        string
	gangsMin      float64
	gangsMax      float64
	vectorMin     float64
	vectorMax     float64
	repetitions   int
	maxIterations int
	workers       int

	measure      measure.Config
	writeCSV     string
	writeRuns    string
	writeGnuplot string

	// runner replaces the shell in tests.
	runner measure.CommandRunner
}

func newRunCmd(root *rootOptions) *cobra.Command {
	o := &runOptions{root: root}

	cmd := &cobra.Command{
		Use:   "run <source>",
		Short: "Search for the fastest launch configuration",
		Long: `Runs one search. A source ending in .csv is replayed from earlier
measurements and the result is compared with the best recorded point;
any other source is compiled and timed for every point tested.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args[0])
		},
	}

	def := measure.DefaultConfig("")
	f := cmd.Flags()
	f.StringVarP(&o.method, "method", "m", "", "Search method, see 'tune methods'")
	f.Float64Var(&o.gangsMin, "gangs-min", 0, "Smallest num_gangs")
	f.Float64Var(&o.gangsMax, "gangs-max", 0, "Largest num_gangs")
	f.Float64Var(&o.vectorMin, "vector-min", 0, "Smallest vector_length")
	f.Float64Var(&o.vectorMax, "vector-max", 0, "Largest vector_length")
	f.IntVarP(&o.repetitions, "repetitions", "r", 0, "Runs per point")
	f.IntVar(&o.maxIterations, "max-iterations", 0, "Iteration cap of the search")
	f.IntVar(&o.workers, "workers", 0, "Concurrent measurements in grid searches")
	f.StringVar(&o.measure.Executable, "executable", def.Executable, "Program to run after compiling")
	f.StringVar(&o.measure.CompileCommand, "compile-command", "", "Compile command; {source}, {num_gangs} and {vector_length} are replaced")
	f.StringVar(&o.measure.TimeRegexp, "time-regexp", def.TimeRegexp, "Regexp whose first group is the run time in seconds")
	f.BoolVar(&o.measure.KernelTiming, "kernel-timing", false, "Use the PGI accelerator kernel timing report")
	f.BoolVar(&o.measure.IgnoreExit, "ignore-exit", false, "Keep measuring when the program exits non-zero")
	f.StringVar(&o.writeCSV, "write-csv", "", "Write every outcome to this CSV file")
	f.StringVar(&o.writeRuns, "write-runs", "", "Write the time of every individual run to this CSV file")
	f.StringVar(&o.writeGnuplot, "write-gnuplot", "", "Write <base>.dat and <base>.gp for gnuplot")

	return cmd
}

// options merges the flags that were given over the configuration.
func (o *runOptions) options(cmd *cobra.Command) tuner.Options {
	cfg := o.root.cfg
	opts := tuner.Options{
		Method:        cfg.Tuning.Method,
		Bounds:        cfg.Bounds(),
		MaxIterations: cfg.Tuning.MaxIterations,
		Repetitions:   cfg.Tuning.Repetitions,
		Workers:       cfg.Tuning.Workers,
	}

	f := cmd.Flags()
	if f.Changed("method") {
		opts.Method = o.method
	}
	if f.Changed("gangs-min") {
		opts.Bounds[0].Min = o.gangsMin
	}
	if f.Changed("gangs-max") {
		opts.Bounds[0].Max = o.gangsMax
	}
	if f.Changed("vector-min") {
		opts.Bounds[1].Min = o.vectorMin
	}
	if f.Changed("vector-max") {
		opts.Bounds[1].Max = o.vectorMax
	}
	if f.Changed("repetitions") {
		opts.Repetitions = o.repetitions
	}
	if f.Changed("max-iterations") {
		opts.MaxIterations = o.maxIterations
	}
	if f.Changed("workers") {
		opts.Workers = o.workers
	}
	return opts
}

func (o *runOptions) run(cmd *cobra.Command, source string) error {
	logger := o.root.logger
	opts := o.options(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var observers []optimization.Observer
	if o.writeCSV != "" {
		file, err := os.Create(o.writeCSV)
		if err != nil {
			return fmt.Errorf("create csv output: %w", err)
		}
		defer file.Close()
		csvOut, err := report.NewCSVWriter(file)
		if err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		observers = append(observers, csvOut)
	}

	var recorder measure.RunRecorder
	var runsOut *report.RunWriter
	if o.writeRuns != "" {
		file, err := os.Create(o.writeRuns)
		if err != nil {
			return fmt.Errorf("create runs output: %w", err)
		}
		defer file.Close()
		if runsOut, err = report.NewRunWriter(file); err != nil {
			return fmt.Errorf("write runs header: %w", err)
		}
		recorder = runsOut
	}

	objective, ref, err := o.objective(ctx, source, opts, recorder, logger)
	if err != nil {
		return err
	}
	if ref != nil && runsOut != nil {
		logger.Warn("Replayed sources have no individual runs, the runs file stays empty",
			zap.String("file", o.writeRuns))
	}

	t, err := tuner.New(opts, logger, observers)
	if err != nil {
		return err
	}

	rep, err := t.Run(objective, ref)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Warn("Search interrupted, remaining points were not measured")
	}

	if runsOut != nil {
		if err := runsOut.Err(); err != nil {
			return fmt.Errorf("write runs: %w", err)
		}
	}

	if o.writeGnuplot != "" {
		if err := writeGnuplot(o.writeGnuplot, rep.Result); err != nil {
			return err
		}
		logger.Info("Wrote gnuplot files", zap.String("base", o.writeGnuplot))
	}

	fmt.Fprintln(cmd.OutOrStdout(), rep.Best.String())
	return nil
}

// objective selects replay or live measurement for source. The reference is
// only set for replays.
func (o *runOptions) objective(ctx context.Context, source string, opts tuner.Options, recorder measure.RunRecorder, logger *zap.Logger) (optimization.Objective, tuner.Reference, error) {
	if strings.EqualFold(filepath.Ext(source), ".csv") {
		table, err := replay.LoadFile(source, logger)
		if err != nil {
			return nil, nil, err
		}
		return table.Objective(), table, nil
	}

	cfg := o.measure
	cfg.Source = source
	cfg.Repetitions = opts.Repetitions

	m, err := measure.New(cfg, o.runner, recorder, logger)
	if err != nil {
		return nil, nil, err
	}
	return m.Objective(ctx), nil, nil
}

func writeGnuplot(base string, result *optimization.Result) error {
	dataFile := base + ".dat"
	data, err := os.Create(dataFile)
	if err != nil {
		return fmt.Errorf("create gnuplot data: %w", err)
	}
	defer data.Close()
	if err := report.WriteGnuplotData(data, result); err != nil {
		return fmt.Errorf("write gnuplot data: %w", err)
	}

	script, err := os.Create(base + ".gp")
	if err != nil {
		return fmt.Errorf("create gnuplot script: %w", err)
	}
	defer script.Close()
	if err := report.WriteGnuplotScript(script, filepath.Base(dataFile), filepath.Base(base)+".eps", result); err != nil {
		return fmt.Errorf("write gnuplot script: %w", err)
	}
	return nil
}
