// Package measure compiles and runs a program for each point of the tuning
// space and turns its timing output into outcomes.
package measure

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/copyleftdev/acctune/internal/optimization"
	"github.com/copyleftdev/acctune/internal/optimization/stats"
)

const (
	// CompileCommand is the default PGI compile command.
	CompileCommand = "pgcc -acc -ta=nvidia -DNUM_GANGS={num_gangs} -DVECTOR_LENGTH={vector_length} {source}"
	// KernelTimingCompileCommand enables PGI accelerator kernel timing.
	KernelTimingCompileCommand = "pgcc -acc -DNUM_GANGS={num_gangs} -DVECTOR_LENGTH={vector_length} -ta=nvidia,time {source}"
	// TimeRegexp matches the program's own timing line. It is matched case
	// insensitively and the first group is the time in seconds.
	TimeRegexp = `(?:time)[=:\s]*([\d.]+)`
)

var kernelTimingRe = regexp.MustCompile(`Accelerator Kernel Timing data\n(?:[^\n]*\n){2}\s*time\(us\): ([\d,]+)`)

// Config describes how to build and time the program.
type Config struct {
	Source     string `yaml:"source"`
	Executable string `yaml:"executable"`
	// CompileCommand may use the {source}, {num_gangs} and {vector_length}
	// placeholders. Empty selects the PGI default.
	CompileCommand string `yaml:"compile_command"`
	Repetitions    int    `yaml:"repetitions"`
	TimeRegexp     string `yaml:"time_regexp"`
	// KernelTiming reads the PGI kernel timing report instead of TimeRegexp.
	KernelTiming bool `yaml:"kernel_timing"`
	// IgnoreExit keeps measuring when the executable exits non-zero.
	IgnoreExit bool `yaml:"ignore_exit"`
}

// DefaultConfig returns the defaults for a PGI build of source.
func DefaultConfig(source string) Config {
	return Config{
		Source:      source,
		Executable:  "./a.out",
		Repetitions: 10,
		TimeRegexp:  TimeRegexp,
	}
}

// RunRecorder receives the time of every individual run.
type RunRecorder interface {
	RecordRun(p optimization.Point, seconds float64)
}

// Measurer is a live objective. Every point is compiled into the same
// executable, so Measure holds a lock from the compile to the last
// repetition and concurrent callers are measured one at a time.
type Measurer struct {
	mu sync.Mutex

	cfg      Config
	runner   CommandRunner
	recorder RunRecorder
	logger   *zap.Logger
	timeRe   *regexp.Regexp
}

// New validates cfg. runner defaults to ShellRunner, logger to a no-op
// logger, and recorder may be nil.
func New(cfg Config, runner CommandRunner, recorder RunRecorder, logger *zap.Logger) (*Measurer, error) {
	if cfg.Executable == "" {
		cfg.Executable = "./a.out"
	}
	if cfg.CompileCommand == "" {
		if cfg.Source == "" {
			return nil, fmt.Errorf("no source file or compile command given")
		}
		cfg.CompileCommand = CompileCommand
		if cfg.KernelTiming {
			cfg.CompileCommand = KernelTimingCompileCommand
		}
	}
	if cfg.Repetitions <= 0 {
		return nil, fmt.Errorf("repetitions must be positive, got %d", cfg.Repetitions)
	}
	if cfg.TimeRegexp == "" {
		cfg.TimeRegexp = TimeRegexp
	}
	re, err := regexp.Compile("(?i)" + cfg.TimeRegexp)
	if err != nil {
		return nil, fmt.Errorf("compile time regexp: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("time regexp %q has no capture group", cfg.TimeRegexp)
	}
	if runner == nil {
		runner = ShellRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Measurer{
		cfg:      cfg,
		runner:   runner,
		recorder: recorder,
		logger:   logger.Named("measure"),
		timeRe:   re,
	}, nil
}

// Objective binds the measurer to ctx. Once ctx is done every further point
// reports FailureCancelled without running anything.
func (m *Measurer) Objective(ctx context.Context) optimization.Objective {
	return func(p optimization.Point) optimization.Outcome {
		return m.Measure(ctx, p)
	}
}

// Command expands the compile command template for p.
func (m *Measurer) Command(p optimization.Point) string {
	return strings.NewReplacer(
		"{source}", m.cfg.Source,
		"{num_gangs}", strconv.Itoa(int(p.NumGangs())),
		"{vector_length}", strconv.Itoa(int(p.VectorLength())),
	).Replace(m.cfg.CompileCommand)
}

// Measure compiles the program for p and runs it the configured number of
// times. Repetitions stop at the first failure.
func (m *Measurer) Measure(ctx context.Context, p optimization.Point) optimization.Outcome {
	if ctx.Err() != nil {
		return optimization.Failed(p, optimization.FailureCancelled)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return optimization.Failed(p, optimization.FailureCancelled)
	}

	log := m.logger.With(zap.Stringer("point", p))
	command := m.Command(p)
	env := []string{
		fmt.Sprintf("NUM_GANGS=%d", int(p.NumGangs())),
		fmt.Sprintf("VECTOR_LENGTH=%d", int(p.VectorLength())),
	}

	log.Debug("Compiling", zap.String("command", command))
	output, code, err := m.runner.Run(ctx, command, env)
	if err != nil || code != 0 {
		if ctx.Err() != nil {
			return optimization.Failed(p, optimization.FailureCancelled)
		}
		log.Error("Compile command failed, skipping this point",
			zap.Int("exit_code", code), zap.String("output", output), zap.Error(err))
		return optimization.Failed(p, optimization.FailureCompile)
	}

	times := make([]float64, 0, m.cfg.Repetitions)
	for i := 0; i < m.cfg.Repetitions; i++ {
		log.Debug("Running", zap.String("executable", m.cfg.Executable), zap.Int("repetition", i))
		output, code, err := m.runner.Run(ctx, m.cfg.Executable, nil)
		if ctx.Err() != nil {
			return optimization.Failed(p, optimization.FailureCancelled)
		}
		if err != nil || (code != 0 && !m.cfg.IgnoreExit) {
			log.Error("Executable failed", zap.Int("exit_code", code), zap.Error(err))
			return optimization.Failed(p, optimization.FailureExecutable)
		}

		t, failure := m.parseTime(output)
		if failure != "" {
			log.Error("Program output did not contain timing data",
				zap.String("failure", string(failure)), zap.String("output", output))
			return optimization.Failed(p, failure)
		}

		log.Debug("Time", zap.Float64("seconds", t))
		times = append(times, t)
		if m.recorder != nil {
			m.recorder.RecordRun(p, t)
		}
	}

	avg, sd, err := stats.Summarize(times)
	if err != nil {
		return optimization.Failed(p, optimization.FailureNoSamples)
	}
	return optimization.Success(p, avg, sd)
}

// parseTime extracts one run time in seconds from output. The returned
// failure is empty on success.
func (m *Measurer) parseTime(output string) (float64, optimization.Failure) {
	if m.cfg.KernelTiming {
		match := kernelTimingRe.FindStringSubmatch(output)
		if match == nil {
			return 0, optimization.FailureKernelTimingMissing
		}
		us, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
		if err != nil {
			return 0, optimization.FailureKernelTimingMissing
		}
		return us * 1e-6, ""
	}

	match := m.timeRe.FindStringSubmatch(output)
	if match == nil {
		return 0, optimization.FailureTimingMissing
	}
	t, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, optimization.FailureTimingMissing
	}
	return t, ""
}
