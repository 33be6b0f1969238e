package measure

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/acctune/internal/optimization"
	"github.com/copyleftdev/acctune/internal/optimization/grid"
)

type call struct {
	command string
	env     []string
}

type fakeRunner struct {
	compileCode int
	runOutputs  []string
	runCode     int
	runErr      error
	calls       []call
	runs        int
	onRun       func()
}

func (f *fakeRunner) Run(_ context.Context, command string, env []string) (string, int, error) {
	f.calls = append(f.calls, call{command: command, env: env})
	if strings.HasPrefix(command, "cc") {
		return "compiler output", f.compileCode, nil
	}
	if f.onRun != nil {
		f.onRun()
	}
	out := f.runOutputs[f.runs%len(f.runOutputs)]
	f.runs++
	return out, f.runCode, f.runErr
}

type recorder struct {
	runs []float64
}

func (r *recorder) RecordRun(_ optimization.Point, seconds float64) {
	r.runs = append(r.runs, seconds)
}

func testConfig() Config {
	cfg := DefaultConfig("kernel.c")
	cfg.CompileCommand = "cc -DNUM_GANGS={num_gangs} -DVECTOR_LENGTH={vector_length} {source}"
	cfg.Repetitions = 3
	return cfg
}

func TestMeasureSuccess(t *testing.T) {
	runner := &fakeRunner{runOutputs: []string{"Time: 1.0\n", "time=2.0", "TIME 3"}}
	rec := &recorder{}
	m, err := New(testConfig(), runner, rec, nil)
	require.NoError(t, err)

	p := optimization.NewPoint(256, 128)
	out := m.Measure(context.Background(), p)

	require.False(t, out.HasFailure(), out.Failure)
	assert.Equal(t, p, out.Point)
	assert.InDelta(t, 2.0, out.Average, 1e-12)
	assert.InDelta(t, 1.0, out.StdDev, 1e-12)
	assert.Equal(t, []float64{1, 2, 3}, rec.runs)

	require.Len(t, runner.calls, 4)
	assert.Equal(t, "cc -DNUM_GANGS=256 -DVECTOR_LENGTH=128 kernel.c", runner.calls[0].command)
	assert.Equal(t, []string{"NUM_GANGS=256", "VECTOR_LENGTH=128"}, runner.calls[0].env)
	assert.Equal(t, "./a.out", runner.calls[1].command)
}

func TestMeasureFailures(t *testing.T) {
	tests := []struct {
		name    string
		runner  *fakeRunner
		mutate  func(*Config)
		failure optimization.Failure
		runs    int
	}{
		{
			name:    "compile fails",
			runner:  &fakeRunner{compileCode: 2, runOutputs: []string{"time 1"}},
			failure: optimization.FailureCompile,
		},
		{
			name:    "executable fails",
			runner:  &fakeRunner{runCode: 1, runOutputs: []string{"time 1"}},
			failure: optimization.FailureExecutable,
			runs:    1,
		},
		{
			name:    "executable cannot start",
			runner:  &fakeRunner{runErr: errors.New("no such file"), runOutputs: []string{""}},
			failure: optimization.FailureExecutable,
			runs:    1,
		},
		{
			name:    "timing missing",
			runner:  &fakeRunner{runOutputs: []string{"done"}},
			failure: optimization.FailureTimingMissing,
			runs:    1,
		},
		{
			name:    "kernel timing missing",
			runner:  &fakeRunner{runOutputs: []string{"time 1"}},
			mutate:  func(c *Config) { c.KernelTiming = true },
			failure: optimization.FailureKernelTimingMissing,
			runs:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			m, err := New(cfg, tt.runner, nil, nil)
			require.NoError(t, err)

			out := m.Measure(context.Background(), optimization.NewPoint(64, 32))
			assert.Equal(t, tt.failure, out.Failure)
			assert.Equal(t, tt.runs, tt.runner.runs, "repetitions stop after the first failure")
		})
	}
}

func TestMeasureIgnoreExit(t *testing.T) {
	cfg := testConfig()
	cfg.IgnoreExit = true
	m, err := New(cfg, &fakeRunner{runCode: 3, runOutputs: []string{"time 0.5"}}, nil, nil)
	require.NoError(t, err)

	out := m.Measure(context.Background(), optimization.NewPoint(64, 32))
	require.False(t, out.HasFailure())
	assert.Equal(t, 0.5, out.Average)
	assert.Equal(t, 0.0, out.StdDev)
}

func TestMeasureKernelTiming(t *testing.T) {
	report := "\nAccelerator Kernel Timing data\n/src/kernel.c\n  main  NVIDIA  devicenum=0\n    time(us): 1,234,567\n"
	cfg := testConfig()
	cfg.KernelTiming = true
	cfg.Repetitions = 1

	m, err := New(cfg, &fakeRunner{runOutputs: []string{report}}, nil, nil)
	require.NoError(t, err)

	out := m.Measure(context.Background(), optimization.NewPoint(64, 32))
	require.False(t, out.HasFailure(), out.Failure)
	assert.InDelta(t, 1.234567, out.Average, 1e-12)
}

func TestMeasureCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{runOutputs: []string{"time 1"}}
	m, err := New(testConfig(), runner, nil, nil)
	require.NoError(t, err)

	objective := m.Objective(ctx)
	runner.onRun = cancel
	assert.Equal(t, optimization.FailureCancelled, objective(optimization.NewPoint(32, 32)).Failure)

	calls := len(runner.calls)
	assert.Equal(t, optimization.FailureCancelled, objective(optimization.NewPoint(64, 32)).Failure)
	assert.Len(t, runner.calls, calls, "nothing runs after cancellation")
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Repetitions: 1}, nil, nil, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Repetitions = 0
	_, err = New(cfg, nil, nil, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.TimeRegexp = "time [0-9.]+"
	_, err = New(cfg, nil, nil, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.TimeRegexp = "("
	_, err = New(cfg, nil, nil, nil)
	assert.Error(t, err)

	m, err := New(Config{Source: "a.c", Repetitions: 1, KernelTiming: true}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("pgcc -acc -DNUM_GANGS=%d -DVECTOR_LENGTH=%d -ta=nvidia,time a.c", 32, 8),
		m.Command(optimization.NewPoint(32, 8)))
}

func TestShellRunner(t *testing.T) {
	out, code, err := ShellRunner{}.Run(context.Background(), `echo "gangs=$NUM_GANGS"; exit 3`, []string{"NUM_GANGS=64"})
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "gangs=64\n", out)
}

// binaryRunner compiles every point into one shared executable, like a real
// build directory does.
type binaryRunner struct {
	mu     sync.Mutex
	binary optimization.Point
}

func (b *binaryRunner) Run(_ context.Context, command string, _ []string) (string, int, error) {
	var g, v float64
	if _, err := fmt.Sscanf(command, "build %g %g", &g, &v); err == nil {
		b.mu.Lock()
		b.binary = optimization.NewPoint(g, v)
		b.mu.Unlock()
		runtime.Gosched()
		return "", 0, nil
	}
	runtime.Gosched()
	b.mu.Lock()
	p := b.binary
	b.mu.Unlock()
	return fmt.Sprintf("time=%.0f", p.NumGangs()*10000+p.VectorLength()), 0, nil
}

func TestMeasureConcurrentGridKeepsPointsApart(t *testing.T) {
	cfg := DefaultConfig("kernel.c")
	cfg.CompileCommand = "build {num_gangs} {vector_length}"
	cfg.Repetitions = 2
	m, err := New(cfg, &binaryRunner{}, nil, nil)
	require.NoError(t, err)

	search, err := grid.New(grid.Config{
		Bounds: optimization.NewBounds(
			optimization.Range{Min: 32, Max: 256},
			optimization.Range{Min: 1, Max: 64},
		),
		Layout:  grid.GangsVectorLayout(32),
		Workers: 4,
	})
	require.NoError(t, err)

	result, err := search.Search(m.Objective(context.Background()))
	require.NoError(t, err)
	require.Len(t, result.Ledger, 56)

	for p, out := range result.Ledger {
		require.False(t, out.HasFailure(), "%v: %s", p, out.Failure)
		assert.Equal(t, p.NumGangs()*10000+p.VectorLength(), out.Average, "time measured for %v", p)
		assert.Zero(t, out.StdDev, p.String())
	}
	assert.Equal(t, optimization.NewPoint(32, 1), result.Optimal)
}
