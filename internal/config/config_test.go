package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/acctune/internal/optimization"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "nelder-mead", cfg.Tuning.Method)
	assert.Equal(t, 10, cfg.Tuning.Repetitions)
	assert.Equal(t, optimization.NewBounds(
		optimization.Range{Min: 2, Max: 1024},
		optimization.Range{Min: 2, Max: 1024},
	), cfg.Bounds())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("ACCTUNE_METHOD", "grid32")
	t.Setenv("ACCTUNE_GANGS_MAX", "256")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "grid32", cfg.Tuning.Method)
	assert.Equal(t, 256.0, cfg.Tuning.GangsMax)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv("ACCTUNE_REPETITIONS", "3")

	path := filepath.Join(t.TempDir(), "acctune.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
tuning:
  method: coord-search
  vector_max: 256
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "coord-search", cfg.Tuning.Method)
	assert.Equal(t, 256.0, cfg.Tuning.VectorMax)
	assert.Equal(t, 3, cfg.Tuning.Repetitions)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Tuning.GangsMin = 2048
	cfg.Tuning.Repetitions = 0
	cfg.Logging.Format = "xml"

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, optimization.ErrInvalidBounds)
	assert.Contains(t, err.Error(), "repetitions must be positive")
	assert.Contains(t, err.Error(), `unknown log format "xml"`)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ACCTUNE_TEST_SET", "y")
	assert.Equal(t, "y", GetEnv("ACCTUNE_TEST_SET", "x"))
	assert.Equal(t, "x", GetEnv("ACCTUNE_TEST_MISSING", "x"))
}
