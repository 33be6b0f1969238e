// Package config loads service and CLI settings from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/acctune/internal/logging"
	"github.com/copyleftdev/acctune/internal/optimization"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development" yaml:"environment"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080" yaml:"port"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s" yaml:"read_timeout"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s" yaml:"write_timeout"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s" yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout"`
	} `yaml:"http"`
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info" yaml:"level"`
		Format string `env:"LOG_FORMAT" envDefault:"json" yaml:"format"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr" yaml:"output"`
	} `yaml:"logging"`
	Tuning struct {
		Method        string  `env:"ACCTUNE_METHOD" envDefault:"nelder-mead" yaml:"method"`
		GangsMin      float64 `env:"ACCTUNE_GANGS_MIN" envDefault:"2" yaml:"gangs_min"`
		GangsMax      float64 `env:"ACCTUNE_GANGS_MAX" envDefault:"1024" yaml:"gangs_max"`
		VectorMin     float64 `env:"ACCTUNE_VECTOR_MIN" envDefault:"2" yaml:"vector_min"`
		VectorMax     float64 `env:"ACCTUNE_VECTOR_MAX" envDefault:"1024" yaml:"vector_max"`
		MaxIterations int     `env:"ACCTUNE_MAX_ITERATIONS" envDefault:"100" yaml:"max_iterations"`
		Repetitions   int     `env:"ACCTUNE_REPETITIONS" envDefault:"10" yaml:"repetitions"`
		// Workers bounds concurrent measurements in grid searches and
		// concurrent runs in the service.
		Workers int `env:"ACCTUNE_WORKERS" envDefault:"1" yaml:"workers"`
	} `yaml:"tuning"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// LoadFile reads the environment and then overlays the YAML file at path.
// Keys missing from the file keep their environment or default values. An
// empty path is the same as Load.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Bounds returns the configured search space.
func (c *Config) Bounds() optimization.Bounds {
	return optimization.NewBounds(
		optimization.Range{Min: c.Tuning.GangsMin, Max: c.Tuning.GangsMax},
		optimization.Range{Min: c.Tuning.VectorMin, Max: c.Tuning.VectorMax},
	)
}

// LoggingConfig converts the logging section for logging.NewLogger.
func (c *Config) LoggingConfig() *logging.Config {
	return &logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Bounds().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Tuning.Repetitions <= 0 {
		errs = append(errs, fmt.Errorf("repetitions must be positive, got %d", c.Tuning.Repetitions))
	}
	if c.Tuning.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("max iterations must not be negative, got %d", c.Tuning.MaxIterations))
	}
	if c.Tuning.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Tuning.Workers))
	}
	if !logging.ValidFormat(c.Logging.Format) {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port %d", c.HTTP.Port))
	}
	return errors.Join(errs...)
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
