package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/acctune/internal/config"
	"github.com/copyleftdev/acctune/internal/logging"
)

// rootOptions carries the persistent flags and what PersistentPreRunE
// builds from them.
type rootOptions struct {
	logLevel   string
	logFormat  string
	configPath string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Tune accelerator launch configurations",
		Long: `tune searches the (num_gangs, vector_length) space of an accelerator
kernel for the fastest launch configuration, either by compiling and timing
the program or by replaying a CSV file of earlier measurements.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format (json, console); overrides LOG_FORMAT")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")

	cmd.AddCommand(newRunCmd(opts), newMethodsCmd())
	return cmd
}

func (o *rootOptions) setup() error {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return err
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LoggingConfig())
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}
