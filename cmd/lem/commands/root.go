package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lemniscat/lemniscat/pkg/telemetry"
)

var (
	// Global flags
	verbosity string
	logFormat string
	noColor   bool
)

// ErrRunFailed is returned when a pipeline ran to completion with a failed
// status.
var ErrRunFailed = errors.New("pipeline run failed")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lem",
		Short: "Lemniscat - declarative DevOps pipeline orchestrator",
		Long: `Lemniscat runs a pipeline described by a YAML manifest.

A manifest declares solutions for up to eight capabilities (code, build,
test, deploy, release, operate, monitor, plan). Each solution is a list
of tasks bound to phases (pre, run, post and their clean variants).
Variables flow from config files, the manifest and the command line into
every task, and tasks can publish new variables for the ones after them.

Features:
  - Step selection such as run:all or pre:build,run:deploy
  - Conditional tasks and reusable task templates
  - Built-in shell, starlark, ssh, echo and variables executors
  - WebAssembly executor plugins
  - Rego policies checked before the run
  - JSON, YAML or SQLite output context`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureLogging()
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&verbosity, "verbosity", "", "log level: trace, debug, info, warn, error (default from LOG_LEVEL, else info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console or json")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newRunCommand(version))

	return rootCmd
}

// loggingConfig returns the logging configuration selected by the global
// flags.
func loggingConfig() telemetry.LoggingConfig {
	cfg := telemetry.DefaultConfig().Logging
	cfg.Level = verbosity
	if cfg.Level == "" {
		cfg.Level = os.Getenv("LOG_LEVEL")
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}
	cfg.NoColor = noColor
	return cfg
}

// configureLogging replaces the global logger according to the global
// flags.
func configureLogging() error {
	cfg := loggingConfig()
	level, err := telemetry.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logger, _, err := telemetry.NewLogger(cfg)
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = logger
	return nil
}
