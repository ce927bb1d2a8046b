// Package cmd implements the lambdaops command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lambdaops/internal/config"
	"github.com/3leaps/lambdaops/internal/observability"
)

// ServiceName tags every log entry written by the CLI.
const ServiceName = "lambdaops"

var (
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "none",
	BuildDate: "unknown",
}

var rootCmd = &cobra.Command{
	Use:   "lambdaops",
	Short: "Operational tooling for a serverless HTTP relay function",
	Long: `lambdaops bundles the automation used around a small serverless HTTP function:

  empty-bucket     delete every object version and delete marker of an S3 bucket
  optimize-layer   shrink an installed-packages directory before it is zipped into a layer
  relay            run the HTTP relay handler locally (once, or behind an HTTP server)

Configuration is read from lambdaops.yaml (working directory or
$XDG_CONFIG_HOME/lambdaops), LAMBDAOPS_* environment variables and flags.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./lambdaops.yaml or $XDG_CONFIG_HOME/lambdaops/lambdaops.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: auto, console, json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (rotated)")
}

// initConfig loads configuration and initialises the CLI logger before any
// subcommand runs.
func initConfig(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	overrides := map[string]any{}
	logging := map[string]any{}
	if logLevel != "" {
		logging["level"] = logLevel
	}
	if logFormat != "" {
		logging["format"] = logFormat
	}
	if logFile != "" {
		logging["file"] = logFile
	}
	if len(logging) > 0 {
		overrides["logging"] = logging
	}

	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFile(ctx, cfgFile, overrides)
	} else {
		cfg, err = config.Load(ctx, overrides)
	}
	if err != nil {
		return exitError(ExitFailure, "Failed to load configuration", err)
	}

	if err := observability.InitCLILogger(observability.Options{
		Service: ServiceName,
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		File:    cfg.Logging.File,
	}); err != nil {
		return exitError(ExitFailure, "Failed to initialise logging", err)
	}

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("command", cmd.CommandPath()),
		zap.String("config_file", cfgFile))
	return nil
}

// appConfig returns the loaded configuration, loading defaults when a command
// runs without the root pre-run hook (as in tests).
func appConfig(ctx context.Context) (*config.Config, error) {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
