package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivesdk-go/internal/boundary"
	"github.com/tonimelisma/drivesdk-go/internal/config"
	"github.com/tonimelisma/drivesdk-go/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagStatePath  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Config

// newBackend builds the service backend for a command. Tests swap it for an
// in-memory drive.
var newBackend = func(cfg *config.Config, logger *slog.Logger) (boundary.Backend, error) {
	return boundary.NewHTTPBackend(cfg, logger)
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drivesdk",
		Short:   "Encrypted drive SDK developer harness",
		Long:    "Drives the SDK runtime through its handle and callback surface, the same way a foreign caller would.",
		Version: version,
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagStatePath, "state", "", "session state file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newVolumesCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in resolvedCfg.
func loadConfig() error {
	cfg, err := config.Resolve(config.ReadEnvOverrides(), config.Overrides{ConfigPath: flagConfigPath})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg

	return nil
}

// statePath returns the session state file: --state, else the platform
// default.
func statePath() string {
	if flagStatePath != "" {
		return flagStatePath
	}

	return config.DefaultStatePath()
}

// buildLogger creates the process logger. The config level is the baseline;
// --verbose and --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level, format := "info", "auto"

	if resolvedCfg != nil {
		level, format = resolvedCfg.Logging.Level, resolvedCfg.Logging.Format
	}

	if flagVerbose {
		level = "debug"
	}

	if flagQuiet {
		level = "error"
	}

	return logging.New(level, format, os.Stderr)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
