package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dropwired/dropwired/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagPort       int
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks every command here: each resolves its own
// config explicitly (serve needs it before the PID file and listener exist,
// status and config need it read-only), so there is nothing for a shared
// PersistentPreRunE to usefully do.
const skipConfigAnnotation = "skipConfig"

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dropwired",
		Short:         "Peer-to-peer resumable file transfer daemon",
		Long:          "dropwired accepts and initiates resumable file transfers between trusted peers over an authenticated WebSocket connection.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newReloadCmd())

	return cmd
}

// buildLogger creates an slog.Logger configured by cfg and the global CLI
// flags. Pass nil for pre-config bootstrap. cfg's log level provides the
// baseline; --verbose, --debug, and --quiet always override it.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveConfig applies the CLI/env/file override chain using the global
// persistent flags, the way every subcommand here needs its config.
func resolveConfig(logger *slog.Logger) (*config.Config, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if flagPort != 0 {
		cli.Port = flagPort
	}

	if flagDataDir != "" {
		cli.DataDir = flagDataDir
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(), cli, logger)
	if err != nil {
		return nil, fmt.Errorf("resolving config: %w", err)
	}

	return cfg, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
