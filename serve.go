package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dropwired/dropwired/internal/config"
	"github.com/dropwired/dropwired/internal/daemon"
)

// pidFileName is fixed relative to the resolved data directory; there is
// exactly one daemon per data directory.
const pidFileName = "dropwired.pid"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "serve",
		Short:       "Run the dropwired daemon",
		Long:        "Start the daemon: listen for incoming transfer sessions and resume any in-flight transfers left over from a previous run.",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	bootstrapLogger := buildLogger(nil)

	cfg, err := resolveConfig(bootstrapLogger)
	if err != nil {
		return err
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(logLevel(cfg))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))

	pidPath := filepath.Join(filepath.Dir(cfg.Storage.Path), pidFileName)

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	reloadSignalContext(ctx, logger, func() {
		// Only the log level is live-reloadable; everything else (listen
		// address, storage paths) requires a restart to change safely.
		fresh, reloadErr := resolveConfig(logger)
		if reloadErr != nil {
			logger.Warn("reload: config still invalid, keeping current log level", "err", reloadErr)
			return
		}

		levelVar.Set(logLevel(fresh))
	})

	state, err := daemon.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing daemon state: %w", err)
	}
	defer func() {
		if closeErr := state.Close(); closeErr != nil {
			logger.Warn("closing sync store", "err", closeErr)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddr, cfg.Server.Port)
	listener := daemon.NewListener(state, addr)

	logger.Info("dropwired daemon starting", "addr", addr, "data_dir", filepath.Dir(cfg.Storage.Path))

	if err := listener.Serve(ctx); err != nil {
		return fmt.Errorf("serving: %w", err)
	}

	logger.Info("dropwired daemon stopped")

	return nil
}

func logLevel(cfg *config.Config) slog.Level {
	switch cfg.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
