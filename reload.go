package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "reload",
		Short:       "Ask a running daemon to reload its log level",
		Long:        "Send SIGHUP to the daemon identified by the PID file under the resolved data directory.",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runReload,
	}
}

func runReload(_ *cobra.Command, _ []string) error {
	logger := buildLogger(nil)

	cfg, err := resolveConfig(logger)
	if err != nil {
		return err
	}

	pidPath := filepath.Join(filepath.Dir(cfg.Storage.Path), pidFileName)

	if err := sendSIGHUP(pidPath); err != nil {
		return fmt.Errorf("reloading daemon: %w", err)
	}

	fmt.Println("sent reload signal")

	return nil
}
