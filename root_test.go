package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dropwired/dropwired/internal/config"
)

func TestBuildLogger_Default(t *testing.T) {
	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_VerboseOverridesConfig(t *testing.T) {
	flagVerbose = true
	defer func() { flagVerbose = false }()

	logger := buildLogger(&config.Config{Logging: config.LoggingConfig{Level: "error"}})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_QuietOverridesVerbose(t *testing.T) {
	flagVerbose = true
	flagQuiet = true
	defer func() { flagVerbose, flagQuiet = false, false }()

	logger := buildLogger(nil)

	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
}

func TestResolveConfig_AppliesPortFlag(t *testing.T) {
	flagPort = 12345
	defer func() { flagPort = 0 }()

	cfg, err := resolveConfig(buildLogger(nil))
	assert.NoError(t, err)
	assert.Equal(t, 12345, cfg.Server.Port)
}

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}

	assert.True(t, names["serve"])
	assert.True(t, names["status"])
	assert.True(t, names["config"])
	assert.True(t, names["reload"])
}
