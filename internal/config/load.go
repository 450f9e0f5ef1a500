package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values supplied directly as command-line flags.
// Empty string/zero values mean "not set" — nil-equivalent for scalars.
type CLIOverrides struct {
	ConfigPath string
	Port       int
	DataDir    string
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are rejected to catch typos early.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully", "path", path)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This supports the zero-config
// first-run experience: the daemon starts without requiring a config file.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	cfgPath := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	applyEnvOverrides(cfg, env, logger)
	applyCLIOverrides(cfg, cli, logger)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}

func applyEnvOverrides(cfg *Config, env EnvOverrides, logger *slog.Logger) {
	if env.Port != "" {
		if p, err := strconv.Atoi(env.Port); err == nil {
			cfg.Server.Port = p
		} else {
			logger.Warn("ignoring invalid DROPWIRED_PORT", "value", env.Port)
		}
	}

	if env.DataDir != "" {
		cfg.Storage.Path = env.DataDir + "/state.db"
		cfg.Storage.TempDir = env.DataDir + "/incoming"
		cfg.Storage.DestDir = env.DataDir + "/received"
	}

	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
}

func applyCLIOverrides(cfg *Config, cli CLIOverrides, logger *slog.Logger) {
	if cli.Port != 0 {
		cfg.Server.Port = cli.Port
	}

	if cli.DataDir != "" {
		cfg.Storage.Path = cli.DataDir + "/state.db"
		cfg.Storage.TempDir = cli.DataDir + "/incoming"
		cfg.Storage.DestDir = cli.DataDir + "/received"
	}

	logger.Debug("CLI overrides applied", "port", cfg.Server.Port, "storage_path", cfg.Storage.Path)
}
