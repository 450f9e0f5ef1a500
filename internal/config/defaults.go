package config

import "time"

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and are chosen to be safe, reasonable
// starting points that work for most users without any config file.
const (
	defaultPort          = 9443
	defaultBindAddr      = "0.0.0.0"
	defaultMaxReqsPerSec = 10
	defaultLogLevel      = "info"
	defaultLogFormat     = "auto"
	defaultPingInterval  = 30 * time.Second
	defaultRecvTimeout   = 2 * time.Minute
	defaultNonceTTL      = 5 * time.Minute
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server:  defaultServerConfig(),
		Storage: defaultStorageConfig(),
		Session: defaultSessionConfig(),
		Logging: defaultLoggingConfig(),
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:          defaultPort,
		BindAddr:      defaultBindAddr,
		MaxReqsPerSec: defaultMaxReqsPerSec,
	}
}

func defaultStorageConfig() StorageConfig {
	dataDir := DefaultDataDir()

	return StorageConfig{
		Path:    dataDir + "/state.db",
		TempDir: dataDir + "/incoming",
		DestDir: dataDir + "/received",
	}
}

func defaultSessionConfig() SessionConfig {
	return SessionConfig{
		PingInterval:   defaultPingInterval,
		ReceiveTimeout: defaultRecvTimeout,
		NonceTTL:       defaultNonceTTL,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  defaultLogLevel,
		Format: defaultLogFormat,
	}
}
