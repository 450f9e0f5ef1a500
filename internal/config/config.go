// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for dropwired.
package config

import "time"

// Config is the top-level configuration structure for the daemon.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Session SessionConfig `toml:"session"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig controls the HTTP-upgrade listener that accepts incoming
// transfer sessions.
type ServerConfig struct {
	Port          int    `toml:"port"`
	BindAddr      string `toml:"bind_addr"`
	MaxReqsPerSec int    `toml:"max_reqs_per_sec"`
}

// StorageConfig controls where durable sync state and received files live.
type StorageConfig struct {
	// Path is the SQLite database file backing the sync store.
	Path string `toml:"path"`
	// TempDir holds in-progress downloads before they are placed at their
	// final destination. Defaults to a subdirectory of Path's directory so
	// the final rename is same-filesystem (and therefore atomic).
	TempDir string `toml:"temp_dir"`
	// DestDir is the default base directory new incoming transfers are
	// materialized under, absent an explicit per-transfer destination.
	DestDir string `toml:"dest_dir"`
}

// SessionConfig controls per-connection receiver session behavior.
type SessionConfig struct {
	PingInterval   time.Duration `toml:"ping_interval"`
	ReceiveTimeout time.Duration `toml:"receive_timeout"`
	NonceTTL       time.Duration `toml:"nonce_ttl"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}
