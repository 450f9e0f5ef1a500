package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	minPort           = 1
	maxPort           = 65535
	minMaxReqsPerSec  = 1
	maxMaxReqsPerSec  = 10_000
	minPingInterval   = time.Second
	minReceiveTimeout = time.Second
	minNonceTTL       = time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateSession(&cfg.Session)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.Port < minPort || s.Port > maxPort {
		errs = append(errs, fmt.Errorf("server.port %d out of range [%d, %d]", s.Port, minPort, maxPort))
	}

	if s.MaxReqsPerSec < minMaxReqsPerSec || s.MaxReqsPerSec > maxMaxReqsPerSec {
		errs = append(errs, fmt.Errorf("server.max_reqs_per_sec %d out of range [%d, %d]",
			s.MaxReqsPerSec, minMaxReqsPerSec, maxMaxReqsPerSec))
	}

	return errs
}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	if s.Path == "" {
		errs = append(errs, errors.New("storage.path must not be empty"))
	}

	if s.TempDir == "" {
		errs = append(errs, errors.New("storage.temp_dir must not be empty"))
	}

	if s.DestDir == "" {
		errs = append(errs, errors.New("storage.dest_dir must not be empty"))
	}

	return errs
}

func validateSession(s *SessionConfig) []error {
	var errs []error

	if s.PingInterval < minPingInterval {
		errs = append(errs, fmt.Errorf("session.ping_interval %s below minimum %s", s.PingInterval, minPingInterval))
	}

	if s.ReceiveTimeout < minReceiveTimeout {
		errs = append(errs, fmt.Errorf("session.receive_timeout %s below minimum %s", s.ReceiveTimeout, minReceiveTimeout))
	}

	if s.NonceTTL < minNonceTTL {
		errs = append(errs, fmt.Errorf("session.nonce_ttl %s below minimum %s", s.NonceTTL, minNonceTTL))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q must be one of debug, info, warn, error", l.Level))
	}

	switch l.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be one of auto, text, json", l.Format))
	}

	return errs
}
