// Package daemon holds the process-wide state a running dropwired server
// wires together once at startup and hands to every accepted connection.
package daemon

import (
	"context"
	"log/slog"

	"github.com/dropwired/dropwired/internal/config"
	"github.com/dropwired/dropwired/internal/events"
	"github.com/dropwired/dropwired/internal/session"
	"github.com/dropwired/dropwired/internal/syncstore"
	"github.com/dropwired/dropwired/internal/transfer"
)

// State bundles everything a connection handler needs, built once in the
// serve command and passed by reference to every accepted session.
type State struct {
	Config  *config.Config
	Store   *syncstore.Store
	Manager *transfer.Manager
	Events  events.Sink
	Logger  *slog.Logger

	Stop   context.Context
	Cancel context.CancelFunc
}

// New opens the sync store and wires a fresh transfer manager and event
// sink around it. Callers must call Close when the process shuts down.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*State, error) {
	store, err := syncstore.NewStore(ctx, cfg.Storage.Path, logger)
	if err != nil {
		return nil, err
	}

	stopCtx, cancel := context.WithCancel(ctx)

	return &State{
		Config:  cfg,
		Store:   store,
		Manager: transfer.NewManager(store),
		Events:  make(events.ChanSink, 256),
		Logger:  logger,
		Stop:    stopCtx,
		Cancel:  cancel,
	}, nil
}

// Close releases the sync store's database handle. Safe to call once,
// after every session has finished draining.
func (s *State) Close() error {
	return s.Store.Close()
}

// SessionConfig derives the per-connection session config from the
// process-wide configuration.
func (s *State) SessionConfig() session.Config {
	return session.Config{
		PingInterval:   s.Config.Session.PingInterval,
		ReceiveTimeout: s.Config.Session.ReceiveTimeout,
		DestDir:        s.Config.Storage.DestDir,
		TempDir:        s.Config.Storage.TempDir,
		SourceDir:      s.Config.Storage.DestDir,
	}
}
