package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dropwired/dropwired/internal/protocol"
	"github.com/dropwired/dropwired/internal/session"
)

// shutdownGrace bounds how long Serve waits for in-flight HTTP upgrades to
// settle once its context is canceled.
const shutdownGrace = 5 * time.Second

// janitorPeriod is how often the background sweep purges sync-store rows
// for transfers that are no longer tracked in memory.
const janitorPeriod = 10 * time.Minute

// Listener owns the HTTP server accepting upgraded connections and the
// per-peer rate limiter and authenticator guarding it.
type Listener struct {
	state   *State
	server  *http.Server
	limiter *session.RateLimiter
	authn   *session.Authenticator
}

// NewListener builds the router described by the session lifecycle —
// accept, authenticate, rate-limit, hand off to a new Session — bound to
// addr.
func NewListener(state *State, addr string) *Listener {
	l := &Listener{
		state:   state,
		limiter: session.NewRateLimiter(state.Config.Server.MaxReqsPerSec),
		authn:   session.NewAuthenticator(state.Config.Session.NonceTTL),
	}

	router := protocol.NewRouter(l.accept, l.limiter.Allow, l.authn.Authenticate, state.Logger)
	l.server = &http.Server{Addr: addr, Handler: router}

	return l
}

// Serve runs the HTTP server and the orphan-purge janitor side by side
// through an errgroup: either one failing cancels the other, and
// both stop once ctx is canceled.
func (l *Listener) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return l.serveHTTP(gctx) })
	g.Go(func() error { return l.runJanitor(gctx) })

	return g.Wait()
}

func (l *Listener) serveHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- l.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		return l.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}

// runJanitor periodically purges sync-store rows for transfers that
// finished, or were abandoned, while the daemon was down in a previous
// run and never got resumed into the in-memory manager.
func (l *Listener) runJanitor(ctx context.Context) error {
	ticker := time.NewTicker(janitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := l.state.Store.PurgeOrphaned(ctx, l.state.Manager.ActiveIDs())
			if err != nil {
				l.state.Logger.Warn("janitor: purge failed", "err", err)
				continue
			}

			if n > 0 {
				l.state.Logger.Info("janitor: purged orphaned transfers", "count", n)
			}
		}
	}
}

func (l *Listener) accept(ctx context.Context, a protocol.Accepted) {
	sess := session.New(a.Conn, a.Version, a.PeerIP, l.state.Manager, l.state.Store, l.state.Events, l.state.SessionConfig(), l.state.Logger)

	if err := sess.Run(ctx, l.state.Stop.Done()); err != nil {
		l.state.Logger.Warn("session ended with error", "peer", a.PeerIP, "err", err)
	}
}
