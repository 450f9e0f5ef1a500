package protocol

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/dropwired/dropwired/internal/syncerr"
)

// Accepted is delivered to an AcceptFunc for every upgraded connection.
type Accepted struct {
	Conn    Conn
	Version Version
	PeerIP  string
}

// AcceptFunc handles one upgraded connection. It owns the connection for
// its lifetime and is responsible for closing it.
type AcceptFunc func(ctx context.Context, a Accepted)

// RateLimitFunc reports whether peerIP is within its requests-per-second
// quota. false yields HTTP 429 before any upgrade is attempted.
type RateLimitFunc func(peerIP string) bool

// AuthResult is returned by AuthFunc.
type AuthResult struct {
	Allowed         bool
	WWWAuthenticate string // set when Allowed is false, for the 401 response header
}

// AuthFunc validates the V4+ bearer/nonce handshake. It is never called for
// V1/V2, which are unauthenticated by design.
type AuthFunc func(peerIP string, authorizationHeader string) AuthResult

// NewRouter builds the HTTP router exposing /drop/{version}. Each request
// is authenticated (V4+ only), rate-limited, then upgraded to a WebSocket
// and handed to accept, matching the order in the session lifecycle:
// accept, authenticate, rate-limit, initial request.
func NewRouter(accept AcceptFunc, rateLimit RateLimitFunc, authenticate AuthFunc, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/drop/{version}", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)

		version, err := ParseVersion(vars["version"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		peerIP, err := peerIPFromRequest(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if version.RequiresAuth() {
			result := authenticate(peerIP, req.Header.Get("Authorization"))
			if !result.Allowed {
				w.Header().Set("WWW-Authenticate", result.WWWAuthenticate)
				http.Error(w, "authorization required", http.StatusUnauthorized)

				return
			}
		}

		if !rateLimit(peerIP) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}

		ws, err := websocket.Accept(w, req, &websocket.AcceptOptions{
			CompressionMode: websocket.CompressionDisabled,
		})
		if err != nil {
			logger.Warn("websocket upgrade failed", "peer", peerIP, "err", err)
			return
		}

		conn := NewWebsocketConn(ws, peerIP)
		accept(req.Context(), Accepted{Conn: conn, Version: version, PeerIP: peerIP})
	}).Methods(http.MethodGet)

	return r
}

func peerIPFromRequest(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", errors.Join(syncerr.ErrInvalidArgument, err)
	}

	return host, nil
}
