package protocol

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouterUnknownVersionReturns404(t *testing.T) {
	r := NewRouter(
		func(_ context.Context, _ Accepted) {},
		func(string) bool { return true },
		func(string, string) AuthResult { return AuthResult{Allowed: true} },
		slog.Default(),
	)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/drop/v3")
	assert := assert.New(t)
	assert.NoError(err)

	if resp != nil {
		defer resp.Body.Close()
		assert.Equal(http.StatusNotFound, resp.StatusCode)
	}
}

func TestRouterRateLimitedReturns429(t *testing.T) {
	r := NewRouter(
		func(_ context.Context, _ Accepted) {},
		func(string) bool { return false },
		func(string, string) AuthResult { return AuthResult{Allowed: true} },
		slog.Default(),
	)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/drop/v1")
	assert := assert.New(t)
	assert.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusTooManyRequests, resp.StatusCode)
}

func TestRouterUnauthenticatedV4Returns401(t *testing.T) {
	r := NewRouter(
		func(_ context.Context, _ Accepted) {},
		func(string) bool { return true },
		func(string, string) AuthResult { return AuthResult{Allowed: false, WWWAuthenticate: "nonce=abc"} },
		slog.Default(),
	)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/drop/v4")
	assert := assert.New(t)
	assert.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	assert.Equal("nonce=abc", resp.Header.Get("WWW-Authenticate"))
}
