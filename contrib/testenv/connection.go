// Package testenv provides utilities for testing the logbook stores
// against a real websocket source.
//
// It starts an in-process server backed by a memory source and dials it
// the way a client would.
package testenv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/logbookhq/logbook/pkg/connection"
	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/db"
	"github.com/logbookhq/logbook/pkg/server"
	"github.com/logbookhq/logbook/pkg/source/memory"
	"github.com/logbookhq/logbook/pkg/source/remote"
)

const (
	// DefaultAddr is the listen address of the test server. Port 0 picks a free port.
	DefaultAddr = "127.0.0.1:0"

	// EnvAddr overrides DefaultAddr.
	EnvAddr = "LOGBOOK_TEST_ADDR"
)

func listenAddr() string {
	if addr := os.Getenv(EnvAddr); addr != "" {
		return addr
	}
	return DefaultAddr
}

// MustNewMemorySource returns a memory source holding categories. It is
// closed when the test ends.
func MustNewMemorySource(t testing.TB, categories ...string) *memory.Source {
	t.Helper()
	src := memory.New()
	if len(categories) > 0 {
		require.NoError(t, db.Seed(context.Background(), src, categories))
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

// MustStartServer serves src over websocket and returns the server and
// its ws URL. The server is stopped when the test ends.
func MustStartServer(t testing.TB, src *memory.Source, opts ...server.Option) (*server.Server, string) {
	t.Helper()
	srv := server.New(src, opts...)
	require.NoError(t, srv.Start(listenAddr()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv, constants.WebsocketScheme + "://" + srv.Address()
}

// DialOption adjusts the connection config used by MustDial.
type DialOption func(*connection.Config)

// WithRequestTimeout bounds the wait for each RPC response.
func WithRequestTimeout(d time.Duration) DialOption {
	return func(c *connection.Config) { c.Timeout = d }
}

// MustDial connects a remote source to url. The connection is closed when
// the test ends.
func MustDial(t testing.TB, url string, opts ...DialOption) *remote.Client {
	t.Helper()
	conf, err := connection.ParseConfig(url)
	require.NoError(t, err)
	conf.Logger = nil
	conf.Timeout = 2 * time.Second
	for _, opt := range opts {
		opt(conf)
	}

	client, err := remote.Dial(context.Background(), conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}
