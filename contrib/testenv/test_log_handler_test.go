package testenv

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ExampleNewTestLogHandler() {
	logger := slog.New(NewTestLogHandler())

	logger.Info("store started")
	logger.Warn("config: no categories found", slog.String("key", "config"))
	logger.Error("entries: fetch failed", slog.Int("page", 3))

	// Output:
	// [0] INFO: store started
	// [1] WARN: config: no categories found key=config
	// [2] ERROR: entries: fetch failed page=3
}

func ExampleNewTestLogHandler_withAttrsAndGroup() {
	logger := slog.New(NewTestLogHandler())

	logger.
		With(slog.String("store", "entries")).
		WithGroup("page").
		With(slog.Int("current", 2)).
		Info("state", slog.String("status", "connected"))

	// Output:
	// [0] INFO: state store=entries, page.current=2, page.status=connected
}

func ExampleNewTestLogHandler_nestedGroupAttribute() {
	logger := slog.New(NewTestLogHandler())

	logger.WithGroup("rpc").Info("request",
		slog.Group("params", slog.String("collection", "entries"), slog.Duration("timeout", time.Second)),
		slog.String("method", "create"),
	)

	// Output:
	// [0] INFO: request rpc.params.collection=entries, rpc.params.timeout=1s, rpc.method=create
}

func ExampleWithIgnoreDebug() {
	logger := slog.New(NewTestLogHandler(WithIgnoreDebug(), WithIgnoreErrorPrefixes("remote:")))

	logger.Debug("state")
	logger.Error("remote: connection lost")
	logger.Info("manageStream")

	// Output:
	// [0] INFO: manageStream
}

func TestSharedIndexAcrossDerivedHandlers(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewTestLogHandler(WithWriter(&buf)))
	derived := base.With("store", "config")

	base.Info("one")
	derived.Info("two")

	assert.Equal(t, "[0] INFO: one\n[1] INFO: two store=config\n", buf.String())
}

func TestConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(WithWriter(&buf))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("tick")
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, bytes.Count(buf.Bytes(), []byte("INFO: tick")))
}
