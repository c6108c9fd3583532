package testenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/logbookhq/logbook/pkg/logger"
)

// TestLogHandler is a slog.Handler that writes the message index (starting
// from 0), level and message, without the timestamp, so that test log
// output is deterministic. Handlers derived with WithAttrs or WithGroup
// share the index and the writer.
type TestLogHandler struct {
	out    *output
	attrs  []slog.Attr
	groups []string

	ignoreErrorPrefixes []string
	ignoreDebug         bool
}

type output struct {
	mu    sync.Mutex
	w     io.Writer
	index int
}

type TestLogHandlerOption func(*TestLogHandler)

// WithWriter sends the output to w instead of stdout.
func WithWriter(w io.Writer) TestLogHandlerOption {
	return func(h *TestLogHandler) {
		h.out.w = w
	}
}

// WithIgnoreErrorPrefixes drops errors whose message starts with one of prefixes.
func WithIgnoreErrorPrefixes(prefixes ...string) TestLogHandlerOption {
	return func(h *TestLogHandler) {
		h.ignoreErrorPrefixes = append(h.ignoreErrorPrefixes, prefixes...)
	}
}

func WithIgnoreDebug() TestLogHandlerOption {
	return func(h *TestLogHandler) {
		h.ignoreDebug = true
	}
}

func NewTestLogHandler(opts ...TestLogHandlerOption) *TestLogHandler {
	h := &TestLogHandler{out: &output{w: os.Stdout}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewLogger returns a logger.Logger writing through a TestLogHandler.
func NewLogger(opts ...TestLogHandlerOption) logger.Logger {
	return logger.New(NewTestLogHandler(opts...))
}

//nolint:gocritic
func (h *TestLogHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Level == slog.LevelDebug && h.ignoreDebug {
		return nil
	}
	if r.Level == slog.LevelError {
		for _, prefix := range h.ignoreErrorPrefixes {
			if strings.HasPrefix(r.Message, prefix) {
				return nil
			}
		}
	}

	attrs := h.attrsToString(&r)

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	var err error
	if attrs != "" {
		_, err = fmt.Fprintf(h.out.w, "[%d] %s: %s %s\n", h.out.index, r.Level, r.Message, attrs)
	} else {
		_, err = fmt.Fprintf(h.out.w, "[%d] %s: %s\n", h.out.index, r.Level, r.Message)
	}
	h.out.index++
	return err
}

func (h *TestLogHandler) attrsToString(r *slog.Record) string {
	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, attr := range h.attrs {
		parts = append(parts, formatAttr(attr, ""))
	}
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a, prefix))
		return true
	})
	return strings.Join(parts, ", ")
}

func formatAttr(a slog.Attr, prefix string) string {
	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix + a.Key + "."
		parts := make([]string, 0, len(a.Value.Group()))
		for _, ga := range a.Value.Group() {
			parts = append(parts, formatAttr(ga, groupPrefix))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value)
}

func (h *TestLogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *TestLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	next := h.clone()
	for _, attr := range attrs {
		if prefix != "" {
			attr = slog.Attr{Key: prefix + attr.Key, Value: attr.Value}
		}
		next.attrs = append(next.attrs, attr)
	}
	return next
}

func (h *TestLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.groups = append(next.groups, name)
	return next
}

func (h *TestLogHandler) clone() *TestLogHandler {
	return &TestLogHandler{
		out:                 h.out,
		attrs:               h.attrs[:len(h.attrs):len(h.attrs)],
		groups:              h.groups[:len(h.groups):len(h.groups)],
		ignoreErrorPrefixes: h.ignoreErrorPrefixes,
		ignoreDebug:         h.ignoreDebug,
	}
}
