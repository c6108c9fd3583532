package logbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/logbookhq/logbook/pkg/connection"
	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/db"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/source"
	"github.com/logbookhq/logbook/pkg/source/remote"
	"github.com/logbookhq/logbook/pkg/stores"
)

// Logbook owns the stores of one scope. Close releases all of them.
type Logbook struct {
	Config  *stores.ConfigStore
	Entries *stores.EntriesStore
	Updates *stores.EntriesUpdateStore

	closeSource func(ctx context.Context) error
}

type options struct {
	log            logger.Logger
	commandTimeout time.Duration
	dialTimeout    time.Duration
	retryer        connection.Retryer
}

type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithCommandTimeout bounds every create, update and delete.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *options) { o.commandTimeout = d }
}

// WithDialTimeout bounds Connect's dial, retries included.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithRetryer sets how Connect retries a failed dial.
func WithRetryer(r connection.Retryer) Option {
	return func(o *options) { o.retryer = r }
}

func newOptions(opts []Option) *options {
	o := &options{
		commandTimeout: constants.DefaultCommandTimeout,
		dialTimeout:    constants.DefaultDialTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logger.OrDiscard(o.log)
	return o
}

// New creates the stores on src. The read stores connect immediately.
func New(src source.Source, users stores.UserSource, opts ...Option) *Logbook {
	return newLogbook(src, users, newOptions(opts))
}

func newLogbook(src source.Source, users stores.UserSource, o *options) *Logbook {
	entries := db.NewEntriesService(src, o.log)
	return &Logbook{
		Config:  stores.NewConfigStore(db.NewConfigService(src, o.log), o.log),
		Entries: stores.NewEntriesStore(entries, users, o.log),
		Updates: stores.NewEntriesUpdateStore(entries, users, o.log, stores.WithCommandTimeout(o.commandTimeout)),
	}
}

// Connect dials the logbook server at url, e.g. "ws://127.0.0.1:8765",
// and creates the stores on it.
func Connect(ctx context.Context, url string, users stores.UserSource, opts ...Option) (*Logbook, error) {
	o := newOptions(opts)

	conf, err := connection.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	conf.Logger = o.log
	conf.Retryer = o.retryer

	dialCtx := ctx
	if o.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, o.dialTimeout)
		defer cancel()
	}
	client, err := remote.Dial(dialCtx, conf)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	lb := newLogbook(client, users, o)
	lb.closeSource = client.Close
	return lb, nil
}

// Close stops the command queue, releases both subscriptions and, for a
// Logbook made by Connect, closes the connection.
func (lb *Logbook) Close(ctx context.Context) error {
	lb.Updates.Close()
	lb.Entries.Close()
	lb.Config.Close()

	if lb.closeSource == nil {
		return nil
	}
	if err := lb.closeSource(ctx); err != nil && !errors.Is(err, constants.ErrConnectionClosed) {
		return err
	}
	return nil
}
