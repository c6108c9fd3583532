package stores

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/db"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/models"
	"github.com/logbookhq/logbook/pkg/observable"
)

// CommandState is the state of the command queue. Error holds the message
// of the last failed command and is cleared when the next one starts.
type CommandState struct {
	Processing bool   `json:"processing"`
	Error      string `json:"error,omitempty"`
}

// Command is a queued mutation. Err is valid once Done is closed.
type Command struct {
	op      string
	failMsg string
	run     func(ctx context.Context, userID string) error

	done chan struct{}
	err  error
	// ID is the id of the created entry; set by successful creates only.
	ID string
}

func (c *Command) Done() <-chan struct{} {
	return c.done
}

func (c *Command) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the command settled or ctx is done.
func (c *Command) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Command) finish(err error) {
	c.err = err
	close(c.done)
}

type UpdateOption func(*EntriesUpdateStore)

// WithCommandTimeout bounds every remote mutation. 0 disables the bound.
func WithCommandTimeout(d time.Duration) UpdateOption {
	return func(s *EntriesUpdateStore) { s.timeout = d }
}

// EntriesUpdateStore runs create, update and delete commands one at a
// time in the order they were issued.
type EntriesUpdateStore struct {
	svc     *db.EntriesService
	users   UserSource
	log     logger.Logger
	timeout time.Duration
	state   *observable.Value[CommandState]

	mu      sync.Mutex
	queue   []*Command
	wake    chan struct{}
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewEntriesUpdateStore(svc *db.EntriesService, users UserSource, log logger.Logger, opts ...UpdateOption) *EntriesUpdateStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &EntriesUpdateStore{
		svc:     svc,
		users:   users,
		log:     logger.OrDiscard(log),
		timeout: constants.DefaultCommandTimeout,
		state:   observable.New(CommandState{}),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.worker()
	return s
}

func (s *EntriesUpdateStore) State() CommandState {
	return s.state.Get()
}

func (s *EntriesUpdateStore) Watch(ctx context.Context) <-chan CommandState {
	return s.state.Watch(ctx)
}

// Create queues the creation of an entry owned by the signed in user.
func (s *EntriesUpdateStore) Create(input models.EntryInput) *Command {
	cmd := &Command{op: "create", failMsg: constants.MsgCreateFailed}
	cmd.run = func(ctx context.Context, userID string) error {
		id, err := s.svc.Create(ctx, userID, input)
		cmd.ID = id
		return err
	}
	return s.enqueue(cmd)
}

// Update queues writing the fields set in patch.
func (s *EntriesUpdateStore) Update(patch models.EntryPatch) *Command {
	return s.enqueue(&Command{
		op:      "update",
		failMsg: constants.MsgUpdateFailed,
		run: func(ctx context.Context, _ string) error {
			return s.svc.Update(ctx, patch)
		},
	})
}

// Delete queues the removal of the entry id.
func (s *EntriesUpdateStore) Delete(id string) *Command {
	return s.enqueue(&Command{
		op:      "delete",
		failMsg: constants.MsgDeleteFailed,
		run: func(ctx context.Context, _ string) error {
			return s.svc.Delete(ctx, id)
		},
	})
}

func (s *EntriesUpdateStore) enqueue(cmd *Command) *Command {
	cmd.done = make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cmd.finish(constants.ErrClosed)
		return cmd
	}
	s.queue = append(s.queue, cmd)
	s.mu.Unlock()

	s.log.Info(cmd.op, "queued", true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return cmd
}

func (s *EntriesUpdateStore) worker() {
	defer close(s.stopped)
	for {
		cmd, ok := s.pop()
		if !ok {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		s.process(cmd)
	}
}

func (s *EntriesUpdateStore) pop() (*Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return nil, false
	}
	cmd := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return cmd, true
}

func (s *EntriesUpdateStore) process(cmd *Command) {
	s.setState(CommandState{Processing: true})

	userID := s.users.CurrentUserID()
	if userID == "" {
		s.log.Warn(cmd.op+": not logged in", "op", cmd.op)
		s.setState(CommandState{Error: constants.MsgNotLoggedIn})
		cmd.finish(constants.ErrNotLoggedIn)
		return
	}

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err := cmd.run(ctx, userID)
	switch {
	case err == nil:
		s.setState(CommandState{})
	case errors.Is(s.ctx.Err(), context.Canceled):
		s.log.Warn(cmd.op+": cancelled", "error", err)
		s.setState(CommandState{})
		err = constants.ErrClosed
	default:
		s.log.Error(cmd.op+": failed", "error", err)
		s.setState(CommandState{Error: cmd.failMsg})
	}
	cmd.finish(err)
}

func (s *EntriesUpdateStore) setState(st CommandState) {
	s.state.Set(st)
	s.log.Debug("state", "store", "entriesUpdate", "processing", st.Processing, "error", st.Error)
}

// Close stops the worker. The running command is cancelled and queued
// ones fail with constants.ErrClosed.
func (s *EntriesUpdateStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	<-s.stopped
	for _, cmd := range pending {
		cmd.finish(constants.ErrClosed)
	}
	s.state.Close()
}
