package stores

import (
	"context"

	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/db"
	"github.com/logbookhq/logbook/pkg/lifecycle"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/models"
)

type ConfigState = lifecycle.State[models.Config]

// ConfigStore follows the shared configuration. It connects on
// construction.
type ConfigStore struct {
	svc *db.ConfigService
	log logger.Logger
	lc  *lifecycle.Lifecycle[models.Config]
}

func NewConfigStore(svc *db.ConfigService, log logger.Logger) *ConfigStore {
	s := &ConfigStore{svc: svc, log: logger.OrDiscard(log)}
	s.lc = lifecycle.New("config", s.stream,
		lifecycle.WithLogger[models.Config](s.log),
		lifecycle.WithFailureMessage[models.Config](constants.MsgConfigFetchFailed),
	)
	s.lc.ManageStream(lifecycle.ActionConnect)
	return s
}

func (s *ConfigStore) stream(ctx context.Context, sink *lifecycle.Sink[models.Config]) {
	sub, err := s.svc.Subscribe(ctx)
	if err != nil {
		s.fail(sink, err)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub.Updates():
			if !ok {
				if ctx.Err() == nil {
					s.fail(sink, constants.ErrSubscriptionClosed)
				}
				return
			}
			if u.Err != nil {
				s.fail(sink, u.Err)
				return
			}
			sink.Set(lifecycle.Connected[models.Config]{Value: u.Value})
		}
	}
}

func (s *ConfigStore) fail(sink *lifecycle.Sink[models.Config], err error) {
	s.log.Error("config: fetch failed", "error", err)
	sink.Set(lifecycle.Failed[models.Config]{Message: constants.MsgConfigFetchFailed})
}

func (s *ConfigStore) ManageStream(action lifecycle.Action) {
	s.lc.ManageStream(action)
}

func (s *ConfigStore) State() ConfigState {
	return s.lc.State()
}

func (s *ConfigStore) Watch(ctx context.Context) <-chan ConfigState {
	return s.lc.Watch(ctx)
}

// Categories returns the configured categories, or none unless connected.
func (s *ConfigStore) Categories() []string {
	return Categories(s.lc.State())
}

// Categories derives the category list from a config state.
func Categories(state ConfigState) []string {
	cfg, ok := state.Data()
	if !ok || cfg.Categories == nil {
		return []string{}
	}
	return cfg.Categories
}

// Close releases the subscription and enters Disconnected.
func (s *ConfigStore) Close() {
	s.lc.Close()
}
