package stores

import (
	"context"

	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/db"
	"github.com/logbookhq/logbook/pkg/lifecycle"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/models"
	"github.com/logbookhq/logbook/pkg/source"
)

type EntriesState = lifecycle.State[EntriesPage]

// EntriesStore follows one page of the signed in user's entries.
//
// Connecting carries the page parameters being fetched, Connected the
// parameters together with the fetched entities. The store connects on
// construction; signing out yields Disconnected until the next sign in.
type EntriesStore struct {
	svc   *db.EntriesService
	users UserSource
	log   logger.Logger
	lc    *lifecycle.Lifecycle[EntriesPage]
}

func NewEntriesStore(svc *db.EntriesService, users UserSource, log logger.Logger) *EntriesStore {
	s := &EntriesStore{svc: svc, users: users, log: logger.OrDiscard(log)}
	s.lc = lifecycle.New("entries", s.stream,
		lifecycle.WithLogger[EntriesPage](s.log),
		lifecycle.WithFailureMessage[EntriesPage](constants.MsgEntriesFetchFailed),
		lifecycle.WithProvisional(func() EntriesPage { return FirstPage(models.NoFilter()) }),
	)
	s.lc.ManageStream(lifecycle.ActionConnect)
	return s
}

// stream subscribes to the page described by the state it was started
// with, resubscribing whenever the signed in user changes.
func (s *EntriesStore) stream(ctx context.Context, sink *lifecycle.Sink[EntriesPage]) {
	params, ok := lifecycle.Params(sink.Current())
	if !ok {
		params = FirstPage(models.NoFilter())
	}
	users := s.users.WatchUserID(ctx)

	var (
		sub     source.Subscription[[]models.EntryDoc]
		updates <-chan source.Update[[]models.EntryDoc]
		userID  string
		started bool
	)
	release := func() {
		if sub != nil {
			_ = sub.Close()
			sub, updates = nil, nil
		}
	}
	defer release()

	for {
		select {
		case <-ctx.Done():
			return

		case next, ok := <-users:
			if !ok {
				return
			}
			if started && next == userID {
				continue
			}
			release()
			switched := started
			started, userID = true, next

			if userID == "" {
				params = FirstPage(models.NoFilter())
				sink.Set(lifecycle.Disconnected[EntriesPage]{})
				continue
			}
			if switched {
				s.log.Info("entries: user changed", "userId", userID)
				params = FirstPage(params.Filters)
				sink.Set(lifecycle.Connecting[EntriesPage]{Provisional: params})
			}

			var err error
			sub, err = s.svc.SubscribePage(ctx, userID, params.PageCursor, params.Filters)
			if err != nil {
				s.fail(sink, err)
				continue
			}
			updates = sub.Updates()

		case u, ok := <-updates:
			if !ok {
				release()
				if ctx.Err() == nil {
					s.fail(sink, constants.ErrSubscriptionClosed)
				}
				continue
			}
			if u.Err != nil {
				release()
				s.fail(sink, u.Err)
				continue
			}
			page := params
			page.Entities = u.Value
			sink.Set(lifecycle.Connected[EntriesPage]{Value: page})
		}
	}
}

func (s *EntriesStore) fail(sink *lifecycle.Sink[EntriesPage], err error) {
	s.log.Error("entries: fetch failed", "error", err)
	sink.Set(lifecycle.Failed[EntriesPage]{Message: constants.MsgEntriesFetchFailed})
}

// ManageStream connects or disconnects. Connecting starts over at page 1
// without a filter.
func (s *EntriesStore) ManageStream(action lifecycle.Action) {
	s.lc.ManageStream(action)
}

func (s *EntriesStore) State() EntriesState {
	return s.lc.State()
}

func (s *EntriesStore) Watch(ctx context.Context) <-chan EntriesState {
	return s.lc.Watch(ctx)
}

// NextPage moves to the following page. It reports false and changes
// nothing unless connected with a next page.
func (s *EntriesStore) NextPage() bool {
	return s.lc.Restart(func(current EntriesState) (EntriesState, bool) {
		connected, ok := current.(lifecycle.Connected[EntriesPage])
		if !ok {
			return current, false
		}
		next, ok := connected.Value.Next()
		if !ok {
			return current, false
		}
		s.log.Info("nextPage", "page", next.CurrentPage)
		return lifecycle.Connecting[EntriesPage]{Provisional: next}, true
	})
}

// PreviousPage moves to the preceding page. It reports false and changes
// nothing unless connected with a previous page.
func (s *EntriesStore) PreviousPage() bool {
	return s.lc.Restart(func(current EntriesState) (EntriesState, bool) {
		connected, ok := current.(lifecycle.Connected[EntriesPage])
		if !ok {
			return current, false
		}
		prev, ok := connected.Value.Previous()
		if !ok {
			return current, false
		}
		s.log.Info("previousPage", "page", prev.CurrentPage)
		return lifecycle.Connecting[EntriesPage]{Provisional: prev}, true
	})
}

// SetCategoryFilter applies filter and starts over at page 1. Use
// models.NoFilter to clear it. It does nothing while disconnected.
func (s *EntriesStore) SetCategoryFilter(filter models.EntriesFilter) bool {
	return s.lc.Restart(func(current EntriesState) (EntriesState, bool) {
		if current.Status() == lifecycle.StatusDisconnected {
			return current, false
		}
		s.log.Info("setCategoryFilter", "active", filter.Active, "category", categoryLabel(filter.Category))
		return lifecycle.Connecting[EntriesPage]{Provisional: FirstPage(filter)}, true
	})
}

// Entries returns the visible entries of the current page.
func (s *EntriesStore) Entries() []models.EntryDoc {
	return Entries(s.lc.State())
}

func (s *EntriesStore) HasNextPage() bool {
	return HasNextPage(s.lc.State())
}

// HasPreviousPage reports whether PreviousPage would move back. It is false
// while the page is still being fetched.
func (s *EntriesStore) HasPreviousPage() bool {
	return HasPreviousPage(s.lc.State())
}

// CurrentPage returns the page shown or being fetched, 0 when disconnected.
func (s *EntriesStore) CurrentPage() int {
	p, _ := lifecycle.Params(s.lc.State())
	return p.CurrentPage
}

// Filters returns the filter of the page shown or being fetched.
func (s *EntriesStore) Filters() models.EntriesFilter {
	p, _ := lifecycle.Params(s.lc.State())
	return p.Filters
}

// Close releases the subscription and enters Disconnected.
func (s *EntriesStore) Close() {
	s.lc.Close()
}

// Entries derives the visible entries from an entries state.
func Entries(state EntriesState) []models.EntryDoc {
	page, ok := state.Data()
	if !ok {
		return []models.EntryDoc{}
	}
	return page.Visible()
}

func HasNextPage(state EntriesState) bool {
	page, ok := state.Data()
	return ok && page.HasNextPage()
}

func HasPreviousPage(state EntriesState) bool {
	page, ok := state.Data()
	return ok && page.HasPreviousPage()
}

func categoryLabel(category *string) string {
	if category == nil {
		return "<none>"
	}
	return *category
}
