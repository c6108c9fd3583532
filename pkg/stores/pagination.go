package stores

import (
	"github.com/logbookhq/logbook/pkg/db"
	"github.com/logbookhq/logbook/pkg/models"
)

// EntriesPage holds the pagination parameters of the entries stream and
// the entities fetched for them. Entities may hold one more item than the
// page shows; that item only signals that a next page exists.
type EntriesPage struct {
	CurrentPage int                  `json:"currentPage"`
	PageCursor  models.PageCursor    `json:"pageCursor"`
	Filters     models.EntriesFilter `json:"filters"`
	Entities    []models.EntryDoc    `json:"entities"`
}

// FirstPage returns page 1 of filter with an empty cursor.
func FirstPage(filter models.EntriesFilter) EntriesPage {
	return EntriesPage{CurrentPage: 1, Filters: filter}
}

// Visible returns at most db.PageSize entities.
func (p EntriesPage) Visible() []models.EntryDoc {
	if len(p.Entities) > db.PageSize {
		return p.Entities[:db.PageSize]
	}
	if p.Entities == nil {
		return []models.EntryDoc{}
	}
	return p.Entities
}

func (p EntriesPage) HasNextPage() bool {
	return p.CurrentPage > 0 && len(p.Entities) > db.PageSize
}

func (p EntriesPage) HasPreviousPage() bool {
	return p.CurrentPage > 1
}

// Next returns the parameters of the following page, starting at the
// over-fetched entity.
func (p EntriesPage) Next() (EntriesPage, bool) {
	if !p.HasNextPage() {
		return p, false
	}
	startAt := p.Entities[len(p.Entities)-1].Timestamp
	return EntriesPage{
		CurrentPage: p.CurrentPage + 1,
		PageCursor:  models.PageCursor{StartAt: &startAt},
		Filters:     p.Filters,
	}, true
}

// Previous returns the parameters of the preceding page: the page ending
// at the first entity of this one. Without entities there is nothing to
// anchor the cursor to and pagination starts over at page 1.
func (p EntriesPage) Previous() (EntriesPage, bool) {
	if !p.HasPreviousPage() {
		return p, false
	}
	if len(p.Entities) == 0 {
		return FirstPage(p.Filters), true
	}
	endAt := p.Entities[0].Timestamp
	return EntriesPage{
		CurrentPage: p.CurrentPage - 1,
		PageCursor:  models.PageCursor{EndAt: &endAt},
		Filters:     p.Filters,
	}, true
}
