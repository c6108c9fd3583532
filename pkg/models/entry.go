package models

import (
	"time"
)

// Document field names of an entry.
const (
	FieldUserID    = "userId"
	FieldTimestamp = "timestamp"
	FieldTitle     = "title"
	FieldText      = "text"
	FieldCategory  = "category"
)

// EntryDoc is a read-only replica of a stored log entry.
// ID and Timestamp are assigned by the store on creation.
type EntryDoc struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Category  *string   `json:"category"`
}

// EntryInput is the payload of a create command. A nil or empty Category
// is stored as no category.
type EntryInput struct {
	Title    string  `json:"title"`
	Text     string  `json:"text"`
	Category *string `json:"category,omitempty"`
}

// EntryPatch is the payload of an update command. Only non-nil fields are
// written. ClearCategory writes a null category; so does a Category
// pointing at an empty string.
type EntryPatch struct {
	ID            string  `json:"id"`
	Title         *string `json:"title,omitempty"`
	Text          *string `json:"text,omitempty"`
	Category      *string `json:"category,omitempty"`
	ClearCategory bool    `json:"clearCategory,omitempty"`
}

// Empty reports whether the patch writes no field at all.
func (p EntryPatch) Empty() bool {
	return p.Title == nil && p.Text == nil && p.Category == nil && !p.ClearCategory
}

// Config is the shared configuration every user sees.
type Config struct {
	Categories []string `json:"categories"`
}

// PageCursor bounds a page at a timestamp. At most one side is set;
// both nil means the first page.
type PageCursor struct {
	StartAt *time.Time `json:"startAt"`
	EndAt   *time.Time `json:"endAt"`
}

// IsZero reports whether the cursor points at the first page.
func (c PageCursor) IsZero() bool {
	return c.StartAt == nil && c.EndAt == nil
}

// EntriesFilter restricts listed entries by category. The zero value
// applies no filter. An active filter with a nil Category matches entries
// without a category.
type EntriesFilter struct {
	Active   bool    `json:"active"`
	Category *string `json:"category"`
}

func NoFilter() EntriesFilter {
	return EntriesFilter{}
}

func FilterByCategory(category *string) EntriesFilter {
	return EntriesFilter{Active: true, Category: category}
}

// Equal compares filters by value.
func (f EntriesFilter) Equal(other EntriesFilter) bool {
	if f.Active != other.Active {
		return false
	}
	return equalStringPtr(f.Category, other.Category)
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
