// Package db maps the logbook domain onto a source.Source.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/models"
	"github.com/logbookhq/logbook/pkg/source"
)

// FetchSize is the number of entries requested per page: one more than
// the page shows, so the extra entry tells whether a next page exists.
const (
	PageSize  = 2
	FetchSize = PageSize + 1
)

type EntriesService struct {
	src source.Source
	log logger.Logger
}

func NewEntriesService(src source.Source, log logger.Logger) *EntriesService {
	return &EntriesService{src: src, log: logger.OrDiscard(log)}
}

// Query builds the page query of a user's entries, newest first.
func (s *EntriesService) Query(userID string, cursor models.PageCursor, filter models.EntriesFilter) source.PageQuery {
	q := source.PageQuery{
		Collection: constants.EntriesCollection,
		Filters: []source.Filter{
			{Field: models.FieldUserID, Op: source.OpEqual, Value: userID},
		},
		OrderBy: source.OrderBy{Field: models.FieldTimestamp, Direction: source.Desc},
		Limit:   FetchSize,
	}
	if cursor.StartAt != nil {
		q.Cursor.StartAt = *cursor.StartAt
	}
	if cursor.EndAt != nil {
		q.Cursor.EndAt = *cursor.EndAt
	}
	if filter.Active {
		q.Filters = append(q.Filters, source.Filter{
			Field: models.FieldCategory,
			Op:    source.OpEqual,
			Value: categoryValue(filter.Category),
		})
	}
	return q
}

// SubscribePage streams the entries page selected by cursor and filter.
func (s *EntriesService) SubscribePage(
	ctx context.Context,
	userID string,
	cursor models.PageCursor,
	filter models.EntriesFilter,
) (source.Subscription[[]models.EntryDoc], error) {
	sub, err := s.src.SubscribePage(ctx, s.Query(userID, cursor, filter))
	if err != nil {
		return nil, err
	}
	return source.Map(sub, DecodeEntries), nil
}

// Create stores a new entry owned by userID. The store assigns the id and
// the timestamp.
func (s *EntriesService) Create(ctx context.Context, userID string, input models.EntryInput) (string, error) {
	s.log.Debug("entries: create", "userId", userID)
	return s.src.Create(ctx, constants.EntriesCollection, map[string]any{
		models.FieldUserID:    userID,
		models.FieldTitle:     input.Title,
		models.FieldText:      input.Text,
		models.FieldCategory:  categoryValue(input.Category),
		models.FieldTimestamp: source.ServerTimestamp{},
	})
}

// Update writes the fields set in patch and nothing else.
func (s *EntriesService) Update(ctx context.Context, patch models.EntryPatch) error {
	fields := map[string]any{}
	if patch.Title != nil {
		fields[models.FieldTitle] = *patch.Title
	}
	if patch.Text != nil {
		fields[models.FieldText] = *patch.Text
	}
	if patch.ClearCategory {
		fields[models.FieldCategory] = nil
	} else if patch.Category != nil {
		fields[models.FieldCategory] = categoryValue(patch.Category)
	}
	s.log.Debug("entries: update", "id", patch.ID, "fields", len(fields))
	return s.src.Update(ctx, constants.EntriesCollection, patch.ID, fields)
}

func (s *EntriesService) Delete(ctx context.Context, id string) error {
	s.log.Debug("entries: delete", "id", id)
	return s.src.Delete(ctx, constants.EntriesCollection, id)
}

// categoryValue maps a missing or empty category to nil.
func categoryValue(category *string) any {
	if category == nil || *category == "" {
		return nil
	}
	return *category
}

func DecodeEntries(docs []source.Document) ([]models.EntryDoc, error) {
	entries := make([]models.EntryDoc, 0, len(docs))
	for _, doc := range docs {
		entry, err := DecodeEntry(doc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func DecodeEntry(doc source.Document) (models.EntryDoc, error) {
	entry := models.EntryDoc{ID: doc.ID}

	var err error
	if entry.UserID, err = stringField(doc, models.FieldUserID); err != nil {
		return entry, err
	}
	if entry.Title, err = stringField(doc, models.FieldTitle); err != nil {
		return entry, err
	}
	if entry.Text, err = stringField(doc, models.FieldText); err != nil {
		return entry, err
	}

	switch ts := doc.Fields[models.FieldTimestamp].(type) {
	case time.Time:
		entry.Timestamp = ts
	default:
		return entry, fmt.Errorf("entry %s: timestamp has type %T", doc.ID, ts)
	}

	switch c := doc.Fields[models.FieldCategory].(type) {
	case nil:
	case string:
		entry.Category = &c
	default:
		return entry, fmt.Errorf("entry %s: category has type %T", doc.ID, c)
	}
	return entry, nil
}

// stringField reads an optional string field.
func stringField(doc source.Document, field string) (string, error) {
	switch v := doc.Fields[field].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("entry %s: %s has type %T", doc.ID, field, v)
	}
}
