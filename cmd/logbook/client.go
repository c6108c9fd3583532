package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/docopt/docopt-go"
	"github.com/goccy/go-json"

	"github.com/logbookhq/logbook"
	"github.com/logbookhq/logbook/pkg/auth"
	"github.com/logbookhq/logbook/pkg/config"
	"github.com/logbookhq/logbook/pkg/connection"
	"github.com/logbookhq/logbook/pkg/lifecycle"
	"github.com/logbookhq/logbook/pkg/models"
	"github.com/logbookhq/logbook/pkg/stores"
)

type client struct {
	lb *logbook.Logbook
}

// withLogbook connects as userID, runs fn and disconnects.
func withLogbook(ctx context.Context, cfg config.Config, userID string, fn func(*client) error) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	users := auth.NewStore(log)
	if userID != "" {
		users.SignIn(userID)
	}

	lb, err := logbook.Connect(ctx, cfg.URL, users,
		logbook.WithLogger(log),
		logbook.WithCommandTimeout(cfg.CommandTimeout),
		logbook.WithDialTimeout(cfg.DialTimeout),
		logbook.WithRetryer(connection.NewExponentialBackoffRetryer()),
	)
	if err != nil {
		return err
	}
	defer lb.Close(context.Background())

	return fn(&client{lb: lb})
}

func (c *client) categories(ctx context.Context, out io.Writer) error {
	state, err := await(ctx, c.lb.Config.Watch)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]any{"categories": stores.Categories(state)})
}

func (c *client) list(ctx context.Context, opts docopt.Opts, out io.Writer) error {
	page, err := strconv.Atoi(str(opts, "--page"))
	if err != nil || page < 1 {
		return fmt.Errorf("--page: want a positive number, got %q", str(opts, "--page"))
	}

	entries := c.lb.Entries
	state, err := await(ctx, entries.Watch)
	if err != nil {
		return err
	}

	filter := models.NoFilter()
	switch {
	case flag(opts, "--uncategorized"):
		filter = models.FilterByCategory(nil)
	case strPtr(opts, "--category") != nil:
		filter = models.FilterByCategory(strPtr(opts, "--category"))
	}
	if filter.Active {
		entries.SetCategoryFilter(filter)
		if state, err = await(ctx, entries.Watch); err != nil {
			return err
		}
	}

	for stores.HasNextPage(state) && entries.CurrentPage() < page {
		entries.NextPage()
		if state, err = await(ctx, entries.Watch); err != nil {
			return err
		}
	}
	current, _ := lifecycle.Params(state)
	if current.CurrentPage != page {
		return fmt.Errorf("page %d does not exist, the last page is %d", page, current.CurrentPage)
	}

	return printJSON(out, map[string]any{
		"page":            current.CurrentPage,
		"hasPreviousPage": stores.HasPreviousPage(state),
		"hasNextPage":     stores.HasNextPage(state),
		"entries":         stores.Entries(state),
	})
}

func (c *client) add(ctx context.Context, opts docopt.Opts, out io.Writer) error {
	cmd := c.lb.Updates.Create(models.EntryInput{
		Title:    str(opts, "--title"),
		Text:     str(opts, "--text"),
		Category: strPtr(opts, "--category"),
	})
	if err := c.settle(ctx, cmd); err != nil {
		return err
	}
	return printJSON(out, map[string]any{"id": cmd.ID})
}

func (c *client) edit(ctx context.Context, opts docopt.Opts, out io.Writer) error {
	patch := models.EntryPatch{
		ID:            str(opts, "<id>"),
		Title:         strPtr(opts, "--title"),
		Text:          strPtr(opts, "--text"),
		Category:      strPtr(opts, "--category"),
		ClearCategory: flag(opts, "--no-category"),
	}
	if patch.Empty() {
		return errors.New("edit: nothing to change")
	}
	if err := c.settle(ctx, c.lb.Updates.Update(patch)); err != nil {
		return err
	}
	return printJSON(out, map[string]any{"id": patch.ID})
}

func (c *client) rm(ctx context.Context, opts docopt.Opts, out io.Writer) error {
	id := str(opts, "<id>")
	if err := c.settle(ctx, c.lb.Updates.Delete(id)); err != nil {
		return err
	}
	return printJSON(out, map[string]any{"id": id})
}

// settle waits for cmd and reports the store's message on failure.
func (c *client) settle(ctx context.Context, cmd *stores.Command) error {
	if err := cmd.Wait(ctx); err != nil {
		if msg := c.lb.Updates.State().Error; msg != "" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}
	return nil
}

// await waits until the watched store is connected or failed.
func await[T any](ctx context.Context, watch func(context.Context) <-chan lifecycle.State[T]) (lifecycle.State[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for state := range watch(ctx) {
		switch state.Status() {
		case lifecycle.StatusConnected:
			return state, nil
		case lifecycle.StatusError:
			return state, errors.New(state.ErrorMessage())
		case lifecycle.StatusDisconnected:
			return state, errors.New("disconnected")
		}
	}
	return nil, ctx.Err()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
