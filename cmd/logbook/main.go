// Command logbook serves a logbook and reads or writes its entries.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
)

const Version = "0.1.0"

const usage = `Logbook.

Settings are read from the config file (default: $LOGBOOK_CONFIG) and
LOGBOOK_* environment variables. Flags override both.

Usage:
    logbook serve [--config=<path>] [--addr=<addr>] [--data=<path>] [--seed=<category>...]
    logbook categories [--config=<path>] [--url=<url>]
    logbook list --user=<user> [--page=<n>] [--category=<category> | --uncategorized] [--config=<path>] [--url=<url>]
    logbook add --user=<user> --title=<title> [--text=<text>] [--category=<category>] [--config=<path>] [--url=<url>]
    logbook edit --user=<user> <id> [--title=<title>] [--text=<text>] [--category=<category> | --no-category] [--config=<path>] [--url=<url>]
    logbook rm --user=<user> <id> [--config=<path>] [--url=<url>]
    logbook -h | --help
    logbook --version

Options:
    -h --help               Show this screen.
    --version               Show version.
    --config=<path>         TOML config file.
    --addr=<addr>           Listen address of serve.
    --data=<path>           SQLite file of serve. Without it data is kept in memory.
    --seed=<category>       Category written to the configuration on start.
    --url=<url>             Websocket URL of the logbook server.
    --user=<user>           Id of the user to act as.
    --page=<n>              Page to list [default: 1].
    --category=<category>   Category of the entry, or category to list.
    --uncategorized         List entries without a category.
    --no-category           Remove the category of the entry.
    --title=<title>         Entry title.
    --text=<text>           Entry text.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts docopt.Opts, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	switch {
	case flag(opts, "serve"):
		return serve(ctx, cfg)
	case flag(opts, "categories"):
		return withLogbook(ctx, cfg, "", func(c *client) error { return c.categories(ctx, out) })
	case flag(opts, "list"):
		return withLogbook(ctx, cfg, str(opts, "--user"), func(c *client) error { return c.list(ctx, opts, out) })
	case flag(opts, "add"):
		return withLogbook(ctx, cfg, str(opts, "--user"), func(c *client) error { return c.add(ctx, opts, out) })
	case flag(opts, "edit"):
		return withLogbook(ctx, cfg, str(opts, "--user"), func(c *client) error { return c.edit(ctx, opts, out) })
	case flag(opts, "rm"):
		return withLogbook(ctx, cfg, str(opts, "--user"), func(c *client) error { return c.rm(ctx, opts, out) })
	}
	return fmt.Errorf("no command")
}

func flag(opts docopt.Opts, key string) bool {
	v, _ := opts.Bool(key)
	return v
}

// str returns the value of an optional string option, "" when unset.
func str(opts docopt.Opts, key string) string {
	v, _ := opts[key].(string)
	return v
}

// strPtr returns nil when the option is unset.
func strPtr(opts docopt.Opts, key string) *string {
	v, ok := opts[key].(string)
	if !ok {
		return nil
	}
	return &v
}
