package main

import (
	"os"

	"github.com/docopt/docopt-go"

	"github.com/logbookhq/logbook/pkg/config"
	"github.com/logbookhq/logbook/pkg/logger"
)

func loadConfig(opts docopt.Opts) (config.Config, error) {
	path := str(opts, "--config")
	if path == "" {
		path = os.Getenv("LOGBOOK_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if v := str(opts, "--addr"); v != "" {
		cfg.Addr = v
	}
	if v := str(opts, "--url"); v != "" {
		cfg.URL = v
	}
	if v := str(opts, "--data"); v != "" {
		cfg.DataPath = v
	}
	if seeds, ok := opts["--seed"].([]string); ok && len(seeds) > 0 {
		cfg.Categories = seeds
	}
	return cfg, cfg.Validate()
}

// newLogger logs to cfg.LogFile, or to stderr.
func newLogger(cfg config.Config) (*logger.ZerologHandler, error) {
	build := logger.NewBuild().Level(cfg.LogLevel)
	if cfg.LogFile != "" {
		build = build.FromPath(cfg.LogFile)
	} else {
		build = build.FromWriter(os.Stderr)
	}
	return build.Make()
}
