package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logbookhq/logbook/pkg/config"
	"github.com/logbookhq/logbook/pkg/db"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/server"
	"github.com/logbookhq/logbook/pkg/source/memory"
	"github.com/logbookhq/logbook/pkg/source/sqlite"
)

const shutdownTimeout = 5 * time.Second

// serve runs the server until ctx is done or serving fails.
func serve(ctx context.Context, cfg config.Config) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	src, closeSource, err := openSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSource()

	if len(cfg.Categories) > 0 {
		if err := db.Seed(ctx, src, cfg.Categories); err != nil {
			return err
		}
		log.Info("seeded categories", "categories", cfg.Categories)
	}

	srv := server.New(src, server.WithLogger(log))
	if err := srv.Listen(cfg.Addr); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(stopCtx)
	})
	return g.Wait()
}

func openSource(ctx context.Context, cfg config.Config, log logger.Logger) (*memory.Source, func(), error) {
	if cfg.DataPath == "" {
		src := memory.New(memory.WithLogger(log))
		return src, func() { _ = src.Close() }, nil
	}

	store, err := sqlite.Open(ctx, cfg.DataPath)
	if err != nil {
		return nil, nil, err
	}
	src, err := memory.Open(ctx, store, memory.WithLogger(log))
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	log.Info("opened data file", "path", cfg.DataPath)
	return src, func() {
		_ = src.Close()
		if err := store.Close(); err != nil {
			log.Error("close data file", "error", err)
		}
	}, nil
}
