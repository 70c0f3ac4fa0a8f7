package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alfredjeanlab/kgate/internal/audit"
	"github.com/alfredjeanlab/kgate/internal/checker"
	"github.com/alfredjeanlab/kgate/internal/claims"
	"github.com/alfredjeanlab/kgate/internal/config"
	"github.com/alfredjeanlab/kgate/internal/depgraph"
	"github.com/alfredjeanlab/kgate/internal/events"
	"github.com/alfredjeanlab/kgate/internal/guard"
	"github.com/alfredjeanlab/kgate/internal/lifecycle"
	"github.com/alfredjeanlab/kgate/internal/registry"
	"github.com/alfredjeanlab/kgate/internal/store/filestore"
)

// app is every component of one CLI invocation, wired over the data dir.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	repoRoot string
	store    *filestore.FileStore
	pub      events.Publisher
	audit    *audit.Log
	reg      *registry.Registry
	graph    *depgraph.Graph
	claims   *claims.Manager
	machine  *lifecycle.Machine
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	s, err := filestore.Open(cfg.Dir, filestore.Options{LockTimeout: cfg.LockTimeout, Logger: logger})
	if err != nil {
		return nil, err
	}

	pub, err := events.NewPublisher(cfg.NATSURL)
	if err != nil {
		logger.Warn("NATS unavailable, events are local only", "url", cfg.NATSURL, "err", err)
		pub = &events.NoopPublisher{}
	}
	log := audit.New(s, pub, logger)

	reg, err := registry.Load(ctx, s, log, logger)
	if err != nil {
		s.Close()
		pub.Close()
		return nil, err
	}

	g, err := guard.New(filepath.Join(s.LocksDir(), "runs"))
	if err != nil {
		s.Close()
		pub.Close()
		return nil, err
	}

	repoRoot := filepath.Dir(s.Dir())
	exec := checker.New(s, g, checker.Options{
		RepoRoot:       repoRoot,
		RunnerID:       cfg.RunnerID,
		DefaultTimeout: cfg.CheckerDefaultTimeout,
		MaxTimeout:     cfg.CheckerMaxTimeout,
		Logger:         logger,
	})
	graph := depgraph.New(s, log, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		repoRoot: repoRoot,
		store:    s,
		pub:      pub,
		audit:    log,
		reg:      reg,
		graph:    graph,
		claims:   claims.New(s, log, logger),
		machine: lifecycle.New(lifecycle.Options{
			Store:    s,
			Registry: reg,
			Executor: exec,
			Graph:    graph,
			Recorder: log,
			Logger:   logger,
			RepoRoot: repoRoot,
			RunnerID: cfg.RunnerID,
		}),
	}, nil
}

func (a *app) Close() {
	if err := a.pub.Close(); err != nil {
		a.logger.Warn("closing event publisher", "err", err)
	}
	a.store.Close()
}
