package main

import (
	"log/slog"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/jmgilman/gitweb/cache"
	"github.com/jmgilman/gitweb/config"
	"github.com/jmgilman/gitweb/content"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/index"
	"github.com/jmgilman/gitweb/logging"
	"github.com/jmgilman/gitweb/scan"
	"github.com/jmgilman/gitweb/schedule"
	"github.com/jmgilman/gitweb/service"
	"github.com/jmgilman/gitweb/store"
)

// app holds the components every command shares.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	root   billy.Filesystem
	store  *store.Store
	opener git.Opener
}

// newApp loads the configuration and opens the store. Only commands that
// index need write access; the rest open the store read-only.
func newApp(configPath, level string, writable bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if level != "" {
		cfg.Log.Level = level
	}

	logger, err := logging.New(cfg.Log.Logging())
	if err != nil {
		return nil, err
	}

	opts := []store.Option{store.WithLogger(logger)}
	if !writable {
		opts = append(opts, store.WithReadOnly())
	}
	st, err := store.Open(cfg.DBPath, opts...)
	if err != nil {
		return nil, err
	}
	if st.Rebuilt() {
		logger.Warn("metadata store was rebuilt", "path", cfg.DBPath)
	}

	root := osfs.New(cfg.ScanRoot)
	return &app{
		cfg:    cfg,
		logger: logger,
		root:   root,
		store:  st,
		opener: git.NewOpener(root),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) scheduler(opts ...schedule.Option) *schedule.Scheduler {
	scanner := scan.New(a.root, scan.WithLogger(a.logger))
	indexer := index.New(a.store, a.opener, a.root, index.WithLogger(a.logger))

	opts = append([]schedule.Option{
		schedule.WithInterval(a.cfg.Interval.Std()),
		schedule.WithWorkers(a.cfg.Workers),
		schedule.WithLogger(a.logger),
	}, opts...)
	return schedule.New(scanner, a.store, indexer, opts...)
}

func (a *app) service() *service.Service {
	loader := content.New(a.opener,
		content.WithConcurrency(a.cfg.Content.IOConcurrency),
		content.WithLogger(a.logger),
	)
	c := cache.New(a.cfg.Cache.MaxBytes, a.cfg.Cache.MaxEntries, cache.WithLogger(a.logger))
	return service.New(a.store, loader, c,
		service.WithLogger(a.logger),
		service.WithMaxRenderBytes(a.cfg.Content.MaxRenderBytes),
	)
}

// repoArg maps a command line repository path to its logical form. The scan
// root itself is written ".".
func repoArg(arg string) string {
	p := path.Clean("/" + strings.TrimSpace(arg))
	return strings.TrimPrefix(p, "/")
}
