// Package schedule drives periodic discovery and indexing.
//
// A Scheduler owns its timer, a bounded worker pool and the set of
// repositories currently being indexed. Each cycle rescans the root,
// records added and removed repositories, then indexes every known
// repository. A repository still being indexed by an earlier cycle is
// skipped. With a zero interval a single cycle runs at Start.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/index"
	"github.com/jmgilman/gitweb/logging"
	"github.com/jmgilman/gitweb/scan"
	"github.com/jmgilman/gitweb/store"
)

const tracerName = "github.com/jmgilman/gitweb/schedule"

// DefaultWorkers is used when no worker count is configured.
const DefaultWorkers = 4

// Discoverer finds repositories. *scan.Scanner implements it.
type Discoverer interface {
	Refresh(ctx context.Context) (scan.Result, scan.Diff, error)
	Seed(paths []string)
}

// Catalog records which repositories exist. *store.Store implements it.
type Catalog interface {
	Paths(ctx context.Context) ([]string, error)
	AddRepository(ctx context.Context, path string) (store.Repository, bool, error)
	RemoveRepository(ctx context.Context, path string) error
}

// Indexer indexes one repository. *index.Indexer implements it.
type Indexer interface {
	Index(ctx context.Context, path string) (index.Stats, error)
}

// RepositoryWatcher is told which repositories exist so it can watch them.
type RepositoryWatcher interface {
	Watch(path string) error
	Unwatch(path string)
}

// CycleStats summarizes one cycle.
type CycleStats struct {
	ID       string
	Found    int
	Added    int
	Removed  int
	Indexed  int
	Changed  int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Scheduler runs index cycles.
type Scheduler struct {
	discoverer Discoverer
	catalog    Catalog
	indexer    Indexer
	watcher    RepositoryWatcher

	interval time.Duration
	workers  int
	logger   *slog.Logger
	tracer   trace.Tracer

	mu         sync.Mutex
	inProgress map[string]struct{}

	trigger chan struct{}
	seeded  atomic.Bool
	cycles  atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between cycles. Zero disables periodic cycles.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.interval = d
		}
	}
}

// WithWorkers bounds how many repositories a cycle indexes at once.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.OrNop(logger) }
}

// WithWatcher keeps w informed of the repositories discovered by each cycle.
func WithWatcher(w RepositoryWatcher) Option {
	return func(s *Scheduler) { s.watcher = w }
}

// WithTracer sets the tracer. The global provider is used otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = tracer }
}

// New returns a Scheduler.
func New(d Discoverer, c Catalog, ix Indexer, opts ...Option) *Scheduler {
	s := &Scheduler{
		discoverer: d,
		catalog:    c,
		indexer:    ix,
		workers:    DefaultWorkers,
		logger:     logging.Nop(),
		tracer:     otel.Tracer(tracerName),
		inProgress: make(map[string]struct{}),
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a cycle immediately and then one per interval until the
// returned stop function is called. With a zero interval only the first
// cycle runs.
//
// The stop function cancels any running cycle and blocks until all of them
// have returned. It is safe to call more than once.
//
//	stop := scheduler.Start(ctx)
//	defer stop()
func (s *Scheduler) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	run := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RunCycle(ctx)
		}()
	}

	run()
	if s.interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					run()
				case <-s.trigger:
					run()
				}
			}
		}()
	} else {
		s.logger.Info("periodic indexing disabled, ran a single cycle")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

// Trigger requests a cycle before the next tick. Requests made before the
// scheduler picks one up collapse into one. It has no effect when periodic
// indexing is disabled.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Cycles returns how many cycles have completed.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

// RunCycle runs one discovery and indexing cycle. Per-repository failures
// are logged and counted, never returned; only a failed scan or catalog
// update fails the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleStats, error) {
	stats := CycleStats{ID: uuid.NewString()}
	start := time.Now()
	logger := s.logger.With("cycle", stats.ID)

	ctx, span := s.tracer.Start(ctx, "gitweb.cycle",
		trace.WithAttributes(attribute.String("gitweb.cycle_id", stats.ID)))
	defer span.End()

	err := s.cycle(ctx, logger, &stats)
	stats.Duration = time.Since(start)
	s.cycles.Add(1)

	span.SetAttributes(
		attribute.Int("gitweb.found", stats.Found),
		attribute.Int("gitweb.indexed", stats.Indexed),
		attribute.Int("gitweb.failed", stats.Failed),
		attribute.Int("gitweb.skipped", stats.Skipped),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle failed")
		logger.Error("index cycle failed", "error", err, "duration", stats.Duration)
		return stats, err
	}

	logger.Info("index cycle completed",
		"found", stats.Found,
		"added", stats.Added,
		"removed", stats.Removed,
		"changed", stats.Changed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", stats.Duration)
	return stats, nil
}

func (s *Scheduler) cycle(ctx context.Context, logger *slog.Logger, stats *CycleStats) error {
	if s.seeded.CompareAndSwap(false, true) {
		known, err := s.catalog.Paths(ctx)
		if err != nil {
			s.seeded.Store(false)
			return errors.Wrap(err, errors.CodeTransient, "list known repositories")
		}
		s.discoverer.Seed(known)
	}

	result, diff, err := s.discoverer.Refresh(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeTransient, "scan repositories")
	}
	stats.Found = len(result.Paths)

	for _, p := range diff.Removed {
		if err := s.catalog.RemoveRepository(ctx, p); err != nil {
			return errors.WrapWithContext(err, errors.CodeTransient, "remove repository",
				map[string]any{"repository": p})
		}
		if s.watcher != nil {
			s.watcher.Unwatch(p)
		}
		logger.Info("repository removed", "repository", p)
		stats.Removed++
	}
	for _, p := range diff.Added {
		if _, _, err := s.catalog.AddRepository(ctx, p); err != nil {
			return errors.WrapWithContext(err, errors.CodeTransient, "add repository",
				map[string]any{"repository": p})
		}
		logger.Info("repository discovered", "repository", p)
		stats.Added++
	}
	if s.watcher != nil {
		for _, p := range result.Paths {
			if err := s.watcher.Watch(p); err != nil {
				logger.Warn("cannot watch repository", "repository", p, "error", err)
			}
		}
	}

	var (
		g       errgroup.Group
		counter sync.Mutex
	)
	g.SetLimit(s.workers)
	for _, p := range result.Paths {
		if ctx.Err() != nil {
			break
		}
		if !s.acquire(p) {
			logger.Debug("repository still indexing, skipped", "repository", p)
			counter.Lock()
			stats.Skipped++
			counter.Unlock()
			continue
		}

		g.Go(func() error {
			defer s.release(p)

			indexed, err := s.indexer.Index(ctx, p)

			counter.Lock()
			defer counter.Unlock()
			if err != nil {
				stats.Failed++
				logger.Warn("index failed, will retry next cycle",
					"repository", p,
					"code", errors.GetCode(err),
					"error", err)
				return nil
			}
			stats.Indexed++
			if indexed.Changed {
				stats.Changed++
			}
			return nil
		})
	}
	_ = g.Wait()

	return ctx.Err()
}

// acquire marks path in progress. It returns false if it already was.
func (s *Scheduler) acquire(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inProgress[path]; busy {
		return false
	}
	s.inProgress[path] = struct{}{}
	return true
}

func (s *Scheduler) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inProgress, path)
}

// InProgress reports whether path is being indexed.
func (s *Scheduler) InProgress(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inProgress[path]
	return busy
}
