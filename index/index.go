// Package index keeps the metadata store in step with one repository's refs.
//
// Indexing is planned against a read snapshot of the store, with every git
// read happening outside any write transaction, and then applied as a single
// batch. A repository whose refs and metadata did not move costs one read
// transaction and no write.
package index

import (
	"bytes"
	"context"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	gitconfig "github.com/go-git/go-git/v5/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/logging"
	"github.com/jmgilman/gitweb/store"
)

const tracerName = "github.com/jmgilman/gitweb/index"

// defaultDescription is what git init writes into description.
const defaultDescription = "Unnamed repository;"

// errConflict aborts a batch whose refs moved after it was planned.
var errConflict = stderrors.New("refs changed while indexing")

// Stats describes one Index call.
type Stats struct {
	Path string
	// Generation is the repository generation after the call.
	Generation uint64
	// Changed reports whether a batch was written.
	Changed bool
	// CommitsWritten counts newly stored commit bodies.
	CommitsWritten  int
	BranchesUpdated int
	// LogsRebuilt counts branches whose log was dropped and rebuilt because
	// the new tip does not descend from the old one.
	LogsRebuilt int
	TagsUpdated int
	RefsRemoved int
	Duration    time.Duration
}

// Indexer indexes repositories into a store. It holds no per-repository
// state and is safe for concurrent use on different repositories.
type Indexer struct {
	store  *store.Store
	opener git.Opener
	fs     billy.Filesystem
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = logging.OrNop(logger) }
}

// WithTracer sets the tracer. The global provider is used otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(ix *Indexer) { ix.tracer = tracer }
}

// New returns an Indexer. root is the filesystem repository paths are
// relative to; it is used for the description and config files.
func New(s *store.Store, opener git.Opener, root billy.Filesystem, opts ...Option) *Indexer {
	ix := &Indexer{
		store:  s,
		opener: opener,
		fs:     root,
		logger: logging.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index brings the stored state of the repository at repoPath up to date.
//
// Any failure leaves the previously stored state untouched and is returned
// as CodeTransient, with the underlying cause in the chain.
func (ix *Indexer) Index(ctx context.Context, repoPath string) (Stats, error) {
	start := time.Now()
	ctx, span := ix.tracer.Start(ctx, "gitweb.index",
		trace.WithAttributes(attribute.String("gitweb.repository", repoPath)))
	defer span.End()

	stats, err := ix.index(ctx, repoPath)
	stats.Path = repoPath
	stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int64("gitweb.generation", int64(stats.Generation)),
		attribute.Bool("gitweb.changed", stats.Changed),
		attribute.Int("gitweb.commits_written", stats.CommitsWritten),
		attribute.Int("gitweb.logs_rebuilt", stats.LogsRebuilt),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index failed")
		return stats, errors.WrapWithContext(err, errors.CodeTransient, "index repository",
			map[string]any{"repository": repoPath})
	}

	ix.logger.Debug("indexed repository",
		"repository", repoPath,
		"generation", stats.Generation,
		"changed", stats.Changed,
		"commits_written", stats.CommitsWritten,
		"duration", stats.Duration)
	return stats, nil
}

func (ix *Indexer) index(ctx context.Context, repoPath string) (Stats, error) {
	repo, err := ix.opener.Open(ctx, repoPath)
	if err != nil {
		return Stats{}, err
	}

	info, err := ix.readInfo(repoPath)
	if err != nil {
		return Stats{}, err
	}
	head, err := repo.Head(ctx)
	if err != nil {
		return Stats{}, err
	}
	refs, err := repo.References(ctx)
	if err != nil {
		return Stats{}, err
	}
	info.DefaultBranch = defaultBranch(head, refs)

	var p *plan
	err = ix.store.Read(ctx, repoPath, func(v *store.View) error {
		var err error
		p, err = newPlanner(repo, v, ix.logger).build(ctx, refs)
		return err
	})
	if err != nil {
		return Stats{}, err
	}
	info.LastModified = p.lastModified

	if p.empty() && p.prev.Indexed() && sameInfo(p.prev, info) {
		return Stats{Generation: p.prev.Generation}, nil
	}

	repoRecord, written, err := ix.store.Update(ctx, repoPath, func(b *store.Batch) error {
		b.SetInfo(info)
		return p.apply(b)
	})
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Generation:      repoRecord.Generation,
		Changed:         repoRecord.Generation != p.prev.Generation,
		CommitsWritten:  written,
		BranchesUpdated: len(p.branches),
		LogsRebuilt:     p.rebuilt(),
		TagsUpdated:     len(p.tags),
		RefsRemoved:     len(p.removed),
	}, nil
}

// readInfo reads the description file and gitweb.owner from config. Missing
// files mean empty values.
func (ix *Indexer) readInfo(repoPath string) (store.Info, error) {
	var info store.Info

	raw, err := util.ReadFile(ix.fs, path.Join(repoPath, "description"))
	switch {
	case err == nil:
		description := strings.TrimSpace(string(raw))
		if !strings.HasPrefix(description, defaultDescription) {
			info.Description = description
		}
	case !stderrors.Is(err, fs.ErrNotExist):
		return info, err
	}

	raw, err = util.ReadFile(ix.fs, path.Join(repoPath, "config"))
	switch {
	case err == nil:
		cfg, err := gitconfig.ReadConfig(bytes.NewReader(raw))
		if err != nil {
			ix.logger.Warn("ignoring unreadable repository config", "repository", repoPath, "error", err)
			break
		}
		info.Owner = strings.TrimSpace(cfg.Raw.Section("gitweb").Option("owner"))
	case !stderrors.Is(err, fs.ErrNotExist):
		return info, err
	}

	return info, nil
}

// defaultBranch picks the branch HEAD points at, falling back to master,
// then main, then the first branch by name.
func defaultBranch(head string, refs []git.Ref) string {
	branches := make(map[string]bool)
	first := ""
	for _, r := range refs {
		if r.Kind != git.RefBranch {
			continue
		}
		branches[r.ShortName()] = true
		if first == "" {
			first = r.ShortName()
		}
	}

	if name, ok := strings.CutPrefix(head, git.BranchPrefix); ok && branches[name] {
		return name
	}
	for _, name := range []string{"master", "main"} {
		if branches[name] {
			return name
		}
	}
	return first
}

func sameInfo(r store.Repository, info store.Info) bool {
	return r.Description == info.Description &&
		r.Owner == info.Owner &&
		r.DefaultBranch == info.DefaultBranch &&
		(info.LastModified.IsZero() || r.LastModified.Unix() == info.LastModified.Unix())
}
