// Package content reads blobs, trees and diffs straight from git at request
// time. Nothing is cached here; callers that want reuse put the results
// behind the render cache.
package content

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/logging"
)

// Defaults for Loader options.
const (
	DefaultConcurrency  = 16
	DefaultMaxDiffBytes = 1 << 20
)

// Loader serves content requests against repositories opened through a
// git.Opener. Object reads are admitted through a weighted semaphore so a
// burst of requests cannot pile unbounded blocking I/O onto the process.
type Loader struct {
	opener       git.Opener
	sem          *semaphore.Weighted
	logger       *slog.Logger
	maxDiffBytes int64
}

// Option configures a Loader.
type Option func(*Loader)

// WithConcurrency bounds the number of requests reading objects at once.
func WithConcurrency(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithLogger sets the logger used for corruption reports.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logging.OrNop(logger)
	}
}

// WithMaxDiffBytes sets the largest blob a line diff is computed for. Larger
// files are reported as changed without hunks.
func WithMaxDiffBytes(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxDiffBytes = n
		}
	}
}

// New returns a Loader reading through opener.
func New(opener git.Opener, opts ...Option) *Loader {
	l := &Loader{
		opener:       opener,
		sem:          semaphore.NewWeighted(DefaultConcurrency),
		logger:       logging.Nop(),
		maxDiffBytes: DefaultMaxDiffBytes,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// do runs fn against the opened repository on its own goroutine once the
// semaphore admits it. A cancelled caller returns immediately; fn sees the
// same context and stops at its next check.
func (l *Loader) do(ctx context.Context, repoPath string, fn func(context.Context, git.Repository) error) error {
	err := l.admit(ctx, func(ctx context.Context) error {
		repo, err := l.opener.Open(ctx, repoPath)
		if err != nil {
			return err
		}
		return fn(ctx, repo)
	})
	return l.report(repoPath, err)
}

// admit runs fn on its own goroutine while holding a semaphore slot.
func (l *Loader) admit(ctx context.Context, fn func(context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer l.sem.Release(1)
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// report logs integrity failures. They are request scoped: the error goes
// back to the caller and nothing else is affected.
func (l *Loader) report(repoPath string, err error) error {
	if err != nil && errors.IsCorrupt(err) {
		l.logger.Error("repository object is corrupt",
			slog.String("repository", repoPath),
			slog.String("error", err.Error()))
	}
	return err
}

// cleanPath normalizes a request path to slash separated form without
// leading or trailing slashes. The root is "".
func cleanPath(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

// rootTree returns the tree of commit.
func rootTree(ctx context.Context, repo git.Repository, commit git.Hash) (*git.Tree, error) {
	c, err := repo.ReadCommit(ctx, commit)
	if err != nil {
		return nil, err
	}
	return repo.ReadTree(ctx, c.Tree)
}

// lookup finds the entry at p below the tree of commit. The root itself is
// returned as a directory entry.
func lookup(ctx context.Context, repo git.Repository, commit git.Hash, p string) (git.TreeEntry, error) {
	tree, err := rootTree(ctx, repo, commit)
	if err != nil {
		return git.TreeEntry{}, err
	}
	entry := git.TreeEntry{Mode: git.ModeDir, ID: tree.ID}
	if p == "" {
		return entry, nil
	}

	parts := strings.Split(p, "/")
	for i, name := range parts {
		found := false
		for _, e := range tree.Entries {
			if e.Name == name {
				entry, found = e, true
				break
			}
		}
		if !found {
			return git.TreeEntry{}, notFound(p)
		}
		if i == len(parts)-1 {
			break
		}
		if !entry.Mode.IsDir() {
			return git.TreeEntry{}, notFound(p)
		}
		if tree, err = repo.ReadTree(ctx, entry.ID); err != nil {
			return git.TreeEntry{}, err
		}
	}
	return entry, nil
}

func notFound(p string) error {
	return errors.WithContext(errors.New(errors.CodeNotFound, "path not found"), "path", p)
}

// Commit reads a commit object. It serves commits the index does not hold,
// e.g. ones only reachable from a tag.
func (l *Loader) Commit(ctx context.Context, repoPath string, id git.Hash) (*git.Commit, error) {
	var out *git.Commit
	err := l.do(ctx, repoPath, func(ctx context.Context, repo git.Repository) error {
		var err error
		out, err = repo.ReadCommit(ctx, id)
		return err
	})
	return out, err
}
