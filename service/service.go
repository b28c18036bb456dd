// Package service is the read API the serving layer calls. Listings come
// from the metadata store; file content comes from the content loader,
// with expensive renderings memoized in the render cache.
package service

import (
	"context"
	"io"
	"log/slog"
	"path"
	"sort"

	"github.com/jmgilman/gitweb/cache"
	"github.com/jmgilman/gitweb/content"
	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/logging"
	"github.com/jmgilman/gitweb/render"
	"github.com/jmgilman/gitweb/store"
)

// MaxPageSize caps every paginated listing.
const MaxPageSize = 100

// DefaultMaxRenderBytes bounds the blobs GetHighlighted renders.
const DefaultMaxRenderBytes = 1 << 20

// Page is one page of a listing. Next is empty on the last page.
type Page[T any] struct {
	Items []T
	Next  string
}

// Refs are a repository's branches, by name, and tags, newest first.
type Refs struct {
	Branches []store.Ref
	Tags     []store.Ref
}

// Service answers read requests.
type Service struct {
	store          *store.Store
	loader         *content.Loader
	cache          *cache.Cache
	logger         *slog.Logger
	maxRenderBytes int64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logging.OrNop(logger)
	}
}

// WithMaxRenderBytes bounds the size of blobs that are highlighted.
func WithMaxRenderBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRenderBytes = n
		}
	}
}

// New returns a Service over the given store, loader and cache.
func New(st *store.Store, loader *content.Loader, c *cache.Cache, opts ...Option) *Service {
	s := &Service{
		store:          st,
		loader:         loader,
		cache:          c,
		logger:         logging.Nop(),
		maxRenderBytes: DefaultMaxRenderBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func pageSize(n int) int {
	if n <= 0 || n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// ListRepositories returns repositories ordered by path, including ones that
// are not indexed yet.
func (s *Service) ListRepositories(ctx context.Context, cursor string, limit int) (Page[store.Repository], error) {
	repos, next, err := s.store.ListRepositories(ctx, cursor, pageSize(limit))
	if err != nil {
		return Page[store.Repository]{}, err
	}
	return Page[store.Repository]{Items: repos, Next: next}, nil
}

// GetRepository returns the repository at repoPath. It is NotFound when
// unknown and Unavailable when discovered but not indexed yet.
func (s *Service) GetRepository(ctx context.Context, repoPath string) (store.Repository, error) {
	repo, err := s.store.GetRepository(ctx, repoPath)
	if err != nil {
		return store.Repository{}, err
	}
	if !repo.Indexed() {
		return store.Repository{}, errors.WithContext(
			errors.New(errors.CodeUnavailable, "repository is being indexed"),
			"repository", repoPath)
	}
	return repo, nil
}

// ListRefs returns the repository's branches and tags.
func (s *Service) ListRefs(ctx context.Context, repoPath string) (Refs, error) {
	if _, err := s.GetRepository(ctx, repoPath); err != nil {
		return Refs{}, err
	}
	branches, tags, err := s.store.ListRefs(ctx, repoPath)
	if err != nil {
		return Refs{}, err
	}
	return Refs{Branches: branches, Tags: tags}, nil
}

// ListCommits returns a page of ref's history, newest first. ref may be a
// branch, a tag, a full commit id, or empty for the default branch.
// Branches are served from their stored log. Anything else is walked from
// its commit over stored bodies, reading from git only what the index
// lacks.
func (s *Service) ListCommits(ctx context.Context, repoPath, ref, cursor string, limit int) (Page[store.Commit], error) {
	repo, err := s.GetRepository(ctx, repoPath)
	if err != nil {
		return Page[store.Commit]{}, err
	}
	if ref == "" {
		ref = repo.DefaultBranch
	}
	if ref == "" {
		return Page[store.Commit]{}, errors.New(errors.CodeNotFound, "repository has no branches")
	}

	after, err := store.ParseCursor(cursor)
	if err != nil {
		return Page[store.Commit]{}, err
	}
	limit = pageSize(limit)

	var (
		commits []store.Commit
		next    store.Cursor
	)
	tip, branch, err := s.logRef(ctx, repo, ref)
	switch {
	case err != nil:
		return Page[store.Commit]{}, err
	case branch:
		commits, next, err = s.store.ListCommits(ctx, repo.Path, ref, after, limit)
	default:
		commits, next, err = s.history(ctx, repo, tip, after, limit)
	}
	if err != nil {
		return Page[store.Commit]{}, err
	}
	return Page[store.Commit]{Items: commits, Next: next.String()}, nil
}

// logRef finds what ListCommits should list: a branch with a stored log, or
// the commit a tag or id names.
func (s *Service) logRef(ctx context.Context, repo store.Repository, ref string) (git.Hash, bool, error) {
	if id, ok := git.ParseHash(ref); ok {
		return id, false, nil
	}
	b, err := s.store.GetRef(ctx, repo.Path, git.RefBranch, ref)
	if err == nil {
		return b.Commit, true, nil
	}
	if !errors.IsNotFound(err) {
		return git.Hash{}, false, err
	}

	tag, err := s.store.GetRef(ctx, repo.Path, git.RefTag, ref)
	if errors.IsNotFound(err) {
		return git.Hash{}, false, errors.WithContext(
			errors.New(errors.CodeNotFound, "unknown ref"), "ref", ref)
	}
	if err != nil {
		return git.Hash{}, false, err
	}
	if tag.Commit.IsZero() {
		return git.Hash{}, false, errors.WithContext(
			errors.New(errors.CodeNotFound, "ref does not point at a commit"), "ref", ref)
	}
	return tag.Commit, false, nil
}

// history collects every commit reachable from tip and returns the page
// after cursor in log order. The history of a fixed commit never changes,
// so pages stay stable.
func (s *Service) history(ctx context.Context, repo store.Repository, tip git.Hash, after store.Cursor, limit int) ([]store.Commit, store.Cursor, error) {
	found := make(map[git.Hash]store.Commit)
	pending := []git.Hash{tip}
	for len(pending) > 0 {
		var missing []git.Hash
		err := s.store.Read(ctx, repo.Path, func(v *store.View) error {
			for len(pending) > 0 {
				id := pending[len(pending)-1]
				pending = pending[:len(pending)-1]
				if _, ok := found[id]; ok {
					continue
				}
				view, ok, err := v.CommitView(id)
				if err != nil {
					return err
				}
				if !ok {
					missing = append(missing, id)
					continue
				}
				c, err := view.Decode()
				if err != nil {
					return err
				}
				found[id] = c
				pending = append(pending, c.Parents...)
			}
			return nil
		})
		if err != nil {
			return nil, store.Cursor{}, err
		}

		for _, id := range missing {
			if _, ok := found[id]; ok {
				continue
			}
			gc, err := s.loader.Commit(ctx, repo.Path, id)
			if err != nil {
				return nil, store.Cursor{}, err
			}
			c := store.FromGit(gc)
			found[id] = c
			pending = append(pending, c.Parents...)
		}
	}

	all := make([]store.Commit, 0, len(found))
	for _, c := range found {
		if after.IsZero() || after.Before(store.CursorAt(c)) {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return store.CursorAt(all[i]).Before(store.CursorAt(all[j]))
	})

	if len(all) <= limit {
		return all, store.Cursor{}, nil
	}
	page := all[:limit]
	return page, store.CursorAt(page[len(page)-1]), nil
}

// GetCommit returns the commit rev resolves to. Commits outside every
// branch log are read from git.
func (s *Service) GetCommit(ctx context.Context, repoPath, rev string) (store.Commit, error) {
	repo, id, err := s.resolve(ctx, repoPath, rev)
	if err != nil {
		return store.Commit{}, err
	}

	commit, err := s.store.GetCommit(ctx, repo.Path, id)
	if err == nil || !errors.IsNotFound(err) {
		return commit, err
	}
	c, err := s.loader.Commit(ctx, repo.Path, id)
	if err != nil {
		return store.Commit{}, err
	}
	return store.FromGit(c), nil
}

// GetTree lists the directory at p.
func (s *Service) GetTree(ctx context.Context, repoPath, rev, p string) ([]content.TreeEntry, error) {
	repo, id, err := s.resolve(ctx, repoPath, rev)
	if err != nil {
		return nil, err
	}
	return s.loader.Tree(ctx, repo.Path, id, p)
}

// GetBlob returns the file at p. Binary files are returned with Binary set.
func (s *Service) GetBlob(ctx context.Context, repoPath, rev, p string) (*content.Blob, error) {
	repo, id, err := s.resolve(ctx, repoPath, rev)
	if err != nil {
		return nil, err
	}
	return s.loader.Blob(ctx, repo.Path, id, p)
}

// GetDiff returns the rendered diff of the commit rev resolves to.
func (s *Service) GetDiff(ctx context.Context, repoPath, rev string) ([]byte, error) {
	repo, id, err := s.resolve(ctx, repoPath, rev)
	if err != nil {
		return nil, err
	}

	key := cache.Key(id.String(), cache.KindDiff, render.DiffVersion)
	return s.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		d, err := s.loader.Diff(ctx, repo.Path, id)
		if err != nil {
			return nil, err
		}
		return render.DiffText(d), nil
	})
}

// GetReadme returns the rendered readme at the root of rev. It is NotFound
// when there is none. The absence is cached like any other result.
func (s *Service) GetReadme(ctx context.Context, repoPath, rev string) ([]byte, error) {
	repo, id, err := s.resolve(ctx, repoPath, rev)
	if err != nil {
		return nil, err
	}

	key := cache.Key(id.String(), cache.KindReadme, render.ReadmeVersion)
	html, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		readme, err := s.loader.Readme(ctx, repo.Path, id)
		if errors.IsNotFound(err) {
			return []byte{}, nil
		}
		if err != nil {
			return nil, err
		}
		return render.Readme(readme)
	})
	if err != nil {
		return nil, err
	}
	if len(html) == 0 {
		return nil, errors.WithContext(errors.New(errors.CodeNotFound, "no readme"), "repository", repoPath)
	}
	return html, nil
}

// GetHighlighted returns the syntax highlighted HTML of the file at p.
// Binary files and files over the render limit are InvalidInput.
func (s *Service) GetHighlighted(ctx context.Context, repoPath, rev, p string) ([]byte, error) {
	blob, err := s.GetBlob(ctx, repoPath, rev, p)
	if err != nil {
		return nil, err
	}
	if blob.Binary {
		return nil, errors.WithContext(errors.New(errors.CodeInvalidInput, "binary file"), "path", blob.Path)
	}

	// The lexer depends on the file name, so it is part of the key.
	name := path.Base(blob.Path)
	key := cache.Key(blob.ID.String()+"\x00"+name, cache.KindHighlight, render.HighlightVersion)
	return s.cache.GetOrCompute(ctx, key, func(context.Context) ([]byte, error) {
		src, err := s.loader.Read(ctx, blob, s.maxRenderBytes)
		if err != nil {
			return nil, err
		}
		return render.Highlight(name, src)
	})
}

// Snapshot streams a tar.gz of rev's tree to w, rooted at a directory named
// after the repository.
func (s *Service) Snapshot(ctx context.Context, repoPath, rev string, w io.Writer) error {
	repo, id, err := s.resolve(ctx, repoPath, rev)
	if err != nil {
		return err
	}
	return s.loader.Snapshot(ctx, repo.Path, id, repo.Name, w)
}

// resolve turns rev into a commit id. rev may be a full hex id, a branch, a
// tag, or empty for the default branch. Branches win over tags of the same
// name.
func (s *Service) resolve(ctx context.Context, repoPath, rev string) (store.Repository, git.Hash, error) {
	repo, err := s.GetRepository(ctx, repoPath)
	if err != nil {
		return store.Repository{}, git.Hash{}, err
	}

	if id, ok := git.ParseHash(rev); ok {
		return repo, id, nil
	}
	if rev == "" {
		rev = repo.DefaultBranch
	}

	for _, kind := range []git.RefKind{git.RefBranch, git.RefTag} {
		ref, err := s.store.GetRef(ctx, repoPath, kind, rev)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return store.Repository{}, git.Hash{}, err
		}
		if ref.Commit.IsZero() {
			return store.Repository{}, git.Hash{}, errors.WithContext(
				errors.New(errors.CodeNotFound, "ref does not point at a commit"), "ref", rev)
		}
		return repo, ref.Commit, nil
	}
	return store.Repository{}, git.Hash{}, errors.WithContext(
		errors.New(errors.CodeNotFound, "unknown revision"), "revision", rev)
}
