// Package scan discovers bare repositories below a root directory.
//
// A directory holding both HEAD and objects is a repository and is never
// descended into. Symlinked directories are followed; every directory is
// identified by its resolved path so a symlink cycle is walked at most once.
package scan

import (
	"context"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/logging"
)

// DefaultMaxDepth bounds how many directories deep a walk goes.
const DefaultMaxDepth = 32

// maxLinkHops bounds symlink resolution of a single path.
const maxLinkHops = 40

// Result is the outcome of one scan.
type Result struct {
	// Paths are repository paths relative to the root, slash separated and
	// sorted.
	Paths []string
	// Skipped counts directories that could not be read.
	Skipped int
}

// Diff is the change between two scans.
type Diff struct {
	Added   []string
	Removed []string
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Scanner walks a filesystem for repositories. It remembers the previous
// result so callers can act on what changed.
type Scanner struct {
	fs       billy.Filesystem
	logger   *slog.Logger
	maxDepth int

	mu   sync.Mutex
	prev []string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logging.OrNop(logger) }
}

// WithMaxDepth bounds the walk depth.
func WithMaxDepth(depth int) Option {
	return func(s *Scanner) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// New returns a Scanner over root.
func New(root billy.Filesystem, opts ...Option) *Scanner {
	s := &Scanner{
		fs:       root,
		logger:   logging.Nop(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan walks the root and returns every repository found. Unreadable
// directories are logged and skipped; only cancellation fails a scan.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	w := &walker{
		fs:      s.fs,
		logger:  s.logger,
		max:     s.maxDepth,
		visited: make(map[string]struct{}),
	}
	if err := w.walk(ctx, "", "", "", 0); err != nil {
		return Result{}, err
	}

	slices.Sort(w.found)
	return Result{Paths: w.found, Skipped: w.skipped}, nil
}

// Refresh scans and diffs the result against the previous call.
func (s *Scanner) Refresh(ctx context.Context) (Result, Diff, error) {
	result, err := s.Scan(ctx)
	if err != nil {
		return Result{}, Diff{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	diff := DiffPaths(s.prev, result.Paths)
	s.prev = result.Paths
	return result, diff, nil
}

// Seed sets the previous result, for example from the paths already in the
// store.
func (s *Scanner) Seed(paths []string) {
	sorted := slices.Clone(paths)
	slices.Sort(sorted)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev = sorted
}

// DiffPaths returns the paths added and removed going from prev to next.
// Both inputs must be sorted.
func DiffPaths(prev, next []string) Diff {
	var d Diff
	i, j := 0, 0
	for i < len(prev) && j < len(next) {
		switch strings.Compare(prev[i], next[j]) {
		case 0:
			i++
			j++
		case -1:
			d.Removed = append(d.Removed, prev[i])
			i++
		default:
			d.Added = append(d.Added, next[j])
			j++
		}
	}
	d.Removed = append(d.Removed, prev[i:]...)
	d.Added = append(d.Added, next[j:]...)
	return d
}

type walker struct {
	fs      billy.Filesystem
	logger  *slog.Logger
	max     int
	visited map[string]struct{}
	found   []string
	skipped int
}

// walk visits dir. name is the path reported for repositories found below
// it; dir is where it lives with in-root symlinks resolved, which is what the
// filesystem is asked about.
func (w *walker) walk(ctx context.Context, name, dir, id string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, seen := w.visited[id]; seen {
		return nil
	}
	w.visited[id] = struct{}{}

	if w.isRepository(dir) {
		w.found = append(w.found, name)
		return nil
	}
	if depth >= w.max {
		w.logger.Debug("scan depth limit reached", "path", name, "depth", depth)
		return nil
	}

	entries, err := w.fs.ReadDir(osPath(dir))
	if err != nil {
		w.skip(name, err)
		return nil
	}

	for _, entry := range entries {
		childName := path.Join(name, entry.Name())
		childDir := path.Join(dir, entry.Name())
		if !w.isDir(childName, childDir, entry) {
			continue
		}

		childID := childDir
		if entry.Mode()&os.ModeSymlink != 0 {
			resolved, inside, err := w.resolve(childDir)
			if err != nil {
				w.skip(childName, err)
				continue
			}
			childID = resolved
			if inside {
				childDir = resolved
			}
		}
		if err := w.walk(ctx, childName, childDir, childID, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// isDir reports whether entry is a directory, following a symlink.
func (w *walker) isDir(name, dir string, entry os.FileInfo) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Mode()&os.ModeSymlink == 0 {
		return false
	}
	info, err := w.fs.Stat(osPath(dir))
	if err != nil {
		w.logger.Debug("skipping dangling symlink", "path", name, "error", err)
		return false
	}
	return info.IsDir()
}

func (w *walker) isRepository(dir string) bool {
	if dir == "" {
		return git.IsBareRepository(w.fs)
	}
	scoped, err := w.fs.Chroot(osPath(dir))
	if err != nil {
		return false
	}
	return git.IsBareRepository(scoped)
}

func (w *walker) skip(name string, err error) {
	w.skipped++
	w.logger.Warn("skipping unreadable directory",
		"path", name,
		"error", err,
		"permission", os.IsPermission(err))
}

// resolve replaces every symlink component of p with its target. Absolute
// targets are taken relative to the root. When a link leads outside the root
// it stops and returns the escaped path, still usable as an identity, with
// inside set to false.
func (w *walker) resolve(p string) (resolved string, inside bool, err error) {
	hops := 0
	pending := splitPath(p)
	for len(pending) > 0 {
		elem := pending[0]
		pending = pending[1:]

		candidate := path.Join(resolved, elem)
		info, err := w.fs.Lstat(osPath(candidate))
		if err != nil {
			return "", false, err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			resolved = candidate
			continue
		}

		hops++
		if hops > maxLinkHops {
			return "", false, errors.Newf(errors.CodeInvalidInput, "too many levels of symbolic links at %s", candidate)
		}
		target, err := w.fs.Readlink(osPath(candidate))
		if err != nil {
			return "", false, err
		}
		target = strings.ReplaceAll(target, "\\", "/")
		parent := resolved
		if strings.HasPrefix(target, "/") {
			parent = ""
			target = strings.TrimLeft(target, "/")
		}
		joined := path.Join(parent, target)
		if joined == ".." || strings.HasPrefix(joined, "../") {
			return path.Join(append([]string{joined}, pending...)...), false, nil
		}
		// Re-queue the target so links inside it are resolved too.
		pending = append(splitPath(joined), pending...)
		resolved = ""
	}
	return resolved, true, nil
}

func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// osPath maps the walker's root-relative path to a filesystem path.
func osPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}
