package schedule

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmgilman/gitweb/logging"
)

// DefaultDebounce is how long the watcher waits for ref updates to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher requests an early cycle when a repository's refs change on disk.
// fsnotify is not recursive, so each repository directory and its
// refs/heads and refs/tags directories are watched individually.
type Watcher struct {
	root     string
	onChange func()
	debounce time.Duration
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	watched map[string][]string
	timer   *time.Timer
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before onChange fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logging.OrNop(logger) }
}

// NewWatcher returns a Watcher for repositories below the OS directory root.
// onChange is usually Scheduler.Trigger.
func NewWatcher(root string, onChange func(), opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     root,
		onChange: onChange,
		debounce: DefaultDebounce,
		logger:   logging.Nop(),
		fsw:      fsw,
		watched:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts watching the repository at path, relative to the root.
// Watching a path twice is a no-op.
func (w *Watcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[path]; ok {
		return nil
	}

	dir := filepath.Join(w.root, filepath.FromSlash(path))
	var added []string
	for i, d := range []string{dir, filepath.Join(dir, "refs", "heads"), filepath.Join(dir, "refs", "tags")} {
		err := w.fsw.Add(d)
		if err != nil && i > 0 && errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			for _, a := range added {
				_ = w.fsw.Remove(a)
			}
			return err
		}
		added = append(added, d)
	}
	w.watched[path] = added
	return nil
}

// Unwatch stops watching the repository at path.
func (w *Watcher) Unwatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range w.watched[path] {
		_ = w.fsw.Remove(d)
	}
	delete(w.watched, path)
}

// Run dispatches events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !isRefEvent(event) {
				continue
			}
			w.logger.Debug("ref change detected", "path", event.Name, "op", event.Op.String())
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close stops the watcher and any pending notification.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

// isRefEvent reports whether event may have moved a ref. Lock files are
// written first and renamed into place, so only the rename target counts.
func isRefEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	name := filepath.ToSlash(event.Name)
	base := filepath.Base(event.Name)
	if strings.HasSuffix(base, ".lock") {
		return false
	}
	switch {
	case base == "packed-refs", base == "HEAD":
		return true
	case strings.Contains(name, "/refs/heads/"), strings.Contains(name, "/refs/tags/"):
		return true
	default:
		return false
	}
}
