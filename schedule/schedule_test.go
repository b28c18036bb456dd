package schedule

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/index"
	"github.com/jmgilman/gitweb/scan"
	"github.com/jmgilman/gitweb/store"
)

type fakeDiscoverer struct {
	mu    sync.Mutex
	paths []string
	prev  []string
	err   error
	scans int
}

func (d *fakeDiscoverer) Refresh(context.Context) (scan.Result, scan.Diff, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scans++
	if d.err != nil {
		return scan.Result{}, scan.Diff{}, d.err
	}
	next := slices.Clone(d.paths)
	slices.Sort(next)
	diff := scan.DiffPaths(d.prev, next)
	d.prev = next
	return scan.Result{Paths: next}, diff, nil
}

func (d *fakeDiscoverer) Seed(paths []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prev = slices.Sorted(slices.Values(paths))
}

func (d *fakeDiscoverer) set(paths ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = paths
}

type fakeCatalog struct {
	mu    sync.Mutex
	repos map[string]bool
}

func newCatalog(paths ...string) *fakeCatalog {
	c := &fakeCatalog{repos: map[string]bool{}}
	for _, p := range paths {
		c.repos[p] = true
	}
	return c
}

func (c *fakeCatalog) Paths(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for p := range c.repos {
		out = append(out, p)
	}
	return out, nil
}

func (c *fakeCatalog) AddRepository(_ context.Context, p string) (store.Repository, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	created := !c.repos[p]
	c.repos[p] = true
	return store.Repository{Path: p}, created, nil
}

func (c *fakeCatalog) RemoveRepository(_ context.Context, p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.repos, p)
	return nil
}

func (c *fakeCatalog) has(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repos[p]
}

// fakeIndexer records calls. Paths listed in block wait on release; paths
// in fail return an error.
type fakeIndexer struct {
	mu     sync.Mutex
	calls  map[string]int
	fail   map[string]bool
	block  map[string]chan struct{}
	active atomic.Int32
	peak   atomic.Int32
}

func newIndexer() *fakeIndexer {
	return &fakeIndexer{
		calls: map[string]int{},
		fail:  map[string]bool{},
		block: map[string]chan struct{}{},
	}
}

func (ix *fakeIndexer) Index(ctx context.Context, p string) (index.Stats, error) {
	n := ix.active.Add(1)
	defer ix.active.Add(-1)
	for {
		peak := ix.peak.Load()
		if n <= peak || ix.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	ix.mu.Lock()
	ix.calls[p]++
	wait := ix.block[p]
	fail := ix.fail[p]
	ix.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return index.Stats{}, ctx.Err()
		}
	}
	if fail {
		return index.Stats{}, errors.Newf(errors.CodeTransient, "index %s failed", p)
	}
	return index.Stats{Path: p, Changed: true}, nil
}

func (ix *fakeIndexer) count(p string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.calls[p]
}

func TestRunCycle_DiscoversAndIndexes(t *testing.T) {
	d := &fakeDiscoverer{paths: []string{"a.git", "b.git"}}
	c := newCatalog("gone.git")
	ix := newIndexer()
	s := New(d, c, ix)

	stats, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, stats.ID)
	assert.Equal(t, 2, stats.Found)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 2, stats.Changed)
	assert.True(t, c.has("a.git"))
	assert.False(t, c.has("gone.git"))
	assert.EqualValues(t, 1, s.Cycles())
}

func TestRunCycle_FailureIsolation(t *testing.T) {
	d := &fakeDiscoverer{paths: []string{"bad.git", "good.git"}}
	ix := newIndexer()
	ix.fail["bad.git"] = true
	s := New(d, newCatalog(), ix)

	stats, err := s.RunCycle(context.Background())
	require.NoError(t, err, "a repository failure does not fail the cycle")
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Indexed)

	_, err = s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ix.count("bad.git"), "retried next cycle")
}

func TestRunCycle_ScanFailure(t *testing.T) {
	d := &fakeDiscoverer{err: fmt.Errorf("disk gone")}
	s := New(d, newCatalog(), newIndexer())

	_, err := s.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeTransient, errors.GetCode(err))
}

func TestRunCycle_SkipsInProgress(t *testing.T) {
	d := &fakeDiscoverer{paths: []string{"slow.git", "fast.git"}}
	ix := newIndexer()
	release := make(chan struct{})
	ix.block["slow.git"] = release
	s := New(d, newCatalog(), ix)

	first := make(chan CycleStats, 1)
	go func() {
		stats, _ := s.RunCycle(context.Background())
		first <- stats
	}()
	require.Eventually(t, func() bool { return s.InProgress("slow.git") }, 5*time.Second, time.Millisecond)

	second, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 1, second.Indexed)
	assert.Equal(t, 1, ix.count("slow.git"))

	close(release)
	stats := <-first
	assert.Equal(t, 2, stats.Indexed)
	assert.False(t, s.InProgress("slow.git"))
}

func TestRunCycle_WorkerLimit(t *testing.T) {
	var paths []string
	for i := range 12 {
		paths = append(paths, fmt.Sprintf("r%02d.git", i))
	}
	ix := newIndexer()
	release := make(chan struct{})
	for _, p := range paths {
		ix.block[p] = release
	}
	s := New(&fakeDiscoverer{paths: paths}, newCatalog(), ix, WithWorkers(3))

	done := make(chan struct{})
	go func() {
		_, _ = s.RunCycle(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return ix.active.Load() == 3 }, 5*time.Second, time.Millisecond)
	close(release)
	<-done
	assert.EqualValues(t, 3, ix.peak.Load())
}

func TestStart_DisabledRunsOnce(t *testing.T) {
	d := &fakeDiscoverer{paths: []string{"a.git"}}
	ix := newIndexer()
	s := New(d, newCatalog(), ix, WithInterval(0))

	stop := s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Cycles() == 1 }, 5*time.Second, time.Millisecond)

	s.Trigger()
	time.Sleep(50 * time.Millisecond)
	stop()
	stop()

	assert.EqualValues(t, 1, s.Cycles())
	assert.Equal(t, 1, ix.count("a.git"))
}

func TestStart_Periodic(t *testing.T) {
	d := &fakeDiscoverer{paths: []string{"a.git"}}
	ix := newIndexer()
	s := New(d, newCatalog(), ix, WithInterval(10*time.Millisecond))

	stop := s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Cycles() >= 3 }, 5*time.Second, time.Millisecond)

	d.set("a.git", "b.git")
	require.Eventually(t, func() bool { return ix.count("b.git") > 0 }, 5*time.Second, time.Millisecond)
	stop()

	after := s.Cycles()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, s.Cycles(), "no cycles after stop")
}

func TestTrigger_Coalesces(t *testing.T) {
	d := &fakeDiscoverer{paths: []string{"a.git"}}
	ix := newIndexer()
	s := New(d, newCatalog(), ix, WithInterval(time.Hour))

	for range 10 {
		s.Trigger()
	}
	stop := s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Cycles() == 2 }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.EqualValues(t, 2, s.Cycles(), "the startup cycle plus one coalesced trigger")
}

type recordingWatcher struct {
	mu      sync.Mutex
	watched map[string]bool
}

func (w *recordingWatcher) Watch(p string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[p] = true
	return nil
}

func (w *recordingWatcher) Unwatch(p string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, p)
}

func TestRunCycle_KeepsWatcherInSync(t *testing.T) {
	d := &fakeDiscoverer{paths: []string{"a.git", "b.git"}}
	w := &recordingWatcher{watched: map[string]bool{}}
	s := New(d, newCatalog(), newIndexer(), WithWatcher(w))

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a.git": true, "b.git": true}, w.watched)

	d.set("b.git")
	_, err = s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"b.git": true}, w.watched)
}
