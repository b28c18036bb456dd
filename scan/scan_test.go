package scan_test

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/gitweb/git/testutil"
	"github.com/jmgilman/gitweb/scan"
)

func newRoot(t *testing.T, repos ...string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for _, p := range repos {
		testutil.NewBareRepo(t, fs, p)
	}
	return fs
}

func TestScan_FindsRepositories(t *testing.T) {
	fs := newRoot(t, "a.git", "team/b.git", "team/nested/deep/c.git", ".hidden/d.git")
	require.NoError(t, util.WriteFile(fs, "team/README", []byte("not a repo"), 0o644))
	require.NoError(t, fs.MkdirAll("empty/dir", 0o755))

	result, err := scan.New(fs).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{".hidden/d.git", "a.git", "team/b.git", "team/nested/deep/c.git"}, result.Paths)
	assert.Zero(t, result.Skipped)
}

func TestScan_DoesNotDescendIntoRepositories(t *testing.T) {
	fs := newRoot(t, "outer.git")
	// A repository-shaped directory inside another repository is not listed.
	testutil.NewBareRepo(t, fs, "outer.git/modules/inner.git")

	result, err := scan.New(fs).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"outer.git"}, result.Paths)
}

func TestScan_RootIsRepository(t *testing.T) {
	fs := memfs.New()
	testutil.NewBareRepo(t, fs, ".")

	result, err := scan.New(fs).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{""}, result.Paths)
}

func TestScan_Symlinks(t *testing.T) {
	t.Run("followed", func(t *testing.T) {
		fs := newRoot(t, "real/a.git")
		require.NoError(t, fs.MkdirAll("a-links", 0o755))
		require.NoError(t, fs.Symlink("../elsewhere", "a-links/out"))
		testutil.NewBareRepo(t, fs, "elsewhere/b.git")

		result, err := scan.New(fs).Scan(context.Background())
		require.NoError(t, err)
		// The link is walked first, so elsewhere itself is a duplicate.
		assert.Equal(t, []string{"a-links/out/b.git", "real/a.git"}, result.Paths)
	})

	t.Run("linked repository listed under the first path", func(t *testing.T) {
		fs := newRoot(t, "b/repo.git")
		require.NoError(t, fs.Symlink("b/repo.git", "a-link.git"))

		result, err := scan.New(fs).Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"a-link.git"}, result.Paths)
	})

	t.Run("cycles terminate", func(t *testing.T) {
		fs := newRoot(t, "top/a.git")
		require.NoError(t, fs.Symlink("..", "top/up"))
		require.NoError(t, fs.Symlink("/top", "top/abs"))
		require.NoError(t, fs.MkdirAll("x", 0o755))
		require.NoError(t, fs.Symlink("../y", "x/to-y"))
		require.NoError(t, fs.MkdirAll("y", 0o755))
		require.NoError(t, fs.Symlink("../x", "y/to-x"))

		result, err := scan.New(fs).Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"top/a.git"}, result.Paths)
	})

	t.Run("dangling links are skipped", func(t *testing.T) {
		fs := newRoot(t, "a.git")
		require.NoError(t, fs.Symlink("missing", "dangling"))
		require.NoError(t, fs.Symlink("../../outside", "escape"))

		result, err := scan.New(fs).Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"a.git"}, result.Paths)
	})
}

func TestScan_DepthLimit(t *testing.T) {
	fs := newRoot(t, "a/b/c/d.git", "shallow.git")

	result, err := scan.New(fs, scan.WithMaxDepth(2)).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"shallow.git"}, result.Paths)
}

func TestScan_Cancelled(t *testing.T) {
	fs := newRoot(t, "a.git")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scan.New(fs).Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefresh_Diff(t *testing.T) {
	fs := newRoot(t, "a.git", "b.git")
	scanner := scan.New(fs)
	scanner.Seed([]string{"b.git", "gone.git"})

	_, diff, err := scanner.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.git"}, diff.Added)
	assert.Equal(t, []string{"gone.git"}, diff.Removed)

	_, diff, err = scanner.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, diff.Empty())

	testutil.NewBareRepo(t, fs, "c.git")
	require.NoError(t, util.RemoveAll(fs, "a.git"))

	_, diff, err = scanner.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"c.git"}, diff.Added)
	assert.Equal(t, []string{"a.git"}, diff.Removed)
}

func TestDiffPaths(t *testing.T) {
	tests := []struct {
		name          string
		prev, next    []string
		added, remove []string
	}{
		{name: "empty"},
		{name: "all new", next: []string{"a", "b"}, added: []string{"a", "b"}},
		{name: "all gone", prev: []string{"a", "b"}, remove: []string{"a", "b"}},
		{
			name:   "mixed",
			prev:   []string{"a", "c", "e"},
			next:   []string{"b", "c", "d"},
			added:  []string{"b", "d"},
			remove: []string{"a", "e"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := scan.DiffPaths(tt.prev, tt.next)
			assert.Equal(t, tt.added, d.Added)
			assert.Equal(t, tt.remove, d.Removed)
		})
	}
}
