package index_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/git/testutil"
	"github.com/jmgilman/gitweb/index"
	"github.com/jmgilman/gitweb/store"
)

type fixture struct {
	fs      billy.Filesystem
	store   *store.Store
	dir     string
	indexer *index.Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := memfs.New()
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &fixture{
		fs:      fs,
		store:   s,
		dir:     dir,
		indexer: index.New(s, git.NewOpener(fs), fs),
	}
}

func (f *fixture) index(t *testing.T, path string) index.Stats {
	t.Helper()
	stats, err := f.indexer.Index(context.Background(), path)
	require.NoError(t, err)
	return stats
}

func (f *fixture) log(t *testing.T, path, branch string) []git.Hash {
	t.Helper()
	commits, next, err := f.store.ListCommits(context.Background(), path, branch, store.Cursor{}, 1000)
	require.NoError(t, err)
	require.True(t, next.IsZero())

	ids := make([]git.Hash, len(commits))
	for i, c := range commits {
		ids[i] = c.ID
	}
	return ids
}

func reversed(ids []git.Hash) []git.Hash {
	out := make([]git.Hash, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

func TestIndex_Fresh(t *testing.T) {
	f := newFixture(t)
	repo := testutil.NewBareRepo(t, f.fs, "project.git")
	ids := repo.Chain("main", git.ZeroHash, 5)

	stats := f.index(t, "project.git")
	assert.True(t, stats.Changed)
	assert.EqualValues(t, 1, stats.Generation)
	assert.Equal(t, 5, stats.CommitsWritten)
	assert.Equal(t, 1, stats.BranchesUpdated)

	assert.Equal(t, reversed(ids), f.log(t, "project.git", "main"), "newest first")

	record, err := f.store.GetRepository(context.Background(), "project.git")
	require.NoError(t, err)
	assert.Equal(t, "project", record.Name)
	assert.Equal(t, "main", record.DefaultBranch)
	assert.Equal(t, testutil.Epoch.Add(4*time.Minute).Unix(), record.LastModified.Unix())

	commit, err := f.store.GetCommit(context.Background(), "project.git", ids[2])
	require.NoError(t, err)
	assert.Equal(t, []git.Hash{ids[1]}, commit.Parents)
	assert.Equal(t, "main 2", commit.Message)
	assert.Equal(t, testutil.TestAuthor, commit.Author.Name)
}

func TestIndex_Idempotent(t *testing.T) {
	f := newFixture(t)
	repo := testutil.NewBareRepo(t, f.fs, "project.git")
	repo.Chain("main", git.ZeroHash, 3)
	repo.LightweightTag("v1", repo.Chain("dev", git.ZeroHash, 1)[0])
	repo.SetDescription("A project\n")

	first := f.index(t, "project.git")
	require.NoError(t, f.store.Close())
	before, err := os.ReadFile(filepath.Join(f.dir, store.FileName))
	require.NoError(t, err)

	s, err := store.Open(f.dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ix := index.New(s, git.NewOpener(f.fs), f.fs)

	second, err := ix.Index(context.Background(), "project.git")
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Zero(t, second.CommitsWritten)
	assert.Equal(t, first.Generation, second.Generation)

	require.NoError(t, s.Close())
	after, err := os.ReadFile(filepath.Join(f.dir, store.FileName))
	require.NoError(t, err)
	assert.Equal(t, before, after, "an unchanged repository writes nothing")
}

func TestIndex_FastForward(t *testing.T) {
	f := newFixture(t)
	repo := testutil.NewBareRepo(t, f.fs, "project.git")
	ids := repo.Chain("main", git.ZeroHash, 4)
	f.index(t, "project.git")

	more := repo.Chain("main", ids[3], 3)
	stats := f.index(t, "project.git")
	assert.Equal(t, 3, stats.CommitsWritten)
	assert.Zero(t, stats.LogsRebuilt)
	assert.EqualValues(t, 2, stats.Generation)

	assert.Equal(t, reversed(append(ids, more...)), f.log(t, "project.git", "main"))
}

func TestIndex_MergeFastForward(t *testing.T) {
	f := newFixture(t)
	repo := testutil.NewBareRepo(t, f.fs, "project.git")
	base := repo.Chain("main", git.ZeroHash, 2)
	f.index(t, "project.git")

	side := repo.Commit("side", map[string]string{"side.txt": "x\n"}, base[0])
	merge := repo.Commit("merge", map[string]string{"file.txt": "merged\n"}, base[1], side)
	repo.SetBranch("main", merge)

	stats := f.index(t, "project.git")
	assert.Equal(t, 2, stats.CommitsWritten)
	assert.Zero(t, stats.LogsRebuilt)
	assert.ElementsMatch(t, []git.Hash{merge, side, base[1], base[0]}, f.log(t, "project.git", "main"))
	assert.Equal(t, merge, f.log(t, "project.git", "main")[0])
}

func TestIndex_ForcePush(t *testing.T) {
	f := newFixture(t)
	repo := testutil.NewBareRepo(t, f.fs, "project.git")
	ids := repo.Chain("main", git.ZeroHash, 5)
	f.index(t, "project.git")

	rewritten := repo.Chain("main", ids[1], 2)
	stats := f.index(t, "project.git")
	assert.Equal(t, 1, stats.LogsRebuilt)
	assert.Equal(t, 2, stats.CommitsWritten, "bodies already stored are reused")

	want := reversed([]git.Hash{ids[0], ids[1], rewritten[0], rewritten[1]})
	assert.Equal(t, want, f.log(t, "project.git", "main"))

	// Moving the branch back to an ancestor is also a rewrite.
	repo.SetBranch("main", ids[0])
	stats = f.index(t, "project.git")
	assert.Equal(t, 1, stats.LogsRebuilt)
	assert.Zero(t, stats.CommitsWritten)
	assert.Equal(t, []git.Hash{ids[0]}, f.log(t, "project.git", "main"))
}

func TestIndex_BranchesShareBodies(t *testing.T) {
	f := newFixture(t)
	repo := testutil.NewBareRepo(t, f.fs, "project.git")
	ids := repo.Chain("main", git.ZeroHash, 3)
	f.index(t, "project.git")

	feature := repo.Chain("feature", ids[2], 2)
	stats := f.index(t, "project.git")
	assert.Equal(t, 2, stats.CommitsWritten)
	assert.Len(t, f.log(t, "project.git", "feature"), 5)

	repo.DeleteBranch("feature")
	stats = f.index(t, "project.git")
	assert.Equal(t, 1, stats.RefsRemoved)

	_, _, err := f.store.ListCommits(context.Background(), "project.git", "feature", store.Cursor{}, 10)
	assert.True(t, errors.IsNotFound(err))
	_, err = f.store.GetCommit(context.Background(), "project.git", feature[1])
	assert.NoError(t, err, "bodies are append only")
}

func TestIndex_Tags(t *testing.T) {
	f := newFixture(t)
	repo := testutil.NewBareRepo(t, f.fs, "project.git")
	ids := repo.Chain("main", git.ZeroHash, 3)
	repo.LightweightTag("v0.1", ids[0])
	tagID := repo.AnnotatedTag("v1.0", ids[2], "Release 1.0\n")
	repo.LightweightTag("v0.2", ids[1])

	stats := f.index(t, "project.git")
	assert.Equal(t, 3, stats.TagsUpdated)

	branches, tags, err := f.store.ListRefs(context.Background(), "project.git")
	require.NoError(t, err)
	require.Len(t, branches, 1)
	require.Len(t, tags, 3)
	assert.Equal(t, []string{"v1.0", "v0.2", "v0.1"}, []string{tags[0].Name, tags[1].Name, tags[2].Name})

	annotated := tags[0]
	assert.True(t, annotated.Annotated)
	assert.Equal(t, tagID, annotated.Target)
	assert.Equal(t, ids[2], annotated.Commit)
	assert.Equal(t, "Release 1.0", annotated.Message)
	assert.Equal(t, testutil.TestAuthor, annotated.Tagger.Name)

	assert.False(t, tags[2].Annotated)
	assert.Equal(t, ids[0], tags[2].Commit)

	stats = f.index(t, "project.git")
	assert.False(t, stats.Changed)
	assert.Zero(t, stats.TagsUpdated)
}

func TestIndex_Metadata(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(r *testutil.Repo)
		description string
		owner       string
		branch      string
	}{
		{
			name:   "head branch",
			setup:  func(r *testutil.Repo) { r.Chain("main", git.ZeroHash, 1) },
			branch: "main",
		},
		{
			name: "git default description is dropped",
			setup: func(r *testutil.Repo) {
				r.SetDescription("Unnamed repository; edit this file 'description' to name the repository.\n")
				r.Chain("main", git.ZeroHash, 1)
			},
			branch: "main",
		},
		{
			name: "description and owner",
			setup: func(r *testutil.Repo) {
				r.SetDescription("  Tools  \n")
				r.SetOwner("Jane Doe")
				r.Chain("main", git.ZeroHash, 1)
			},
			description: "Tools",
			owner:       "Jane Doe",
			branch:      "main",
		},
		{
			name: "falls back to master when HEAD is unborn",
			setup: func(r *testutil.Repo) {
				r.SetHead("trunk")
				r.Chain("main", git.ZeroHash, 1)
				r.Chain("master", git.ZeroHash, 1)
			},
			branch: "master",
		},
		{
			name: "falls back to the first branch",
			setup: func(r *testutil.Repo) {
				r.SetHead("trunk")
				r.Chain("zeta", git.ZeroHash, 1)
				r.Chain("alpha", git.ZeroHash, 1)
			},
			branch: "alpha",
		},
		{
			name:  "empty repository",
			setup: func(r *testutil.Repo) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(testutil.NewBareRepo(t, f.fs, "r.git"))

			stats := f.index(t, "r.git")
			assert.EqualValues(t, 1, stats.Generation)

			record, err := f.store.GetRepository(context.Background(), "r.git")
			require.NoError(t, err)
			assert.Equal(t, tt.description, record.Description)
			assert.Equal(t, tt.owner, record.Owner)
			assert.Equal(t, tt.branch, record.DefaultBranch)
		})
	}
}

func TestIndex_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	broken := testutil.NewBareRepo(t, f.fs, "broken.git")
	healthy := testutil.NewBareRepo(t, f.fs, "healthy.git")

	ids := broken.Chain("main", git.ZeroHash, 2)
	healthy.Chain("main", git.ZeroHash, 2)
	f.index(t, "broken.git")
	f.index(t, "healthy.git")

	more := broken.Chain("main", ids[1], 2)
	broken.CorruptObject(more[0])
	healthy.Chain("main", git.ZeroHash, 1)

	_, err := f.indexer.Index(context.Background(), "broken.git")
	require.Error(t, err)
	assert.Equal(t, errors.CodeTransient, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))

	assert.Equal(t, reversed(ids), f.log(t, "broken.git", "main"), "previous index intact")
	record, err := f.store.GetRepository(context.Background(), "broken.git")
	require.NoError(t, err)
	assert.EqualValues(t, 1, record.Generation)

	stats := f.index(t, "healthy.git")
	assert.True(t, stats.Changed)
}

func TestIndex_MissingRepository(t *testing.T) {
	f := newFixture(t)

	_, err := f.indexer.Index(context.Background(), "nope.git")
	require.Error(t, err)
	assert.Equal(t, errors.CodeTransient, errors.GetCode(err))
	assert.True(t, errors.IsNotFound(err))
}

func TestIndex_Cancelled(t *testing.T) {
	f := newFixture(t)
	testutil.NewBareRepo(t, f.fs, "project.git").Chain("main", git.ZeroHash, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.indexer.Index(ctx, "project.git")
	assert.ErrorIs(t, err, context.Canceled)
}
