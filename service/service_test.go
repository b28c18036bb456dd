package service_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/gitweb/cache"
	"github.com/jmgilman/gitweb/content"
	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/git/testutil"
	"github.com/jmgilman/gitweb/index"
	"github.com/jmgilman/gitweb/service"
	"github.com/jmgilman/gitweb/store"
)

type fixture struct {
	svc     *service.Service
	store   *store.Store
	cache   *cache.Cache
	repo    *testutil.Repo
	indexer *index.Indexer
	commits []git.Hash
	tagged  git.Hash
}

// newFixture indexes project.git: five commits on main, a feature branch,
// a lightweight tag v1 on the second commit and an annotated tag on a
// commit no branch reaches.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs := memfs.New()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	repo := testutil.NewBareRepo(t, fs, "project.git")
	files := func(i int) map[string]string {
		return map[string]string{
			"README.md": "# Project\n",
			"main.go":   "package main\n",
			"logo.png":  "\x89PNG\x00",
			"file.txt":  fmt.Sprintf("revision %d\n", i),
		}
	}
	commits := []git.Hash{repo.Commit("initial", files(0))}
	for i := 1; i < 5; i++ {
		commits = append(commits, repo.Commit(fmt.Sprintf("change %d", i), files(i), commits[i-1]))
	}
	repo.SetBranch("main", commits[4])
	repo.SetBranch("feature", commits[2])
	repo.LightweightTag("v1", commits[1])
	dangling := repo.Commit("tagged only", map[string]string{"x": "x"}, commits[4])
	repo.AnnotatedTag("release", dangling, "release notes")

	opener := git.NewOpener(fs)
	c := cache.New(1<<20, 100)
	f := &fixture{
		svc:     service.New(s, content.New(opener), c),
		store:   s,
		cache:   c,
		repo:    repo,
		indexer: index.New(s, opener, fs),
		commits: commits,
		tagged:  dangling,
	}
	_, err = f.indexer.Index(context.Background(), "project.git")
	require.NoError(t, err)
	return f
}

func TestGetRepository(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	repo, err := f.svc.GetRepository(ctx, "project.git")
	require.NoError(t, err)
	assert.Equal(t, "project", repo.Name)
	assert.Equal(t, "main", repo.DefaultBranch)

	_, err = f.svc.GetRepository(ctx, "missing.git")
	assert.True(t, errors.IsNotFound(err))

	_, _, err = f.store.AddRepository(ctx, "pending.git")
	require.NoError(t, err)
	_, err = f.svc.GetRepository(ctx, "pending.git")
	assert.True(t, errors.IsUnavailable(err))
	assert.True(t, errors.IsRetryable(err))

	_, err = f.svc.GetDiff(ctx, "pending.git", "")
	assert.True(t, errors.IsUnavailable(err))
}

func TestListRepositories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, p := range []string{"a.git", "z.git"} {
		_, _, err := f.store.AddRepository(ctx, p)
		require.NoError(t, err)
	}

	var paths []string
	cursor := ""
	for {
		page, err := f.svc.ListRepositories(ctx, cursor, 2)
		require.NoError(t, err)
		for _, r := range page.Items {
			paths = append(paths, r.Path)
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}
	assert.Equal(t, []string{"a.git", "project.git", "z.git"}, paths)
}

func TestListRefs(t *testing.T) {
	f := newFixture(t)

	refs, err := f.svc.ListRefs(context.Background(), "project.git")
	require.NoError(t, err)

	require.Len(t, refs.Branches, 2)
	assert.Equal(t, "feature", refs.Branches[0].Name)
	assert.Equal(t, "main", refs.Branches[1].Name)

	require.Len(t, refs.Tags, 2)
	assert.Equal(t, "release", refs.Tags[0].Name, "newest first")
	assert.True(t, refs.Tags[0].Annotated)
	assert.Equal(t, "v1", refs.Tags[1].Name)
}

func TestListCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page, err := f.svc.ListCommits(ctx, "project.git", "", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, f.commits[4], page.Items[0].ID, "empty ref is the default branch")
	assert.NotEmpty(t, page.Next)

	var all []git.Hash
	cursor := ""
	for {
		page, err := f.svc.ListCommits(ctx, "project.git", "main", cursor, 2)
		require.NoError(t, err)
		for _, c := range page.Items {
			all = append(all, c.ID)
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}
	assert.Equal(t, []git.Hash{f.commits[4], f.commits[3], f.commits[2], f.commits[1], f.commits[0]}, all)

	feature, err := f.svc.ListCommits(ctx, "project.git", "feature", "", 0)
	require.NoError(t, err)
	assert.Len(t, feature.Items, 3)
	assert.Empty(t, feature.Next)

	_, err = f.svc.ListCommits(ctx, "project.git", "main", "!!", 10)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, err = f.svc.ListCommits(ctx, "project.git", "nope", "", 10)
	assert.True(t, errors.IsNotFound(err))
}

func TestListCommits_Tags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	collect := func(t *testing.T, ref string, limit int) ([]git.Hash, int) {
		t.Helper()
		var (
			ids    []git.Hash
			pages  int
			cursor string
		)
		for {
			page, err := f.svc.ListCommits(ctx, "project.git", ref, cursor, limit)
			require.NoError(t, err)
			pages++
			for _, c := range page.Items {
				ids = append(ids, c.ID)
			}
			if page.Next == "" {
				return ids, pages
			}
			cursor = page.Next
		}
	}

	tests := []struct {
		name  string
		ref   string
		limit int
		want  []git.Hash
		pages int
	}{
		{
			name:  "lightweight tag on main",
			ref:   "v1",
			limit: 10,
			want:  []git.Hash{f.commits[1], f.commits[0]},
			pages: 1,
		},
		{
			name:  "annotated tag outside every branch",
			ref:   "release",
			limit: 2,
			want:  []git.Hash{f.tagged, f.commits[4], f.commits[3], f.commits[2], f.commits[1], f.commits[0]},
			pages: 3,
		},
		{
			name:  "commit id",
			ref:   f.commits[2].String(),
			limit: 10,
			want:  []git.Hash{f.commits[2], f.commits[1], f.commits[0]},
			pages: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, pages := collect(t, tt.ref, tt.limit)
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, tt.pages, pages)
		})
	}

	t.Run("pages survive new history", func(t *testing.T) {
		first, err := f.svc.ListCommits(ctx, "project.git", "release", "", 3)
		require.NoError(t, err)
		require.NotEmpty(t, first.Next)

		next := f.repo.Commit("after the tag", map[string]string{"y": "y"}, f.commits[4])
		f.repo.SetBranch("main", next)
		_, err = f.indexer.Index(ctx, "project.git")
		require.NoError(t, err)

		second, err := f.svc.ListCommits(ctx, "project.git", "release", first.Next, 3)
		require.NoError(t, err)
		var ids []git.Hash
		for _, c := range second.Items {
			ids = append(ids, c.ID)
		}
		assert.Equal(t, []git.Hash{f.commits[2], f.commits[1], f.commits[0]}, ids)
		assert.Empty(t, second.Next)
	})
}

func TestGetCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rev  string
		want git.Hash
	}{
		{"default branch", "", f.commits[4]},
		{"branch", "feature", f.commits[2]},
		{"lightweight tag", "v1", f.commits[1]},
		{"hex id", f.commits[3].String(), f.commits[3]},
		{"commit outside every branch", "release", f.tagged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := f.svc.GetCommit(ctx, "project.git", tt.rev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.ID)
		})
	}

	_, err := f.svc.GetCommit(ctx, "project.git", "v9")
	assert.True(t, errors.IsNotFound(err))
}

func TestContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entries, err := f.svc.GetTree(ctx, "project.git", "", "")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"README.md", "file.txt", "logo.png", "main.go"}, names)

	blob, err := f.svc.GetBlob(ctx, "project.git", "v1", "file.txt")
	require.NoError(t, err)
	rc, err := blob.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "revision 1\n", string(data))

	_, err = f.svc.GetBlob(ctx, "project.git", "", "missing")
	assert.True(t, errors.IsNotFound(err))

	html, err := f.svc.GetHighlighted(ctx, "project.git", "", "main.go")
	require.NoError(t, err)
	assert.Contains(t, string(html), "chroma")

	_, err = f.svc.GetHighlighted(ctx, "project.git", "", "logo.png")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	var archive bytes.Buffer
	require.NoError(t, f.svc.Snapshot(ctx, "project.git", "", &archive))
	assert.NotZero(t, archive.Len())
}

func TestGetDiff_Cached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.GetDiff(ctx, "project.git", "main")
	require.NoError(t, err)
	assert.Contains(t, string(first), "1 file changed, 1 insertion(+), 1 deletion(-)")
	assert.Contains(t, string(first), "-revision 3")
	assert.Contains(t, string(first), "+revision 4")

	second, err := f.svc.GetDiff(ctx, "project.git", f.commits[4].String())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	st := f.cache.Stats()
	assert.EqualValues(t, 1, st.Misses)
	assert.EqualValues(t, 1, st.Hits)
}

func TestGetReadme(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	html, err := f.svc.GetReadme(ctx, "project.git", "")
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1")
	assert.Contains(t, string(html), "Project</h1>")

	_, err = f.svc.GetReadme(ctx, "project.git", "release")
	assert.True(t, errors.IsNotFound(err))
	_, err = f.svc.GetReadme(ctx, "project.git", "release")
	assert.True(t, errors.IsNotFound(err))
	assert.EqualValues(t, 1, f.cache.Stats().Hits, "a missing readme is cached too")
}
