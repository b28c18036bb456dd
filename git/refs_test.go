package git_test

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/git/testutil"
)

func TestReferences(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New()
	b := testutil.NewBareRepo(t, fs, "r.git")

	ids := b.Chain("main", git.ZeroHash, 2)
	dev := b.Commit("dev work", map[string]string{"dev.txt": "x"}, ids[1])
	b.SetBranch("dev", dev)
	b.LightweightTag("light", ids[0])
	tagID := b.AnnotatedTag("v1.0", ids[1], "release 1.0\n")

	repo, err := git.Open("r.git", git.WithFilesystem(fs))
	require.NoError(t, err)

	refs, err := repo.References(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 4)

	byName := make(map[string]git.Ref)
	for _, r := range refs {
		byName[r.Name] = r
	}

	assert.Equal(t, git.RefBranch, byName["refs/heads/main"].Kind)
	assert.Equal(t, ids[1], byName["refs/heads/main"].Commit)
	assert.Equal(t, dev, byName["refs/heads/dev"].Commit)

	light := byName["refs/tags/light"]
	assert.Equal(t, git.RefTag, light.Kind)
	assert.Equal(t, ids[0], light.Commit)
	assert.False(t, light.Annotated())

	annotated := byName["refs/tags/v1.0"]
	assert.Equal(t, tagID, annotated.Target)
	assert.Equal(t, ids[1], annotated.Commit)
	assert.True(t, annotated.Annotated())
	assert.Equal(t, "v1.0", annotated.ShortName())

	assert.Equal(t, "refs/heads/dev", refs[0].Name, "sorted by name")
}

func TestHead(t *testing.T) {
	fs := memfs.New()
	b := testutil.NewBareRepo(t, fs, "r.git")

	repo, err := git.Open("r.git", git.WithFilesystem(fs))
	require.NoError(t, err)

	head, err := repo.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", head, "unborn branch is still reported")

	b.SetHead("trunk")
	head, err = repo.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/trunk", head)
}

func TestResolveRef(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New()
	b := testutil.NewBareRepo(t, fs, "r.git")
	ids := b.Chain("main", git.ZeroHash, 2)
	b.AnnotatedTag("v1", ids[0], "first")

	repo, err := git.Open("r.git", git.WithFilesystem(fs))
	require.NoError(t, err)

	tests := []struct {
		name string
		ref  string
		want git.Hash
	}{
		{"short branch", "main", ids[1]},
		{"full branch", "refs/heads/main", ids[1]},
		{"head", "HEAD", ids[1]},
		{"annotated tag peeled", "v1", ids[0]},
		{"full tag", "refs/tags/v1", ids[0]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ResolveRef(ctx, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = repo.ResolveRef(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}
