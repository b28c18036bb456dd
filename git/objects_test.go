package git_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/git/testutil"
)

func TestReadObjects(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New()
	b := testutil.NewBareRepo(t, fs, "r.git")

	root := b.Commit("root", map[string]string{"a.txt": "one\n"})
	child := b.Commit("child\n\nbody", map[string]string{
		"a.txt":     "one\ntwo\n",
		"src/m.go":  "package m\n",
		"run.sh":    "#!/bin/sh\n",
		"src/x/y.c": "int y;\n",
	}, root)
	tagID := b.AnnotatedTag("v1", child, "tagged\n")

	repo, err := git.Open("r.git", git.WithFilesystem(fs))
	require.NoError(t, err)

	t.Run("commit", func(t *testing.T) {
		c, err := repo.ReadCommit(ctx, child)
		require.NoError(t, err)
		assert.Equal(t, child, c.ID)
		assert.Equal(t, []git.Hash{root}, c.Parents)
		assert.Equal(t, "child", c.Summary())
		assert.Equal(t, testutil.TestAuthor, c.Author.Name)
		assert.Equal(t, testutil.Epoch.Add(time.Minute).Unix(), c.Committer.When.Unix())
	})

	t.Run("tree", func(t *testing.T) {
		c, err := repo.ReadCommit(ctx, child)
		require.NoError(t, err)
		tree, err := repo.ReadTree(ctx, c.Tree)
		require.NoError(t, err)

		names := make([]string, 0, len(tree.Entries))
		for _, e := range tree.Entries {
			names = append(names, e.Name)
		}
		assert.Equal(t, []string{"a.txt", "run.sh", "src"}, names)
		assert.Equal(t, git.ModeExecutable, tree.Entries[1].Mode)
		assert.True(t, tree.Entries[2].Mode.IsDir())
	})

	t.Run("blob", func(t *testing.T) {
		c, err := repo.ReadCommit(ctx, root)
		require.NoError(t, err)
		tree, err := repo.ReadTree(ctx, c.Tree)
		require.NoError(t, err)

		blob, err := repo.ReadBlob(ctx, tree.Entries[0].ID)
		require.NoError(t, err)
		assert.EqualValues(t, 4, blob.Size)
		assert.Equal(t, "one\n", readAll(t, blob))
	})

	t.Run("tag", func(t *testing.T) {
		tag, err := repo.ReadTag(ctx, tagID)
		require.NoError(t, err)
		assert.Equal(t, "v1", tag.Name)
		assert.Equal(t, child, tag.Target)
		assert.Equal(t, git.ObjectCommit, tag.TargetType)
		assert.Equal(t, "tagged", tag.Message)
	})

	t.Run("missing object", func(t *testing.T) {
		missing, _ := git.ParseHash("0000000000000000000000000000000000000001")
		_, err := repo.ReadCommit(ctx, missing)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("corrupt object", func(t *testing.T) {
		broken := b.Commit("broken", nil, child)
		b.CorruptObject(broken)

		fresh, err := git.Open("r.git", git.WithFilesystem(fs))
		require.NoError(t, err)
		_, err = fresh.ReadCommit(ctx, broken)
		require.Error(t, err)
		assert.False(t, errors.IsNotFound(err))
	})
}
