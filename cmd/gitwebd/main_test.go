package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/gitweb/git/testutil"
	"github.com/jmgilman/gitweb/store"
)

func TestRepoArg(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: ".", want: ""},
		{in: "/", want: ""},
		{in: "project.git", want: "project.git"},
		{in: "team/project.git/", want: "team/project.git"},
		{in: "./team//project.git", want: "team/project.git"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, repoArg(tt.in))
		})
	}
}

// execute runs the root command and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	scanRoot := t.TempDir()
	dbDir := t.TempDir()

	repo := testutil.NewBareRepo(t, osfs.New(scanRoot), "project.git")
	first := repo.Commit("initial import", map[string]string{
		"README.md": "# Project\n",
		"main.go":   "package main\n",
	})
	second := repo.Commit("add notes", map[string]string{
		"README.md": "# Project\n",
		"main.go":   "package main\n",
		"notes.txt": "hello\n",
	}, first)
	repo.SetBranch("main", second)

	cfgPath := filepath.Join(t.TempDir(), "gitweb.toml")
	cfg := fmt.Sprintf("scan_root = %q\ndb_path = %q\ninterval = \"disabled\"\n\n[log]\nlevel = \"error\"\n", scanRoot, dbDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	run := func(t *testing.T, args ...string) string {
		t.Helper()
		out, err := execute(t, append([]string{"--config", cfgPath}, args...)...)
		require.NoError(t, err)
		return out
	}

	t.Run("reads before the first index", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, "repos")
		require.Error(t, err)
		assert.Equal(t, 4, exitCode(err))
		_, statErr := os.Stat(filepath.Join(dbDir, store.FileName))
		assert.True(t, os.IsNotExist(statErr), "a read command does not create the database")
	})

	out := run(t, "index")
	assert.Contains(t, out, "found 1 (+1 -0), indexed 1, changed 1")

	t.Run("repos", func(t *testing.T) {
		out := run(t, "repos")
		assert.Contains(t, out, "project.git")
		assert.Contains(t, out, "main")
	})

	t.Run("log", func(t *testing.T) {
		out := run(t, "log", "project.git")
		assert.Contains(t, out, second.Short())
		assert.Contains(t, out, "add notes")
		assert.Contains(t, out, "initial import")
	})

	t.Run("show", func(t *testing.T) {
		out := run(t, "show", "project.git")
		assert.Contains(t, out, "commit "+second.String())
		assert.Contains(t, out, "diff --git a/notes.txt b/notes.txt")
		assert.Contains(t, out, "+hello")
	})

	t.Run("tree", func(t *testing.T) {
		out := run(t, "tree", "project.git")
		assert.Contains(t, out, "notes.txt")
		assert.Contains(t, out, "README.md")
	})

	t.Run("cat", func(t *testing.T) {
		assert.Equal(t, "hello\n", run(t, "cat", "project.git", "main", "notes.txt"))
	})

	t.Run("readme", func(t *testing.T) {
		assert.Contains(t, run(t, "readme", "project.git"), "<h1")
	})

	t.Run("unknown repository", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, "refs", "missing.git")
		require.Error(t, err)
		assert.Equal(t, 2, exitCode(err))
	})
}
