// Package testutil builds bare repositories for tests without a working tree
// or the git CLI. Objects and refs are written straight into go-git storage,
// usually on a memfs filesystem, with a deterministic clock so commit order
// is predictable.
package testutil

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/jmgilman/gitweb/git"
)

// Identity used for every object the builder writes.
const (
	TestAuthor = "Test User"
	TestEmail  = "test@example.com"
)

// Epoch is the timestamp of the first commit a Repo writes. Each further
// commit is one minute later.
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Repo is a bare repository under construction.
type Repo struct {
	tb    testing.TB
	fs    billy.Filesystem
	path  string
	repo  *gogit.Repository
	clock time.Time
}

// NewBareRepo initializes a bare repository at repoPath inside root, with
// HEAD pointing at refs/heads/main.
func NewBareRepo(tb testing.TB, root billy.Filesystem, repoPath string) *Repo {
	tb.Helper()

	if err := root.MkdirAll(repoPath, 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", repoPath, err)
	}
	scoped, err := root.Chroot(repoPath)
	if err != nil {
		tb.Fatalf("chroot %s: %v", repoPath, err)
	}

	storage := filesystem.NewStorage(scoped, cache.NewObjectLRUDefault())
	repo, err := gogit.InitWithOptions(storage, nil, gogit.InitOptions{
		DefaultBranch: plumbing.NewBranchReferenceName("main"),
	})
	if err != nil {
		tb.Fatalf("init %s: %v", repoPath, err)
	}

	return &Repo{tb: tb, fs: scoped, path: repoPath, repo: repo, clock: Epoch}
}

// Path returns the repository path relative to the root it was created in.
func (r *Repo) Path() string { return r.path }

// Filesystem returns the filesystem scoped to the repository directory.
func (r *Repo) Filesystem() billy.Filesystem { return r.fs }

// Commit writes a commit whose tree holds files, keyed by slash separated
// path. The commit time is the builder clock, which then advances a minute.
func (r *Repo) Commit(message string, files map[string]string, parents ...git.Hash) git.Hash {
	r.tb.Helper()
	when := r.clock
	r.clock = r.clock.Add(time.Minute)
	return r.CommitAt(when, message, files, parents...)
}

// CommitAt is Commit with an explicit timestamp. The builder clock is not
// touched.
func (r *Repo) CommitAt(when time.Time, message string, files map[string]string, parents ...git.Hash) git.Hash {
	r.tb.Helper()

	sig := object.Signature{Name: TestAuthor, Email: TestEmail, When: when}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  r.writeTree(files),
	}
	for _, p := range parents {
		commit.ParentHashes = append(commit.ParentHashes, plumbing.Hash(p))
	}

	return git.Hash(r.store(commit))
}

// Chain writes n linear commits on top of parent (which may be zero) and
// points branch at the last one. It returns the ids oldest first.
func (r *Repo) Chain(branch string, parent git.Hash, n int) []git.Hash {
	r.tb.Helper()

	ids := make([]git.Hash, 0, n)
	for i := range n {
		files := map[string]string{"file.txt": fmt.Sprintf("%s revision %d\n", branch, i)}
		var id git.Hash
		if parent.IsZero() {
			id = r.Commit(fmt.Sprintf("%s %d", branch, i), files)
		} else {
			id = r.Commit(fmt.Sprintf("%s %d", branch, i), files, parent)
		}
		ids = append(ids, id)
		parent = id
	}
	r.SetBranch(branch, parent)
	return ids
}

// SetBranch points refs/heads/name at id.
func (r *Repo) SetBranch(name string, id git.Hash) {
	r.tb.Helper()
	r.setRef(plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), plumbing.Hash(id)))
}

// DeleteBranch removes refs/heads/name.
func (r *Repo) DeleteBranch(name string) {
	r.tb.Helper()
	if err := r.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name)); err != nil {
		r.tb.Fatalf("remove branch %s: %v", name, err)
	}
}

// SetHead points HEAD at refs/heads/branch.
func (r *Repo) SetHead(branch string) {
	r.tb.Helper()
	r.setRef(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch)))
}

// LightweightTag points refs/tags/name at id.
func (r *Repo) LightweightTag(name string, id git.Hash) {
	r.tb.Helper()
	r.setRef(plumbing.NewHashReference(plumbing.NewTagReferenceName(name), plumbing.Hash(id)))
}

// AnnotatedTag writes a tag object for target, points refs/tags/name at it
// and returns the tag object id. The tagger time is the builder clock.
func (r *Repo) AnnotatedTag(name string, target git.Hash, message string) git.Hash {
	r.tb.Helper()

	when := r.clock
	r.clock = r.clock.Add(time.Minute)

	tag := &object.Tag{
		Name:       name,
		Tagger:     object.Signature{Name: TestAuthor, Email: TestEmail, When: when},
		Message:    message,
		TargetType: plumbing.CommitObject,
		Target:     plumbing.Hash(target),
	}
	id := r.store(tag)
	r.setRef(plumbing.NewHashReference(plumbing.NewTagReferenceName(name), id))
	return git.Hash(id)
}

// SetDescription writes the description file.
func (r *Repo) SetDescription(description string) {
	r.tb.Helper()
	if err := util.WriteFile(r.fs, "description", []byte(description), 0o644); err != nil {
		r.tb.Fatalf("write description: %v", err)
	}
}

// SetOwner sets gitweb.owner in the repository config.
func (r *Repo) SetOwner(owner string) {
	r.tb.Helper()

	cfg, err := r.repo.Config()
	if err != nil {
		r.tb.Fatalf("read config: %v", err)
	}
	cfg.Raw.Section("gitweb").SetOption("owner", owner)
	if err := r.repo.SetConfig(cfg); err != nil {
		r.tb.Fatalf("write config: %v", err)
	}
}

// CorruptObject overwrites the loose object file of id with garbage, so any
// later read of it fails to inflate.
func (r *Repo) CorruptObject(id git.Hash) {
	r.tb.Helper()

	hex := id.String()
	name := path.Join("objects", hex[:2], hex[2:])
	if err := util.WriteFile(r.fs, name, []byte("not a zlib stream"), 0o444); err != nil {
		r.tb.Fatalf("corrupt %s: %v", hex, err)
	}
}

func (r *Repo) setRef(ref *plumbing.Reference) {
	r.tb.Helper()
	if err := r.repo.Storer.SetReference(ref); err != nil {
		r.tb.Fatalf("set %s: %v", ref.Name(), err)
	}
}

type encoder interface {
	Encode(plumbing.EncodedObject) error
}

func (r *Repo) store(obj encoder) plumbing.Hash {
	r.tb.Helper()

	encoded := r.repo.Storer.NewEncodedObject()
	if err := obj.Encode(encoded); err != nil {
		r.tb.Fatalf("encode object: %v", err)
	}
	id, err := r.repo.Storer.SetEncodedObject(encoded)
	if err != nil {
		r.tb.Fatalf("store object: %v", err)
	}
	return id
}

func (r *Repo) writeBlob(content string) plumbing.Hash {
	r.tb.Helper()

	encoded := r.repo.Storer.NewEncodedObject()
	encoded.SetType(plumbing.BlobObject)
	encoded.SetSize(int64(len(content)))
	w, err := encoded.Writer()
	if err != nil {
		r.tb.Fatalf("blob writer: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		r.tb.Fatalf("write blob: %v", err)
	}
	if err := w.Close(); err != nil {
		r.tb.Fatalf("close blob: %v", err)
	}

	id, err := r.repo.Storer.SetEncodedObject(encoded)
	if err != nil {
		r.tb.Fatalf("store blob: %v", err)
	}
	return id
}

// writeTree writes files as nested trees and returns the root tree id.
func (r *Repo) writeTree(files map[string]string) plumbing.Hash {
	r.tb.Helper()

	blobs := make(map[string]string)
	dirs := make(map[string]map[string]string)
	for name, content := range files {
		dir, rest, nested := strings.Cut(name, "/")
		if !nested {
			blobs[name] = content
			continue
		}
		if dirs[dir] == nil {
			dirs[dir] = make(map[string]string)
		}
		dirs[dir][rest] = content
	}

	tree := &object.Tree{}
	for name, content := range blobs {
		mode := filemode.Regular
		if strings.HasSuffix(name, ".sh") {
			mode = filemode.Executable
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: mode, Hash: r.writeBlob(content)})
	}
	for name, sub := range dirs {
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: r.writeTree(sub)})
	}

	// Git orders directories as if their name ended in a slash.
	sortKey := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(tree.Entries, func(i, j int) bool {
		return sortKey(tree.Entries[i]) < sortKey(tree.Entries[j])
	})

	return r.store(tree)
}
