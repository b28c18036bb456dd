package git

import (
	"context"
	"io"
)

// Repository is the read-only capability set the core needs from a git
// backend. Implementations must be safe for concurrent use.
type Repository interface {
	// Path returns the path the repository was opened with.
	Path() string

	// Head returns the full name of the ref HEAD points at, e.g.
	// refs/heads/main, without requiring that ref to exist.
	Head(ctx context.Context) (string, error)

	// References lists branches and tags, each peeled to its commit.
	References(ctx context.Context) ([]Ref, error)

	// ResolveRef resolves a full or short ref name, or HEAD, to a commit id.
	ResolveRef(ctx context.Context, name string) (Hash, error)

	// ReadCommit reads a commit object.
	ReadCommit(ctx context.Context, id Hash) (*Commit, error)

	// ReadTree reads a tree object.
	ReadTree(ctx context.Context, id Hash) (*Tree, error)

	// ReadBlob reads blob metadata. The content is streamed through Blob.Open.
	ReadBlob(ctx context.Context, id Hash) (*Blob, error)

	// ReadTag reads an annotated tag object.
	ReadTag(ctx context.Context, id Hash) (*Tag, error)

	// DiffTrees returns the file-level changes between two trees. ZeroHash on
	// either side stands for the empty tree.
	DiffTrees(ctx context.Context, from, to Hash) ([]Change, error)
}

// Opener opens repositories by path.
type Opener interface {
	Open(ctx context.Context, path string) (Repository, error)
}

// Blob is a blob object whose content is read on demand.
type Blob struct {
	ID   Hash
	Size int64

	open func() (io.ReadCloser, error)
}

// NewBlob returns a Blob whose content is produced by open. It lets
// alternative Repository implementations and tests build blobs.
func NewBlob(id Hash, size int64, open func() (io.ReadCloser, error)) *Blob {
	return &Blob{ID: id, Size: size, open: open}
}

// Open returns a reader over the blob content. The caller must close it.
func (b *Blob) Open() (io.ReadCloser, error) {
	return b.open()
}
