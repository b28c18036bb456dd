package content

import (
	"context"
	"io"

	"github.com/go-git/go-git/v5/utils/binary"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
)

// Blob is a file at a path in a commit. Content is streamed through Open.
type Blob struct {
	Path   string
	Mode   git.Mode
	ID     git.Hash
	Size   int64
	Binary bool

	repo string
	blob *git.Blob
}

// Open returns a reader over the blob content. The caller must close it.
func (b *Blob) Open() (io.ReadCloser, error) {
	return b.blob.Open()
}

// Read returns the whole content of b, admitted like any other object read.
// A positive limit rejects blobs larger than it with CodeInvalidInput.
func (l *Loader) Read(ctx context.Context, b *Blob, limit int64) ([]byte, error) {
	if limit > 0 && b.Size > limit {
		return nil, errors.WithContext(
			errors.Newf(errors.CodeInvalidInput, "blob is %d bytes, limit is %d", b.Size, limit),
			"path", b.Path)
	}

	var data []byte
	err := l.admit(ctx, func(context.Context) error {
		var err error
		data, err = readAll(b.blob)
		return err
	})
	return data, l.report(b.repo, err)
}

// Blob returns the file at p in commit. Directories and submodules are
// NotFound. Binary content is flagged, not refused.
func (l *Loader) Blob(ctx context.Context, repoPath string, commit git.Hash, p string) (*Blob, error) {
	p = cleanPath(p)

	var out *Blob
	err := l.do(ctx, repoPath, func(ctx context.Context, repo git.Repository) error {
		entry, err := lookup(ctx, repo, commit, p)
		if err != nil {
			return err
		}
		if !entry.Mode.IsFile() {
			return errors.WithContext(errors.New(errors.CodeNotFound, "not a file"), "path", p)
		}

		blob, err := repo.ReadBlob(ctx, entry.ID)
		if err != nil {
			return err
		}
		bin, err := isBinary(blob)
		if err != nil {
			return err
		}

		out = &Blob{Path: p, Mode: entry.Mode, ID: entry.ID, Size: blob.Size, Binary: bin, repo: repoPath, blob: blob}
		return nil
	})
	return out, err
}

// isBinary sniffs the start of the blob the way git does: a NUL byte in the
// first 8000 bytes.
func isBinary(blob *git.Blob) (bool, error) {
	rc, err := blob.Open()
	if err != nil {
		return false, err
	}
	defer rc.Close()

	bin, err := binary.IsBinary(rc)
	if err != nil {
		return false, errors.Wrap(err, errors.CodeCorrupt, "read blob "+blob.ID.String())
	}
	return bin, nil
}

func readAll(blob *git.Blob) ([]byte, error) {
	rc, err := blob.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCorrupt, "read blob "+blob.ID.String())
	}
	return data, nil
}
