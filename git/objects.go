package git

import (
	"context"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ReadCommit reads the commit id.
func (r *BareRepository) ReadCommit(ctx context.Context, id Hash) (*Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := r.repo.CommitObject(plumbing.Hash(id))
	if err != nil {
		return nil, wrapError(err, "failed to read commit "+id.String())
	}

	parents := make([]Hash, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = Hash(p)
	}

	return &Commit{
		ID:        id,
		Tree:      Hash(c.TreeHash),
		Parents:   parents,
		Author:    signature(c.Author),
		Committer: signature(c.Committer),
		Message:   c.Message,
	}, nil
}

// ReadTree reads the tree id. Entries keep git's stored order.
func (r *BareRepository) ReadTree(ctx context.Context, id Hash) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := r.repo.TreeObject(plumbing.Hash(id))
	if err != nil {
		return nil, wrapError(err, "failed to read tree "+id.String())
	}

	entries := make([]TreeEntry, len(t.Entries))
	for i, e := range t.Entries {
		entries[i] = TreeEntry{
			Name: e.Name,
			Mode: Mode(e.Mode),
			ID:   Hash(e.Hash),
		}
	}
	return &Tree{ID: id, Entries: entries}, nil
}

// ReadBlob reads the blob id. Content is not loaded until Blob.Open.
func (r *BareRepository) ReadBlob(ctx context.Context, id Hash) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := r.repo.BlobObject(plumbing.Hash(id))
	if err != nil {
		return nil, wrapError(err, "failed to read blob "+id.String())
	}

	return NewBlob(id, b.Size, func() (io.ReadCloser, error) {
		rc, err := b.Reader()
		if err != nil {
			return nil, wrapError(err, "failed to open blob "+id.String())
		}
		return rc, nil
	}), nil
}

// ReadTag reads the annotated tag object id.
func (r *BareRepository) ReadTag(ctx context.Context, id Hash) (*Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := r.repo.TagObject(plumbing.Hash(id))
	if err != nil {
		return nil, wrapError(err, "failed to read tag "+id.String())
	}

	return &Tag{
		ID:         id,
		Name:       t.Name,
		Target:     Hash(t.Target),
		TargetType: objectType(t.TargetType),
		Tagger:     signature(t.Tagger),
		Message:    strings.TrimRight(t.Message, "\n"),
	}, nil
}

func signature(s object.Signature) Signature {
	return Signature{Name: s.Name, Email: s.Email, When: s.When}
}

func objectType(t plumbing.ObjectType) ObjectType {
	switch t {
	case plumbing.CommitObject:
		return ObjectCommit
	case plumbing.TreeObject:
		return ObjectTree
	case plumbing.BlobObject:
		return ObjectBlob
	case plumbing.TagObject:
		return ObjectTag
	default:
		return ObjectInvalid
	}
}
