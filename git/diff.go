package git

import (
	"context"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// DiffTrees returns the file-level changes turning from into to, with rename
// detection. ZeroHash on either side is the empty tree.
func (r *BareRepository) DiffTrees(ctx context.Context, from, to Hash) ([]Change, error) {
	fromTree, err := r.treeOrEmpty(from)
	if err != nil {
		return nil, err
	}
	toTree, err := r.treeOrEmpty(to)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, wrapError(err, "failed to diff trees")
	}

	out := make([]Change, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, wrapError(err, "failed to classify change")
		}

		c := Change{
			From: changeEntry(ch.From),
			To:   changeEntry(ch.To),
		}
		switch action {
		case merkletrie.Insert:
			c.Action = ChangeInsert
		case merkletrie.Delete:
			c.Action = ChangeDelete
		default:
			c.Action = ChangeModify
			if c.From.Path != c.To.Path {
				c.Action = ChangeRename
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *BareRepository) treeOrEmpty(id Hash) (*object.Tree, error) {
	if id.IsZero() {
		return nil, nil
	}
	t, err := r.repo.TreeObject(plumbing.Hash(id))
	if err != nil {
		return nil, wrapError(err, "failed to read tree "+id.String())
	}
	return t, nil
}

func changeEntry(e object.ChangeEntry) ChangeEntry {
	if e.Name == "" {
		return ChangeEntry{}
	}
	return ChangeEntry{
		Path: e.Name,
		Mode: Mode(e.TreeEntry.Mode),
		ID:   Hash(e.TreeEntry.Hash),
	}
}
