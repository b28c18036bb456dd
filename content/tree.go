package content

import (
	"cmp"
	"context"
	"path"
	"slices"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
)

// TreeEntry is one row of a directory listing.
type TreeEntry struct {
	Name string
	// Path is relative to the repository root.
	Path string
	Mode git.Mode
	ID   git.Hash
	// Size is the blob size in bytes. Directories and submodules report 0.
	Size int64
}

// Tree lists the directory at p in commit, directories first and then by
// name. A path naming a file is NotFound.
func (l *Loader) Tree(ctx context.Context, repoPath string, commit git.Hash, p string) ([]TreeEntry, error) {
	p = cleanPath(p)

	var entries []TreeEntry
	err := l.do(ctx, repoPath, func(ctx context.Context, repo git.Repository) error {
		dir, err := lookup(ctx, repo, commit, p)
		if err != nil {
			return err
		}
		if !dir.Mode.IsDir() {
			return errors.WithContext(errors.New(errors.CodeNotFound, "not a directory"), "path", p)
		}

		tree, err := repo.ReadTree(ctx, dir.ID)
		if err != nil {
			return err
		}

		entries = make([]TreeEntry, 0, len(tree.Entries))
		for _, e := range tree.Entries {
			entry := TreeEntry{Name: e.Name, Path: path.Join(p, e.Name), Mode: e.Mode, ID: e.ID}
			if e.Mode.IsFile() {
				blob, err := repo.ReadBlob(ctx, e.ID)
				if err != nil {
					return err
				}
				entry.Size = blob.Size
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b TreeEntry) int {
		if a.Mode.IsDir() != b.Mode.IsDir() {
			if a.Mode.IsDir() {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return entries, nil
}
