package content

import (
	"context"
	"path"
	"unicode/utf8"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
)

// readmeNames are tried in order at the root of the tree.
var readmeNames = []string{"README.md", "README", "README.txt"}

// Readme is a repository's readme file.
type Readme struct {
	Name     string
	ID       git.Hash
	Markdown bool
	Content  []byte
}

// Readme returns the first readme candidate at the root of commit that is a
// valid UTF-8 file. It is NotFound when there is none.
func (l *Loader) Readme(ctx context.Context, repoPath string, commit git.Hash) (*Readme, error) {
	var out *Readme
	err := l.do(ctx, repoPath, func(ctx context.Context, repo git.Repository) error {
		tree, err := rootTree(ctx, repo, commit)
		if err != nil {
			return err
		}

		for _, name := range readmeNames {
			entry, ok := findEntry(tree, name)
			if !ok || !entry.Mode.IsFile() || entry.Mode == git.ModeSymlink {
				continue
			}
			blob, err := repo.ReadBlob(ctx, entry.ID)
			if err != nil {
				return err
			}
			data, err := readAll(blob)
			if err != nil {
				return err
			}
			if !utf8.Valid(data) {
				continue
			}
			out = &Readme{
				Name:     name,
				ID:       entry.ID,
				Markdown: path.Ext(name) == ".md",
				Content:  data,
			}
			return nil
		}
		return errors.New(errors.CodeNotFound, "no readme")
	})
	return out, err
}

func findEntry(tree *git.Tree, name string) (git.TreeEntry, bool) {
	for _, e := range tree.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return git.TreeEntry{}, false
}
