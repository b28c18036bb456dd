package store

import (
	"time"

	"github.com/jmgilman/gitweb/git"
)

// Repository is the indexed metadata of one bare repository.
type Repository struct {
	// ID is assigned on discovery and never reused.
	ID uint64
	// Path is relative to the scan root, slash separated.
	Path          string
	Name          string
	Description   string
	Owner         string
	DefaultBranch string
	// Generation increases by one with every batch that changed the
	// repository. Zero means discovered but not yet indexed.
	Generation   uint64
	LastModified time.Time
	IndexedAt    time.Time
}

// Indexed reports whether at least one index batch has been written.
func (r Repository) Indexed() bool {
	return r.Generation > 0
}

// Ref is an indexed branch or tag.
type Ref struct {
	Name string
	Kind git.RefKind
	// Target is the id the ref points at directly.
	Target git.Hash
	// Commit is Target peeled to a commit, zero if it is not one.
	Commit git.Hash
	// Time is the tagger time for annotated tags and the committer time of
	// Commit otherwise. Tags are listed newest first by it.
	Time      time.Time
	Annotated bool
	Tagger    git.Signature
	Message   string
}

// Commit is an indexed commit body.
type Commit struct {
	ID        git.Hash
	Tree      git.Hash
	Parents   []git.Hash
	Author    git.Signature
	Committer git.Signature
	Message   string
}

// FromGit converts a commit read through git access.
func FromGit(c *git.Commit) Commit {
	return Commit{
		ID:        c.ID,
		Tree:      c.Tree,
		Parents:   c.Parents,
		Author:    c.Author,
		Committer: c.Committer,
		Message:   c.Message,
	}
}

// Summary returns the first line of the message.
func (c Commit) Summary() string {
	g := git.Commit{Message: c.Message}
	return g.Summary()
}
