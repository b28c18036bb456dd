package git

import (
	"encoding/hex"
	"strings"
	"time"
)

// HashSize is the length in bytes of an object id.
const HashSize = 20

// Hash is a SHA-1 object id.
type Hash [HashSize]byte

// ZeroHash is the empty id. It stands for "no object", e.g. the empty tree on
// the left side of a root commit diff.
var ZeroHash Hash

// ParseHash decodes a 40 character hex id.
func ParseHash(s string) (Hash, bool) {
	var h Hash
	if len(s) != 2*HashSize {
		return h, false
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, false
	}
	return h, true
}

// String returns the hex form of the id.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first seven hex characters.
func (h Hash) Short() string {
	return h.String()[:7]
}

// IsZero reports whether h is ZeroHash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Signature identifies an author, committer or tagger.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is a decoded commit object.
type Commit struct {
	ID        Hash
	Tree      Hash
	Parents   []Hash
	Author    Signature
	Committer Signature
	Message   string
}

// Summary returns the first line of the commit message.
func (c *Commit) Summary() string {
	summary, _, _ := strings.Cut(c.Message, "\n")
	return strings.TrimSpace(summary)
}

// Mode is a git tree entry mode.
type Mode uint32

// Tree entry modes as stored by git.
const (
	ModeDir        Mode = 0o040000
	ModeRegular    Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeSymlink    Mode = 0o120000
	ModeSubmodule  Mode = 0o160000
)

// IsDir reports whether the entry is a subtree.
func (m Mode) IsDir() bool { return m == ModeDir }

// IsFile reports whether the entry points at a blob.
func (m Mode) IsFile() bool {
	return m == ModeRegular || m == ModeExecutable || m == ModeSymlink
}

// String renders the mode the way ls-tree does, e.g. "100644".
func (m Mode) String() string {
	const digits = "01234567"
	var buf [6]byte
	v := uint32(m)
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i] = digits[v&7]
		v >>= 3
	}
	return string(buf[:])
}

// TreeEntry is one entry of a tree object.
type TreeEntry struct {
	Name string
	Mode Mode
	ID   Hash
}

// Tree is a decoded tree object.
type Tree struct {
	ID      Hash
	Entries []TreeEntry
}

// ObjectType identifies the kind of object a tag points at.
type ObjectType int

// Object types a tag may target.
const (
	ObjectInvalid ObjectType = iota
	ObjectCommit
	ObjectTree
	ObjectBlob
	ObjectTag
)

// Tag is a decoded annotated tag object.
type Tag struct {
	ID         Hash
	Name       string
	Target     Hash
	TargetType ObjectType
	Tagger     Signature
	Message    string
}

// RefKind distinguishes branches from tags.
type RefKind int

// Ref kinds the indexer tracks.
const (
	RefBranch RefKind = iota + 1
	RefTag
)

// Prefixes of the ref namespaces the indexer tracks.
const (
	BranchPrefix = "refs/heads/"
	TagPrefix    = "refs/tags/"
)

// Ref is a branch or tag.
type Ref struct {
	// Name is the full ref name, e.g. refs/heads/main.
	Name string
	Kind RefKind
	// Target is the id the ref points at directly. For annotated tags this is
	// the tag object.
	Target Hash
	// Commit is Target peeled to a commit. It is zero when the ref points at
	// something other than a commit, e.g. a tagged blob.
	Commit Hash
}

// ShortName strips the refs/heads/ or refs/tags/ prefix.
func (r Ref) ShortName() string {
	return ShortRefName(r.Name)
}

// Annotated reports whether the ref is a tag pointing at a tag object.
func (r Ref) Annotated() bool {
	return r.Kind == RefTag && !r.Commit.IsZero() && r.Target != r.Commit
}

// ShortRefName strips the refs/heads/ or refs/tags/ prefix from name.
func ShortRefName(name string) string {
	if s, ok := strings.CutPrefix(name, BranchPrefix); ok {
		return s
	}
	if s, ok := strings.CutPrefix(name, TagPrefix); ok {
		return s
	}
	return name
}

// ChangeAction is the kind of a tree change.
type ChangeAction int

// Tree change kinds.
const (
	ChangeInsert ChangeAction = iota + 1
	ChangeDelete
	ChangeModify
	ChangeRename
)

// String returns a one word description of the action.
func (a ChangeAction) String() string {
	switch a {
	case ChangeInsert:
		return "added"
	case ChangeDelete:
		return "deleted"
	case ChangeModify:
		return "modified"
	case ChangeRename:
		return "renamed"
	default:
		return "unknown"
	}
}

// ChangeEntry is one side of a change. It is empty for the missing side of an
// insert or delete.
type ChangeEntry struct {
	Path string
	Mode Mode
	ID   Hash
}

// Change is one file-level difference between two trees.
type Change struct {
	Action ChangeAction
	From   ChangeEntry
	To     ChangeEntry
}

// Path returns the path after the change, or before it for deletions.
func (c Change) Path() string {
	if c.To.Path != "" {
		return c.To.Path
	}
	return c.From.Path
}
