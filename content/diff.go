package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/jmgilman/gitweb/git"
)

// ContextLines is the number of unchanged lines kept around each change.
const ContextLines = 3

// LineKind marks a diff line as context, added or deleted.
type LineKind int

// Diff line kinds.
const (
	LineContext LineKind = iota
	LineAdded
	LineDeleted
)

// Line is one line of a hunk, without its trailing newline.
type Line struct {
	Kind LineKind
	Text string
}

// Hunk is a run of changes with surrounding context. Starts are 1-based;
// an empty side starts at the line before it, as in unified diff headers.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
	Lines              []Line
}

// FileDiff is the change to one file.
type FileDiff struct {
	Action  git.ChangeAction
	OldPath string
	NewPath string
	OldMode git.Mode
	NewMode git.Mode
	OldID   git.Hash
	NewID   git.Hash

	// Binary is set when either side is binary. No hunks are computed.
	Binary bool
	// Oversize is set when either side exceeds the loader's diff limit.
	Oversize bool

	Additions int
	Deletions int
	Hunks     []Hunk
}

// Path returns the path after the change, or before it for deletions.
func (f *FileDiff) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// Diff is the change a commit introduces relative to its first parent.
type Diff struct {
	Commit git.Hash
	// Parent is zero for a root commit, which is diffed against the empty
	// tree.
	Parent git.Hash
	Files  []FileDiff
}

// Stats sums the per-file counts.
func (d *Diff) Stats() (files, additions, deletions int) {
	for i := range d.Files {
		additions += d.Files[i].Additions
		deletions += d.Files[i].Deletions
	}
	return len(d.Files), additions, deletions
}

// Diff computes the change commit introduces: a tree diff against its first
// parent, then a line diff of every changed text file.
func (l *Loader) Diff(ctx context.Context, repoPath string, commit git.Hash) (*Diff, error) {
	var out *Diff
	err := l.do(ctx, repoPath, func(ctx context.Context, repo git.Repository) error {
		c, err := repo.ReadCommit(ctx, commit)
		if err != nil {
			return err
		}

		d := &Diff{Commit: commit}
		var fromTree git.Hash
		if len(c.Parents) > 0 {
			d.Parent = c.Parents[0]
			parent, err := repo.ReadCommit(ctx, d.Parent)
			if err != nil {
				return err
			}
			fromTree = parent.Tree
		}

		changes, err := repo.DiffTrees(ctx, fromTree, c.Tree)
		if err != nil {
			return err
		}

		d.Files = make([]FileDiff, 0, len(changes))
		for _, ch := range changes {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := l.fileDiff(ctx, repo, ch)
			if err != nil {
				return err
			}
			d.Files = append(d.Files, f)
		}
		out = d
		return nil
	})
	return out, err
}

func (l *Loader) fileDiff(ctx context.Context, repo git.Repository, ch git.Change) (FileDiff, error) {
	f := FileDiff{
		Action:  ch.Action,
		OldPath: ch.From.Path,
		NewPath: ch.To.Path,
		OldMode: ch.From.Mode,
		NewMode: ch.To.Mode,
		OldID:   ch.From.ID,
		NewID:   ch.To.ID,
	}

	oldText, err := l.side(ctx, repo, ch.From, &f)
	if err != nil {
		return FileDiff{}, err
	}
	newText, err := l.side(ctx, repo, ch.To, &f)
	if err != nil {
		return FileDiff{}, err
	}
	if f.Binary || f.Oversize {
		return f, nil
	}

	ops := lineOps(diff.Do(oldText, newText))
	for _, op := range ops {
		switch op.Kind {
		case LineAdded:
			f.Additions++
		case LineDeleted:
			f.Deletions++
		}
	}
	f.Hunks = hunks(ops, ContextLines)
	return f, nil
}

// side loads one side of a change as text, flagging f when it cannot be
// line diffed. A missing side is empty.
func (l *Loader) side(ctx context.Context, repo git.Repository, e git.ChangeEntry, f *FileDiff) (string, error) {
	if e.Path == "" {
		return "", nil
	}
	if e.Mode == git.ModeSubmodule {
		return fmt.Sprintf("Subproject commit %s\n", e.ID), nil
	}

	blob, err := repo.ReadBlob(ctx, e.ID)
	if err != nil {
		return "", err
	}
	if blob.Size > l.maxDiffBytes {
		f.Oversize = true
		return "", nil
	}
	bin, err := isBinary(blob)
	if err != nil {
		return "", err
	}
	if bin {
		f.Binary = true
		return "", nil
	}
	data, err := readAll(blob)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// lineOps splits line-mode diff chunks into one op per line.
func lineOps(chunks []diffmatchpatch.Diff) []Line {
	var ops []Line
	for _, c := range chunks {
		kind := LineContext
		switch c.Type {
		case diffmatchpatch.DiffInsert:
			kind = LineAdded
		case diffmatchpatch.DiffDelete:
			kind = LineDeleted
		}
		text := strings.TrimSuffix(c.Text, "\n")
		if c.Text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			ops = append(ops, Line{Kind: kind, Text: line})
		}
	}
	return ops
}

// hunks groups ops into hunks with context lines on either side. Changes
// separated by more than twice the context share no hunk.
func hunks(ops []Line, ctxLines int) []Hunk {
	// Line numbers before each op, 0-based.
	oldAt := make([]int, len(ops)+1)
	newAt := make([]int, len(ops)+1)
	for i, op := range ops {
		oldAt[i+1], newAt[i+1] = oldAt[i], newAt[i]
		if op.Kind != LineAdded {
			oldAt[i+1]++
		}
		if op.Kind != LineDeleted {
			newAt[i+1]++
		}
	}

	var (
		out  []Hunk
		cur  *Hunk
		from int
		last = -1
	)
	closeHunk := func() {
		if cur == nil {
			return
		}
		end := min(len(ops), last+1+ctxLines)
		cur.Lines = append(cur.Lines, ops[last+1:end]...)
		cur.OldLines = oldAt[end] - oldAt[from]
		cur.NewLines = newAt[end] - newAt[from]
		cur.OldStart = oldAt[from] + 1
		if cur.OldLines == 0 {
			cur.OldStart--
		}
		cur.NewStart = newAt[from] + 1
		if cur.NewLines == 0 {
			cur.NewStart--
		}
		out = append(out, *cur)
		cur = nil
	}

	for i, op := range ops {
		if op.Kind == LineContext {
			continue
		}
		if cur != nil && i-last-1 > 2*ctxLines {
			closeHunk()
		}
		if cur == nil {
			from = max(0, i-ctxLines)
			cur = &Hunk{Lines: append([]Line(nil), ops[from:i]...)}
		} else {
			cur.Lines = append(cur.Lines, ops[last+1:i]...)
		}
		cur.Lines = append(cur.Lines, op)
		last = i
	}
	closeHunk()
	return out
}
