package git

import (
	"context"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/jmgilman/gitweb/errors"
)

// maxPeelDepth bounds tag-of-tag chains.
const maxPeelDepth = 16

// Head returns the ref HEAD points at without resolving it, so a freshly
// initialized repository still reports its unborn default branch.
func (r *BareRepository) Head(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref, err := r.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", wrapError(err, "failed to read HEAD")
	}
	if ref.Type() == plumbing.SymbolicReference {
		return ref.Target().String(), nil
	}
	// Detached HEAD has no branch to report.
	return "", nil
}

// References lists branches and tags sorted by name. Symbolic branches are
// resolved; remote-tracking refs, notes and other namespaces are skipped.
//
// A tag whose target cannot be peeled to a commit is still returned with a
// zero Commit so the caller can record it.
func (r *BareRepository) References(ctx context.Context) ([]Ref, error) {
	iter, err := r.repo.References()
	if err != nil {
		return nil, wrapError(err, "failed to list references")
	}
	defer iter.Close()

	var refs []Ref
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := ref.Name()
		var kind RefKind
		switch {
		case name.IsBranch():
			kind = RefBranch
		case name.IsTag():
			kind = RefTag
		default:
			return nil
		}

		if ref.Type() == plumbing.SymbolicReference {
			resolved, err := storer.ResolveReference(r.repo.Storer, name)
			if err != nil {
				// Dangling symbolic refs are not an error worth failing over.
				return nil
			}
			ref = resolved
		}

		target := Hash(ref.Hash())
		commit, err := r.peel(target)
		if err != nil && !errors.IsNotFound(err) {
			return err
		}

		refs = append(refs, Ref{
			Name:   name.String(),
			Kind:   kind,
			Target: target,
			Commit: commit,
		})
		return nil
	})
	if err != nil {
		return nil, wrapError(err, "failed to iterate references")
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// ResolveRef resolves name to a commit id. It accepts HEAD, full ref names
// and short branch or tag names, preferring branches on a clash.
func (r *BareRepository) ResolveRef(ctx context.Context, name string) (Hash, error) {
	if err := ctx.Err(); err != nil {
		return ZeroHash, err
	}

	candidates := []plumbing.ReferenceName{plumbing.ReferenceName(name)}
	if name != plumbing.HEAD.String() && !strings.HasPrefix(name, "refs/") {
		candidates = []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(name),
			plumbing.NewTagReferenceName(name),
		}
	}

	for _, candidate := range candidates {
		ref, err := storer.ResolveReference(r.repo.Storer, candidate)
		if err != nil {
			if errors.Is(err, plumbing.ErrReferenceNotFound) {
				continue
			}
			return ZeroHash, wrapError(err, "failed to resolve "+name)
		}

		commit, err := r.peel(Hash(ref.Hash()))
		if err != nil {
			return ZeroHash, err
		}
		if commit.IsZero() {
			return ZeroHash, errors.Newf(errors.CodeNotFound, "%s does not point at a commit", name)
		}
		return commit, nil
	}

	return ZeroHash, errors.Newf(errors.CodeNotFound, "reference %s not found", name)
}

// peel follows annotated tags until it reaches a non-tag object. It returns
// the commit id, or ZeroHash when the chain ends at a tree or blob.
func (r *BareRepository) peel(id Hash) (Hash, error) {
	for range maxPeelDepth {
		obj, err := r.repo.Object(plumbing.AnyObject, plumbing.Hash(id))
		if err != nil {
			return ZeroHash, wrapError(err, "failed to read "+id.String())
		}

		switch o := obj.(type) {
		case *object.Commit:
			return id, nil
		case *object.Tag:
			id = Hash(o.Target)
		default:
			return ZeroHash, nil
		}
	}
	return ZeroHash, errors.Newf(errors.CodeCorrupt, "tag chain from %s is too deep", id)
}
