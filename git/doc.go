// Package git is the read-only object access layer used by the indexer and
// the content loader.
//
// The rest of gitweb never talks to go-git directly. It depends on the
// Repository interface, which exposes only what the core needs:
//
//   - opening a bare repository by path
//   - enumerating and resolving refs
//   - reading commits, trees, blobs and annotated tags by id
//   - a structural diff between two trees
//
// BareRepository implements Repository on top of go-git. All I/O goes through
// a go-billy filesystem, so tests run against memfs and production runs
// against osfs rooted at the scan root.
//
// # Opening repositories
//
// Open opens a single repository:
//
//	repo, err := git.Open("/srv/git/project.git")
//
// FSOpener opens repositories relative to a shared root and is what the
// indexer and content loader are handed:
//
//	opener := git.NewOpener(osfs.New("/srv/git"))
//	repo, err := opener.Open(ctx, "team/project.git")
//
// # Errors
//
// go-git sentinel errors are classified into gitweb error codes: missing
// repositories, refs, paths and objects become CodeNotFound, and decode or
// integrity failures become CodeCorrupt. Use errors.IsNotFound and
// errors.IsCorrupt from github.com/jmgilman/gitweb/errors to inspect them.
package git
