package content

import (
	"archive/tar"
	"context"
	"io"
	"path"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
)

// Snapshot writes the tree of commit to w as a gzipped tarball with every
// entry under prefix, normally "<name>". Entry times are the committer time,
// so a commit always yields the same archive.
//
// Unlike the other loader calls Snapshot runs on the caller's goroutine
// because it writes to w. It still holds a semaphore slot while reading.
func (l *Loader) Snapshot(ctx context.Context, repoPath string, commit git.Hash, prefix string, w io.Writer) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	repo, err := l.opener.Open(ctx, repoPath)
	if err != nil {
		return l.report(repoPath, err)
	}
	return l.report(repoPath, writeSnapshot(ctx, repo, commit, cleanPath(prefix), w))
}

func writeSnapshot(ctx context.Context, repo git.Repository, commit git.Hash, prefix string, w io.Writer) error {
	c, err := repo.ReadCommit(ctx, commit)
	if err != nil {
		return err
	}

	gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "create gzip writer")
	}
	a := &archiver{repo: repo, tw: tar.NewWriter(gz), mtime: c.Committer.When}

	if prefix != "" {
		if err := a.header(prefix+"/", tar.TypeDir, 0o755, 0, ""); err != nil {
			return err
		}
	}
	if err := a.tree(ctx, c.Tree, prefix); err != nil {
		return err
	}

	if err := a.tw.Close(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "finish tar stream")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "finish gzip stream")
	}
	return nil
}

type archiver struct {
	repo  git.Repository
	tw    *tar.Writer
	mtime time.Time
}

func (a *archiver) tree(ctx context.Context, id git.Hash, dir string) error {
	tree, err := a.repo.ReadTree(ctx, id)
	if err != nil {
		return err
	}

	for _, e := range tree.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := path.Join(dir, e.Name)

		switch {
		case e.Mode.IsDir():
			if err := a.header(name+"/", tar.TypeDir, 0o755, 0, ""); err != nil {
				return err
			}
			if err := a.tree(ctx, e.ID, name); err != nil {
				return err
			}
		case e.Mode == git.ModeSubmodule:
			// Submodule contents live in another repository.
			if err := a.header(name+"/", tar.TypeDir, 0o755, 0, ""); err != nil {
				return err
			}
		default:
			if err := a.file(ctx, e, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *archiver) file(ctx context.Context, e git.TreeEntry, name string) error {
	blob, err := a.repo.ReadBlob(ctx, e.ID)
	if err != nil {
		return err
	}

	if e.Mode == git.ModeSymlink {
		target, err := readAll(blob)
		if err != nil {
			return err
		}
		return a.header(name, tar.TypeSymlink, 0o777, 0, string(target))
	}

	var mode int64 = 0o644
	if e.Mode == git.ModeExecutable {
		mode = 0o755
	}
	if err := a.header(name, tar.TypeReg, mode, blob.Size, ""); err != nil {
		return err
	}

	rc, err := blob.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if _, err := io.Copy(a.tw, rc); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "write "+name)
	}
	return nil
}

func (a *archiver) header(name string, typ byte, mode, size int64, link string) error {
	err := a.tw.WriteHeader(&tar.Header{
		Typeflag: typ,
		Name:     name,
		Linkname: link,
		Mode:     mode,
		Size:     size,
		ModTime:  a.mtime,
		Format:   tar.FormatPAX,
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "write header for "+name)
	}
	return nil
}
