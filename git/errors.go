package git

import (
	"compress/zlib"
	stderrors "errors"
	"fmt"
	"io"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/objfile"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem/dotgit"

	"github.com/jmgilman/gitweb/errors"
)

// wrapError classifies err and prefixes it with context. The original error
// stays in the chain. Returns nil if err is nil.
func wrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, classifyError(err))
}

// classifyError maps go-git errors to gitweb error codes. Errors that are
// already coded, and errors it does not recognize, pass through unchanged.
//
//nolint:cyclop // flat mapping table
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var coded errors.Error
	if stderrors.As(err, &coded) {
		return err
	}

	switch {
	case stderrors.Is(err, gogit.ErrRepositoryNotExists):
		return errors.Wrap(err, errors.CodeNotFound, "repository does not exist")
	case stderrors.Is(err, plumbing.ErrReferenceNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "reference not found")
	case stderrors.Is(err, plumbing.ErrObjectNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "object not found")
	case stderrors.Is(err, object.ErrFileNotFound),
		stderrors.Is(err, object.ErrDirectoryNotFound),
		stderrors.Is(err, object.ErrEntryNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "path not found")
	case stderrors.Is(err, object.ErrParentNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "parent commit not found")

	case stderrors.Is(err, plumbing.ErrInvalidType),
		stderrors.Is(err, object.ErrUnsupportedObject),
		stderrors.Is(err, object.ErrMaxTreeDepth),
		stderrors.Is(err, object.ErrEntriesNotSorted):
		return errors.Wrap(err, errors.CodeCorrupt, "malformed object")
	case stderrors.Is(err, objfile.ErrHeader),
		stderrors.Is(err, objfile.ErrNegativeSize),
		stderrors.Is(err, zlib.ErrHeader),
		stderrors.Is(err, zlib.ErrChecksum),
		stderrors.Is(err, zlib.ErrDictionary),
		stderrors.Is(err, io.ErrUnexpectedEOF):
		return errors.Wrap(err, errors.CodeCorrupt, "object data is damaged")
	case stderrors.Is(err, packfile.ErrInvalidObject),
		stderrors.Is(err, packfile.ErrZLib),
		stderrors.Is(err, packfile.ErrInvalidDelta),
		stderrors.Is(err, packfile.ErrBadSignature),
		stderrors.Is(err, packfile.ErrReferenceDeltaNotFound):
		return errors.Wrap(err, errors.CodeCorrupt, "packfile is damaged")
	case stderrors.Is(err, dotgit.ErrPackedRefsBadFormat),
		stderrors.Is(err, dotgit.ErrEmptyRefFile):
		return errors.Wrap(err, errors.CodeCorrupt, "reference storage is damaged")
	}

	// AddDetails builds a fresh *packfile.Error, so the sentinels above only
	// match the bare values. Loose object inflate failures arrive this way.
	var pe *packfile.Error
	if stderrors.As(err, &pe) {
		return errors.Wrap(err, errors.CodeCorrupt, "object data is damaged")
	}

	return err
}
