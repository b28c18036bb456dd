package store

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
)

// logKeySize is the size of a commit log key: inverted time then id.
const logKeySize = 8 + git.HashSize

// Cursor marks the last commit a page returned. The next page starts
// strictly after it, so commits indexed between two fetches never shift a
// page boundary.
type Cursor struct {
	Time int64
	ID   git.Hash
}

// IsZero reports whether c is the start-of-log cursor.
func (c Cursor) IsZero() bool {
	return c.Time == 0 && c.ID.IsZero()
}

// String returns the opaque form handed to clients. The zero cursor encodes
// as the empty string.
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(logKey(c.Time, c.ID))
}

// CursorAt returns the cursor of c's position in a commit log.
func CursorAt(c Commit) Cursor {
	return Cursor{Time: unixOrZero(c.Committer.When), ID: c.ID}
}

// Before reports whether c comes before o in log order: newer first, equal
// times by ascending id.
func (c Cursor) Before(o Cursor) bool {
	return bytes.Compare(logKey(c.Time, c.ID), logKey(o.Time, o.ID)) < 0
}

// ParseCursor decodes a cursor produced by Cursor.String.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != logKeySize {
		return Cursor{}, errors.New(errors.CodeInvalidInput, "malformed cursor")
	}
	return cursorFromKey(raw), nil
}

// logKey orders commits newest first, ties broken by ascending id. Flipping
// the sign bit makes signed times sort as unsigned; inverting every bit then
// reverses the order.
func logKey(unix int64, id git.Hash) []byte {
	key := make([]byte, logKeySize)
	binary.BigEndian.PutUint64(key, ^(uint64(unix) ^ (1 << 63)))
	copy(key[8:], id[:])
	return key
}

func cursorFromKey(key []byte) Cursor {
	inverted := binary.BigEndian.Uint64(key)
	return Cursor{
		Time: int64(^inverted ^ (1 << 63)),
		ID:   readHash(key[8:]),
	}
}

// pageCursor is the opaque cursor for repository listings: the last path
// returned. The leading slash keeps the root repository's empty path
// distinct from no cursor at all.
func pageCursor(path string) string {
	return base64.RawURLEncoding.EncodeToString([]byte("/" + path))
}

// parsePageCursor returns the path to resume after and whether there is
// one.
func parsePageCursor(s string) (string, bool, error) {
	if s == "" {
		return "", false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) == 0 || raw[0] != '/' {
		return "", false, errors.New(errors.CodeInvalidInput, "malformed cursor")
	}
	return string(raw[1:]), true, nil
}
