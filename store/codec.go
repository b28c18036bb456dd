package store

import (
	"encoding/binary"
	"time"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
)

// Records are laid out as
//
//	[version u8][kind u8][fixed section][variable section]
//
// The fixed section holds ids, timestamps and counts at fixed offsets so a
// view can read them in place. The variable section is a sequence of
// length-prefixed (u32) byte strings in a fixed order. All integers are big
// endian.
const recordVersion byte = 1

type recordKind byte

const (
	kindRepository recordKind = 1
	kindRef        recordKind = 2
	kindCommit     recordKind = 3
)

const headerSize = 2

// Fixed section sizes per kind.
const (
	// id, generation, last modified, indexed at
	repoFixedSize = 8 + 8 + 8 + 8
	// ref kind, flags, target, commit, time, tz
	refFixedSize = 1 + 1 + git.HashSize + git.HashSize + 8 + 4
	// id, tree, author time, author tz, committer time, committer tz, parent count
	commitFixedSize = git.HashSize + git.HashSize + 8 + 4 + 8 + 4 + 2
)

const refFlagAnnotated byte = 1

func corrupt(kind recordKind, reason string) error {
	return errors.Newf(errors.CodeCorrupt, "malformed %s record: %s", kind, reason)
}

func (k recordKind) String() string {
	switch k {
	case kindRepository:
		return "repository"
	case kindRef:
		return "ref"
	case kindCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// encoder appends fields to a buffer sized up front by the caller.
type encoder struct {
	buf []byte
}

func newEncoder(kind recordKind, size int) *encoder {
	buf := make([]byte, 0, size)
	buf = append(buf, recordVersion, byte(kind))
	return &encoder{buf: buf}
}

func (e *encoder) u8(v byte)      { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16)   { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32)   { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64)   { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)    { e.u64(uint64(v)) }
func (e *encoder) hash(h git.Hash) { e.buf = append(e.buf, h[:]...) }

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) time(t time.Time) {
	if t.IsZero() {
		e.i64(0)
		e.u32(0)
		return
	}
	_, offset := t.Zone()
	e.i64(t.Unix())
	e.u32(uint32(int32(offset)))
}

func strSize(ss ...string) int {
	n := 0
	for _, s := range ss {
		n += 4 + len(s)
	}
	return n
}

// checkHeader validates the version and kind bytes and the fixed section
// length.
func checkHeader(data []byte, kind recordKind, fixed int) error {
	if len(data) < headerSize+fixed {
		return corrupt(kind, "truncated")
	}
	if data[0] != recordVersion {
		return errors.Newf(errors.CodeCorrupt, "unsupported %s record version %d", kind, data[0])
	}
	if recordKind(data[1]) != kind {
		return corrupt(kind, "unexpected kind")
	}
	return nil
}

// fields splits the variable section into n strings without copying.
func fields(data []byte, kind recordKind, n int) ([][]byte, error) {
	out := make([][]byte, n)
	for i := range n {
		if len(data) < 4 {
			return nil, corrupt(kind, "truncated field length")
		}
		l := binary.BigEndian.Uint32(data)
		data = data[4:]
		if uint64(len(data)) < uint64(l) {
			return nil, corrupt(kind, "truncated field")
		}
		out[i] = data[:l]
		data = data[l:]
	}
	if len(data) != 0 {
		return nil, corrupt(kind, "trailing bytes")
	}
	return out, nil
}

func readHash(b []byte) git.Hash {
	var h git.Hash
	copy(h[:], b[:git.HashSize])
	return h
}

func readTime(b []byte) time.Time {
	sec := int64(binary.BigEndian.Uint64(b))
	offset := int32(binary.BigEndian.Uint32(b[8:]))
	if sec == 0 && offset == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).In(zone(int(offset)))
}

func zone(offset int) *time.Location {
	if offset == 0 {
		return time.UTC
	}
	return time.FixedZone("", offset)
}

func encodeRepository(r *Repository) []byte {
	e := newEncoder(kindRepository, headerSize+repoFixedSize+
		strSize(r.Path, r.Name, r.Description, r.Owner, r.DefaultBranch))
	e.u64(r.ID)
	e.u64(r.Generation)
	e.i64(unixOrZero(r.LastModified))
	e.i64(unixOrZero(r.IndexedAt))
	e.str(r.Path)
	e.str(r.Name)
	e.str(r.Description)
	e.str(r.Owner)
	e.str(r.DefaultBranch)
	return e.buf
}

func decodeRepository(data []byte) (Repository, error) {
	if err := checkHeader(data, kindRepository, repoFixedSize); err != nil {
		return Repository{}, err
	}
	fixed := data[headerSize:]
	f, err := fields(fixed[repoFixedSize:], kindRepository, 5)
	if err != nil {
		return Repository{}, err
	}

	return Repository{
		ID:            binary.BigEndian.Uint64(fixed),
		Generation:    binary.BigEndian.Uint64(fixed[8:]),
		LastModified:  timeOrZero(int64(binary.BigEndian.Uint64(fixed[16:]))),
		IndexedAt:     timeOrZero(int64(binary.BigEndian.Uint64(fixed[24:]))),
		Path:          string(f[0]),
		Name:          string(f[1]),
		Description:   string(f[2]),
		Owner:         string(f[3]),
		DefaultBranch: string(f[4]),
	}, nil
}

func encodeRef(r *Ref) []byte {
	e := newEncoder(kindRef, headerSize+refFixedSize+
		strSize(r.Name, r.Tagger.Name, r.Tagger.Email, r.Message))
	e.u8(byte(r.Kind))
	var flags byte
	if r.Annotated {
		flags |= refFlagAnnotated
	}
	e.u8(flags)
	e.hash(r.Target)
	e.hash(r.Commit)
	e.time(r.Time)
	e.str(r.Name)
	e.str(r.Tagger.Name)
	e.str(r.Tagger.Email)
	e.str(r.Message)
	return e.buf
}

func decodeRef(data []byte) (Ref, error) {
	if err := checkHeader(data, kindRef, refFixedSize); err != nil {
		return Ref{}, err
	}
	fixed := data[headerSize:]
	f, err := fields(fixed[refFixedSize:], kindRef, 4)
	if err != nil {
		return Ref{}, err
	}

	ref := Ref{
		Kind:      git.RefKind(fixed[0]),
		Annotated: fixed[1]&refFlagAnnotated != 0,
		Target:    readHash(fixed[2:]),
		Commit:    readHash(fixed[2+git.HashSize:]),
		Time:      readTime(fixed[2+2*git.HashSize:]),
		Name:      string(f[0]),
		Message:   string(f[3]),
	}
	if ref.Annotated {
		ref.Tagger = git.Signature{Name: string(f[1]), Email: string(f[2]), When: ref.Time}
	}
	if ref.Kind != git.RefBranch && ref.Kind != git.RefTag {
		return Ref{}, corrupt(kindRef, "unknown ref kind")
	}
	return ref, nil
}

func encodeCommit(c *Commit) []byte {
	e := newEncoder(kindCommit, headerSize+commitFixedSize+len(c.Parents)*git.HashSize+
		strSize(c.Author.Name, c.Author.Email, c.Committer.Name, c.Committer.Email, c.Message))
	e.hash(c.ID)
	e.hash(c.Tree)
	e.time(c.Author.When)
	e.time(c.Committer.When)
	e.u16(uint16(len(c.Parents)))
	for _, p := range c.Parents {
		e.hash(p)
	}
	e.str(c.Author.Name)
	e.str(c.Author.Email)
	e.str(c.Committer.Name)
	e.str(c.Committer.Email)
	e.str(c.Message)
	return e.buf
}

// CommitView reads a stored commit record in place. Its accessors do not
// allocate except where they build Go strings or slices. A view is only
// valid inside the transaction that produced its bytes.
type CommitView []byte

// Offsets into the fixed section of a commit record, header included.
const (
	commitIDOff            = headerSize
	commitTreeOff          = commitIDOff + git.HashSize
	commitAuthorTimeOff    = commitTreeOff + git.HashSize
	commitCommitterTimeOff = commitAuthorTimeOff + 12
	commitParentCountOff   = commitCommitterTimeOff + 12
	commitParentsOff       = commitParentCountOff + 2
)

// Validate checks that the view holds a well-formed commit record.
func (v CommitView) Validate() error {
	if err := checkHeader(v, kindCommit, commitFixedSize); err != nil {
		return err
	}
	end := commitParentsOff + v.NumParents()*git.HashSize
	if len(v) < end {
		return corrupt(kindCommit, "truncated parents")
	}
	_, err := fields(v[end:], kindCommit, 5)
	return err
}

// ID returns the commit id.
func (v CommitView) ID() git.Hash { return readHash(v[commitIDOff:]) }

// Tree returns the root tree id.
func (v CommitView) Tree() git.Hash { return readHash(v[commitTreeOff:]) }

// CommitterUnix returns the committer timestamp in seconds.
func (v CommitView) CommitterUnix() int64 {
	return int64(binary.BigEndian.Uint64(v[commitCommitterTimeOff:]))
}

// NumParents returns the number of parents.
func (v CommitView) NumParents() int {
	return int(binary.BigEndian.Uint16(v[commitParentCountOff:]))
}

// Parent returns the i-th parent id.
func (v CommitView) Parent(i int) git.Hash {
	return readHash(v[commitParentsOff+i*git.HashSize:])
}

// Decode copies the record into a Commit.
func (v CommitView) Decode() (Commit, error) {
	if err := v.Validate(); err != nil {
		return Commit{}, err
	}

	n := v.NumParents()
	parents := make([]git.Hash, n)
	for i := range n {
		parents[i] = v.Parent(i)
	}
	f, _ := fields(v[commitParentsOff+n*git.HashSize:], kindCommit, 5)

	return Commit{
		ID:      v.ID(),
		Tree:    v.Tree(),
		Parents: parents,
		Author: git.Signature{
			Name:  string(f[0]),
			Email: string(f[1]),
			When:  readTime(v[commitAuthorTimeOff:]),
		},
		Committer: git.Signature{
			Name:  string(f[2]),
			Email: string(f[3]),
			When:  readTime(v[commitCommitterTimeOff:]),
		},
		Message: string(f[4]),
	}, nil
}

func decodeCommit(data []byte) (Commit, error) {
	return CommitView(data).Decode()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
