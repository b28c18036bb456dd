// Package store is the embedded metadata store: repositories, refs, commit
// bodies and per-branch commit logs kept in a single bbolt file.
//
// Keys are laid out so every serving query is a point lookup or one bounded
// cursor scan:
//
//	meta/schema                         schema version
//	repos/<path>                        Repository record
//	data/<repo id>/refs/{h,t}/<name>    Ref record
//	data/<repo id>/commits/<commit id>  Commit record
//	data/<repo id>/logs/<branch>/<inverted time><commit id>
//	data/<repo id>/members/<branch>/<commit id> -> log key
//
// Reads run in bbolt read transactions, which are MVCC snapshots: they never
// wait on the indexer and always observe a repository either entirely before
// or entirely after an index batch.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/logging"
)

// SchemaVersion is the on-disk layout version. A database written with any
// other version is wiped and rebuilt from the repositories on open.
const SchemaVersion = "1"

// FileName is the database file created inside the store directory.
const FileName = "gitweb.db"

var (
	bucketMeta    = []byte("meta")
	bucketRepos   = []byte("repos")
	bucketData    = []byte("data")
	bucketRefs    = []byte("refs")
	bucketCommits = []byte("commits")
	bucketLogs    = []byte("logs")
	bucketMembers = []byte("members")

	keySchema = []byte("schema")
)

// Store is the metadata store. It is safe for concurrent use; bbolt
// serializes writers and lets readers proceed against snapshots.
type Store struct {
	db      *bolt.DB
	logger  *slog.Logger
	rebuilt bool
	now     func() time.Time
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	readOnly bool
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logging.OrNop(logger) }
}

// WithLockTimeout bounds how long Open waits for another process holding
// the database file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClock overrides the clock used for IndexedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithReadOnly opens an existing database without writing to it. Several
// read-only opens may share the file, but they still wait for a writer
// holding it. The database must already carry the current schema.
func WithReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// Open opens or creates the store in dir. Any failure is CodeFatal: the
// core cannot run without its database.
func Open(dir string, opts ...Option) (*Store, error) {
	o := options{
		logger:  logging.Nop(),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if !o.readOnly {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, errors.CodeFatal, "create store directory %s", dir)
		}
	}

	path := filepath.Join(dir, FileName)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: o.timeout, ReadOnly: o.readOnly})
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeFatal, "open database %s", path)
	}

	s := &Store{db: db, logger: o.logger, now: o.now}
	if err := s.init(o.readOnly); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeFatal, "initialize database schema")
	}

	if s.rebuilt {
		s.logger.Warn("metadata schema changed, index will be rebuilt",
			"path", path, "schema", SchemaVersion)
	}
	return s, nil
}

// init checks the schema in a read transaction first so reopening a current
// database does not write to it.
func (s *Store) init(readOnly bool) error {
	current := false
	if err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		current = meta != nil && string(meta.Get(keySchema)) == SchemaVersion
		return nil
	}); err != nil {
		return err
	}
	if current {
		return nil
	}
	if readOnly {
		return errors.Newf(errors.CodeFatal, "database has no schema %s, run the index command first", SchemaVersion)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		rebuilt, err := ensureSchema(tx)
		s.rebuilt = rebuilt
		return err
	})
}

// ensureSchema drops every bucket unless the stored schema version matches.
// It reports whether existing data was discarded.
func ensureSchema(tx *bolt.Tx) (bool, error) {
	if meta := tx.Bucket(bucketMeta); meta != nil {
		if string(meta.Get(keySchema)) == SchemaVersion {
			return false, nil
		}
	}

	var names [][]byte
	if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
		names = append(names, bytes.Clone(name))
		return nil
	}); err != nil {
		return false, err
	}
	for _, name := range names {
		if err := tx.DeleteBucket(name); err != nil {
			return false, err
		}
	}

	for _, name := range [][]byte{bucketMeta, bucketRepos, bucketData} {
		if _, err := tx.CreateBucket(name); err != nil {
			return false, err
		}
	}
	if err := tx.Bucket(bucketMeta).Put(keySchema, []byte(SchemaVersion)); err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// Rebuilt reports whether Open discarded data written under another schema.
func (s *Store) Rebuilt() bool {
	return s.rebuilt
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) view(ctx context.Context, fn func(*bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// ListRepositories returns up to limit repositories ordered by path,
// starting after the opaque cursor. The returned cursor is empty on the last
// page.
func (s *Store) ListRepositories(ctx context.Context, cursor string, limit int) ([]Repository, string, error) {
	after, resume, err := parsePageCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}

	var repos []Repository
	next := ""
	err = s.view(ctx, func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRepos).Cursor()

		k, v := c.First()
		if resume {
			k, v = c.Seek([]byte(after))
			if k != nil && string(k) == after {
				k, v = c.Next()
			}
		}

		for ; k != nil; k, v = c.Next() {
			if len(repos) == limit {
				next = pageCursor(repos[len(repos)-1].Path)
				return nil
			}
			repo, err := decodeRepository(v)
			if err != nil {
				return errors.WithContext(err, "repository", string(k))
			}
			repos = append(repos, repo)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return repos, next, nil
}

// Paths returns the path of every known repository.
func (s *Store) Paths(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepos).ForEach(func(k, _ []byte) error {
			paths = append(paths, string(k))
			return nil
		})
	})
	return paths, err
}

// GetRepository returns the repository at path, or CodeNotFound.
func (s *Store) GetRepository(ctx context.Context, path string) (Repository, error) {
	var repo Repository
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		repo, err = getRepository(tx, path)
		return err
	})
	return repo, err
}

func getRepository(tx *bolt.Tx, path string) (Repository, error) {
	v := tx.Bucket(bucketRepos).Get([]byte(path))
	if v == nil {
		return Repository{}, errors.Newf(errors.CodeNotFound, "repository %s not found", path)
	}
	return decodeRepository(v)
}

// dataBucket returns the per-repository bucket, or nil.
func dataBucket(tx *bolt.Tx, id uint64) *bolt.Bucket {
	return tx.Bucket(bucketData).Bucket(idKey(id))
}

func idKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

func refKey(kind git.RefKind, name string) []byte {
	prefix := "h/"
	if kind == git.RefTag {
		prefix = "t/"
	}
	return []byte(prefix + name)
}

// ListRefs returns a repository's branches sorted by name and its tags
// sorted newest first.
func (s *Store) ListRefs(ctx context.Context, path string) (branches, tags []Ref, err error) {
	err = s.view(ctx, func(tx *bolt.Tx) error {
		repo, err := getRepository(tx, path)
		if err != nil {
			return err
		}
		data := dataBucket(tx, repo.ID)
		if data == nil {
			return nil
		}
		branches, err = scanRefs(data, git.RefBranch)
		if err != nil {
			return err
		}
		tags, err = scanRefs(data, git.RefTag)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	sort.SliceStable(tags, func(i, j int) bool {
		if !tags[i].Time.Equal(tags[j].Time) {
			return tags[i].Time.After(tags[j].Time)
		}
		return tags[i].Name < tags[j].Name
	})
	return branches, tags, nil
}

func scanRefs(data *bolt.Bucket, kind git.RefKind) ([]Ref, error) {
	refs := data.Bucket(bucketRefs)
	if refs == nil {
		return nil, nil
	}

	prefix := refKey(kind, "")
	var out []Ref
	c := refs.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		ref, err := decodeRef(v)
		if err != nil {
			return nil, errors.WithContext(err, "ref", string(k))
		}
		out = append(out, ref)
	}
	return out, nil
}

// GetRef looks up a single branch or tag by short name.
func (s *Store) GetRef(ctx context.Context, path string, kind git.RefKind, name string) (Ref, error) {
	var ref Ref
	err := s.view(ctx, func(tx *bolt.Tx) error {
		repo, err := getRepository(tx, path)
		if err != nil {
			return err
		}
		v := refsBucketGet(dataBucket(tx, repo.ID), refKey(kind, name))
		if v == nil {
			return errors.Newf(errors.CodeNotFound, "ref %s not found in %s", name, path)
		}
		ref, err = decodeRef(v)
		return err
	})
	return ref, err
}

func refsBucketGet(data *bolt.Bucket, key []byte) []byte {
	if data == nil {
		return nil
	}
	refs := data.Bucket(bucketRefs)
	if refs == nil {
		return nil
	}
	return refs.Get(key)
}

// ListCommits returns up to limit commits of branch, newest first, starting
// strictly after cursor. The returned cursor is zero on the last page.
func (s *Store) ListCommits(ctx context.Context, path, branch string, cursor Cursor, limit int) ([]Commit, Cursor, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		commits []Commit
		next    Cursor
	)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		repo, err := getRepository(tx, path)
		if err != nil {
			return err
		}
		data := dataBucket(tx, repo.ID)
		log := nestedBucket(data, bucketLogs, []byte(branch))
		if log == nil {
			return errors.Newf(errors.CodeNotFound, "branch %s not found in %s", branch, path)
		}
		bodies := nestedBucket(data, bucketCommits)
		if bodies == nil {
			return errors.Newf(errors.CodeCorrupt, "branch %s has a log but no commit bodies", branch)
		}

		c := log.Cursor()
		k, _ := c.First()
		if !cursor.IsZero() {
			start := logKey(cursor.Time, cursor.ID)
			k, _ = c.Seek(start)
			if k != nil && bytes.Equal(k, start) {
				k, _ = c.Next()
			}
		}

		// The cursor comes from the log key, not the decoded body: the codec
		// reads a zero timestamp back as time.Time{}.
		var last []byte
		for ; k != nil; k, _ = c.Next() {
			if len(commits) == limit {
				next = cursorFromKey(last)
				return nil
			}
			last = k

			id := readHash(k[8:])
			v := bodies.Get(id[:])
			if v == nil {
				return errors.Newf(errors.CodeCorrupt, "commit %s is in the log of %s but has no body", id, branch)
			}
			commit, err := decodeCommit(v)
			if err != nil {
				return errors.WithContext(err, "commit", id.String())
			}
			commits = append(commits, commit)
		}
		return nil
	})
	if err != nil {
		return nil, Cursor{}, err
	}
	return commits, next, nil
}

// GetCommit returns a stored commit body.
func (s *Store) GetCommit(ctx context.Context, path string, id git.Hash) (Commit, error) {
	var commit Commit
	err := s.view(ctx, func(tx *bolt.Tx) error {
		repo, err := getRepository(tx, path)
		if err != nil {
			return err
		}
		bodies := nestedBucket(dataBucket(tx, repo.ID), bucketCommits)
		if bodies == nil {
			return errors.Newf(errors.CodeNotFound, "commit %s not found", id)
		}
		v := bodies.Get(id[:])
		if v == nil {
			return errors.Newf(errors.CodeNotFound, "commit %s not found", id)
		}
		commit, err = decodeCommit(v)
		return err
	})
	return commit, err
}

func nestedBucket(parent *bolt.Bucket, names ...[]byte) *bolt.Bucket {
	b := parent
	for _, name := range names {
		if b == nil {
			return nil
		}
		b = b.Bucket(name)
	}
	return b
}
