package store

import (
	"bytes"
	"context"
	stderrors "errors"
	"path"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jmgilman/gitweb/git"
)

// errUnchanged rolls back a batch that wrote nothing.
var errUnchanged = stderrors.New("batch unchanged")

// Info is the descriptive part of a repository record the indexer refreshes
// each cycle.
type Info struct {
	Description   string
	Owner         string
	DefaultBranch string
	LastModified  time.Time
}

// View reads one repository's indexed state inside a transaction. Its
// accessors treat a repository with nothing indexed as empty.
type View struct {
	repo Repository
	data *bolt.Bucket
}

// Batch is one repository's index update. Every write made through it lands
// in a single bbolt transaction: readers see all of it or none of it.
type Batch struct {
	View
	tx      *bolt.Tx
	changed bool
	written int
}

// Read runs fn against a read-only view of repoPath. An unknown repository
// yields an empty view with a zero record.
func (s *Store) Read(ctx context.Context, repoPath string, fn func(*View) error) error {
	return s.view(ctx, func(tx *bolt.Tx) error {
		v := &View{}
		if raw := tx.Bucket(bucketRepos).Get([]byte(repoPath)); raw != nil {
			repo, err := decodeRepository(raw)
			if err != nil {
				return err
			}
			v.repo = repo
			v.data = dataBucket(tx, repo.ID)
		}
		return fn(v)
	})
}

// AddRepository records a newly discovered repository with generation 0.
// It returns the stored record and whether it was created.
func (s *Store) AddRepository(ctx context.Context, repoPath string) (Repository, bool, error) {
	if err := ctx.Err(); err != nil {
		return Repository{}, false, err
	}

	var (
		repo    Repository
		created bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		repo, created, err = ensureRepository(tx, repoPath)
		return err
	})
	return repo, created, err
}

func ensureRepository(tx *bolt.Tx, repoPath string) (Repository, bool, error) {
	repos := tx.Bucket(bucketRepos)
	if v := repos.Get([]byte(repoPath)); v != nil {
		repo, err := decodeRepository(v)
		return repo, false, err
	}

	id, err := repos.NextSequence()
	if err != nil {
		return Repository{}, false, err
	}
	repo := Repository{ID: id, Path: repoPath, Name: RepositoryName(repoPath)}
	if _, err := tx.Bucket(bucketData).CreateBucket(idKey(id)); err != nil {
		return Repository{}, false, err
	}
	if err := repos.Put([]byte(repoPath), encodeRepository(&repo)); err != nil {
		return Repository{}, false, err
	}
	return repo, true, nil
}

// RepositoryName derives the display name from a path: the last element
// without a .git suffix.
func RepositoryName(repoPath string) string {
	name := path.Base(repoPath)
	if trimmed := strings.TrimSuffix(name, ".git"); trimmed != "" {
		return trimmed
	}
	return name
}

// RemoveRepository deletes a repository and everything indexed for it.
// Removing an unknown path is not an error.
func (s *Store) RemoveRepository(ctx context.Context, repoPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		repos := tx.Bucket(bucketRepos)
		v := repos.Get([]byte(repoPath))
		if v == nil {
			return nil
		}
		repo, err := decodeRepository(v)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketData).DeleteBucket(idKey(repo.ID)); err != nil && !stderrors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		return repos.Delete([]byte(repoPath))
	})
}

// Update runs fn against a batch for repoPath, creating the repository
// record if needed. If fn returns an error nothing is written. If fn changed
// nothing the transaction is rolled back and the generation is untouched;
// otherwise the generation is bumped and everything commits atomically.
//
// It returns the repository record as stored afterwards and the number of
// commit bodies the batch wrote.
func (s *Store) Update(ctx context.Context, repoPath string, fn func(*Batch) error) (Repository, int, error) {
	if err := ctx.Err(); err != nil {
		return Repository{}, 0, err
	}

	var (
		result  Repository
		written int
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		repo, created, err := ensureRepository(tx, repoPath)
		if err != nil {
			return err
		}

		data, err := tx.Bucket(bucketData).CreateBucketIfNotExists(idKey(repo.ID))
		if err != nil {
			return err
		}

		b := &Batch{View: View{repo: repo, data: data}, tx: tx}
		if err := fn(b); err != nil {
			return err
		}

		if !b.changed && repo.Indexed() {
			result = repo
			if created {
				return nil
			}
			return errUnchanged
		}

		b.repo.Generation++
		b.repo.IndexedAt = s.now()
		result = b.repo
		written = b.written
		return tx.Bucket(bucketRepos).Put([]byte(repoPath), encodeRepository(&b.repo))
	})
	if stderrors.Is(err, errUnchanged) {
		return result, 0, nil
	}
	if err != nil {
		return Repository{}, 0, err
	}
	return result, written, nil
}

// Repository returns the stored record. Inside a Batch any SetInfo changes
// are applied.
func (v *View) Repository() Repository {
	return v.repo
}

// Changed reports whether the batch has written anything.
func (b *Batch) Changed() bool {
	return b.changed
}

// SetInfo updates the descriptive fields.
func (b *Batch) SetInfo(info Info) {
	if info.LastModified.IsZero() {
		info.LastModified = b.repo.LastModified
	}
	if b.repo.Description == info.Description &&
		b.repo.Owner == info.Owner &&
		b.repo.DefaultBranch == info.DefaultBranch &&
		b.repo.LastModified.Unix() == info.LastModified.Unix() {
		return
	}

	b.repo.Description = info.Description
	b.repo.Owner = info.Owner
	b.repo.DefaultBranch = info.DefaultBranch
	b.repo.LastModified = info.LastModified
	b.changed = true
}

func (b *Batch) refs() (*bolt.Bucket, error) {
	return b.data.CreateBucketIfNotExists(bucketRefs)
}

// Refs returns the stored refs of kind, in key order.
func (v *View) Refs(kind git.RefKind) ([]Ref, error) {
	if v.data == nil {
		return nil, nil
	}
	return scanRefs(v.data, kind)
}

// Ref returns a stored ref by short name.
func (v *View) Ref(kind git.RefKind, name string) (Ref, bool, error) {
	raw := refsBucketGet(v.data, refKey(kind, name))
	if raw == nil {
		return Ref{}, false, nil
	}
	ref, err := decodeRef(raw)
	return ref, err == nil, err
}

// PutRef stores ref. Writing an identical record is not a change.
func (b *Batch) PutRef(ref Ref) error {
	refs, err := b.refs()
	if err != nil {
		return err
	}

	key := refKey(ref.Kind, ref.Name)
	encoded := encodeRef(&ref)
	if bytes.Equal(refs.Get(key), encoded) {
		return nil
	}
	b.changed = true
	return refs.Put(key, encoded)
}

// DeleteRef removes a ref, and for branches its commit log.
func (b *Batch) DeleteRef(kind git.RefKind, name string) error {
	refs, err := b.refs()
	if err != nil {
		return err
	}
	key := refKey(kind, name)
	if refs.Get(key) == nil {
		return nil
	}

	b.changed = true
	if err := refs.Delete(key); err != nil {
		return err
	}
	if kind == git.RefBranch {
		return b.dropLog(name)
	}
	return nil
}

// HasCommit reports whether the commit body is stored.
func (v *View) HasCommit(id git.Hash) bool {
	commits := nestedBucket(v.data, bucketCommits)
	return commits != nil && commits.Get(id[:]) != nil
}

// CommitView returns a stored commit record without decoding it. The view
// is validated; a malformed record is reported as CodeCorrupt.
func (v *View) CommitView(id git.Hash) (CommitView, bool, error) {
	commits := nestedBucket(v.data, bucketCommits)
	if commits == nil {
		return nil, false, nil
	}
	raw := commits.Get(id[:])
	if raw == nil {
		return nil, false, nil
	}
	view := CommitView(raw)
	if err := view.Validate(); err != nil {
		return nil, false, err
	}
	return view, true, nil
}

// PutCommit stores a commit body unless it is already present. Bodies are
// immutable, so an existing one is never rewritten. It reports whether the
// body was written.
func (b *Batch) PutCommit(c Commit) (bool, error) {
	commits, err := b.data.CreateBucketIfNotExists(bucketCommits)
	if err != nil {
		return false, err
	}
	if commits.Get(c.ID[:]) != nil {
		return false, nil
	}

	b.changed = true
	b.written++
	return true, commits.Put(c.ID[:], encodeCommit(&c))
}

// InLog reports whether id is in branch's commit log.
func (v *View) InLog(branch string, id git.Hash) bool {
	members := nestedBucket(v.data, bucketMembers, []byte(branch))
	return members != nil && members.Get(id[:]) != nil
}

// LogSize returns the number of commits in branch's log.
func (v *View) LogSize(branch string) int {
	members := nestedBucket(v.data, bucketMembers, []byte(branch))
	if members == nil {
		return 0
	}
	// Stats only sees committed pages; a cursor also sees this batch's writes.
	n := 0
	c := members.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

// AppendLog adds id to branch's commit log at committer time unix. The
// commit body should be stored in the same batch.
func (b *Batch) AppendLog(branch string, id git.Hash, unix int64) error {
	log, members, err := b.logBuckets(branch)
	if err != nil {
		return err
	}
	if members.Get(id[:]) != nil {
		return nil
	}

	key := logKey(unix, id)
	b.changed = true
	if err := log.Put(key, nil); err != nil {
		return err
	}
	return members.Put(id[:], key)
}

// ResetLog empties branch's commit log so it can be rebuilt from a full
// walk. Commit bodies are kept.
func (b *Batch) ResetLog(branch string) error {
	if nestedBucket(b.data, bucketMembers, []byte(branch)) == nil {
		return nil
	}
	b.changed = true
	return b.dropLog(branch)
}

func (b *Batch) logBuckets(branch string) (*bolt.Bucket, *bolt.Bucket, error) {
	logs, err := b.data.CreateBucketIfNotExists(bucketLogs)
	if err != nil {
		return nil, nil, err
	}
	log, err := logs.CreateBucketIfNotExists([]byte(branch))
	if err != nil {
		return nil, nil, err
	}
	members, err := b.data.CreateBucketIfNotExists(bucketMembers)
	if err != nil {
		return nil, nil, err
	}
	member, err := members.CreateBucketIfNotExists([]byte(branch))
	if err != nil {
		return nil, nil, err
	}
	return log, member, nil
}

func (b *Batch) dropLog(branch string) error {
	for _, parent := range [][]byte{bucketLogs, bucketMembers} {
		bucket := b.data.Bucket(parent)
		if bucket == nil {
			continue
		}
		if err := bucket.DeleteBucket([]byte(branch)); err != nil && !stderrors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
	}
	return nil
}
