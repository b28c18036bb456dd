package git

import (
	"context"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// BareRepository implements Repository with go-git over a billy filesystem.
type BareRepository struct {
	path string
	repo *gogit.Repository
	fs   billy.Filesystem
}

var _ Repository = (*BareRepository)(nil)

// RepositoryOption configures Open.
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	fs          billy.Filesystem
	objectCache cache.Object
}

// WithFilesystem opens the repository from fs instead of the OS filesystem.
// The path passed to Open is interpreted relative to fs.
func WithFilesystem(fs billy.Filesystem) RepositoryOption {
	return func(o *repositoryOptions) {
		o.fs = fs
	}
}

// WithObjectCacheSize sets the size of the decoded object cache kept for the
// lifetime of the repository handle.
func WithObjectCacheSize(size cache.FileSize) RepositoryOption {
	return func(o *repositoryOptions) {
		o.objectCache = cache.NewObjectLRU(size)
	}
}

// Open opens the bare repository at path.
//
// A directory is accepted when it holds a HEAD file and an objects directory.
// A missing repository is reported as CodeNotFound.
//
//	repo, err := git.Open("project.git", git.WithFilesystem(memfs.New()))
func Open(repoPath string, opts ...RepositoryOption) (*BareRepository, error) {
	options := &repositoryOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.fs == nil {
		options.fs = osfs.New("/")
	}
	if options.objectCache == nil {
		options.objectCache = cache.NewObjectLRUDefault()
	}

	scopedFs, err := options.fs.Chroot(repoPath)
	if err != nil {
		return nil, wrapError(err, "failed to scope filesystem to repository")
	}

	if !IsBareRepository(scopedFs) {
		return nil, wrapError(gogit.ErrRepositoryNotExists, "failed to open "+repoPath)
	}

	storage := filesystem.NewStorage(scopedFs, options.objectCache)
	repo, err := gogit.Open(storage, nil)
	if err != nil {
		return nil, wrapError(err, "failed to open "+repoPath)
	}

	return &BareRepository{
		path: repoPath,
		repo: repo,
		fs:   scopedFs,
	}, nil
}

// IsBareRepository reports whether fs is rooted at a repository boundary: a
// directory holding both HEAD and objects.
func IsBareRepository(fs billy.Filesystem) bool {
	head, err := fs.Stat("HEAD")
	if err != nil || head.IsDir() {
		return false
	}
	objects, err := fs.Stat("objects")
	return err == nil && objects.IsDir()
}

// Path returns the path the repository was opened with.
func (r *BareRepository) Path() string {
	return r.path
}

// Filesystem returns the filesystem scoped to the repository directory.
func (r *BareRepository) Filesystem() billy.Filesystem {
	return r.fs
}

// Underlying returns the go-git repository for operations not covered here.
func (r *BareRepository) Underlying() *gogit.Repository {
	return r.repo
}

// FSOpener opens repositories relative to a shared root filesystem.
type FSOpener struct {
	root      billy.Filesystem
	cacheSize cache.FileSize
}

var _ Opener = (*FSOpener)(nil)

// NewOpener returns an Opener rooted at root.
func NewOpener(root billy.Filesystem) *FSOpener {
	return &FSOpener{root: root}
}

// WithCacheSize sets the per-handle object cache size. Zero keeps go-git's
// default.
func (o *FSOpener) WithCacheSize(size cache.FileSize) *FSOpener {
	o.cacheSize = size
	return o
}

// Open opens the repository at repoPath, relative to the opener's root.
func (o *FSOpener) Open(ctx context.Context, repoPath string) (Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := []RepositoryOption{WithFilesystem(o.root)}
	if o.cacheSize > 0 {
		opts = append(opts, WithObjectCacheSize(o.cacheSize))
	}
	return Open(path.Clean("/"+repoPath)[1:], opts...)
}
