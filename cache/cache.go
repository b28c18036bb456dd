package cache

import (
	"container/list"
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/logging"
)

const defaultShards = 32

// ComputeFunc produces an artifact. Its context is detached from the
// callers waiting on it and is never cancelled by them.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache is a sharded, single-flight, size-bounded LRU cache.
type Cache struct {
	shards     []*shard
	logger     *slog.Logger
	maxBytes   int64
	maxEntries int64

	hits      atomic.Int64
	misses    atomic.Int64
	shared    atomic.Int64
	evictions atomic.Int64
	failures  atomic.Int64
	bytes     atomic.Int64
	entries   atomic.Int64
}

// entry is either in flight (elem is nil, done open) or ready.
type entry struct {
	key   digest.Digest
	done  chan struct{}
	value []byte
	err   error
	elem  *list.Element
}

type shard struct {
	index int

	mu    sync.Mutex
	items map[digest.Digest]*entry
	lru   *list.List
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	logger *slog.Logger
	shards int
}

// WithLogger sets the logger for computation failures and evictions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logging.OrNop(logger)
	}
}

func withShards(n int) Option {
	return func(o *options) {
		o.shards = n
	}
}

// New returns a cache bounded by maxBytes of artifact data and maxEntries
// artifacts. A zero bound is unlimited. The bounds apply to the cache as a
// whole; shards only split the locking.
func New(maxBytes int64, maxEntries int, opts ...Option) *Cache {
	o := options{logger: logging.Nop(), shards: defaultShards}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache{
		shards:     make([]*shard, o.shards),
		logger:     o.logger,
		maxBytes:   max(maxBytes, 0),
		maxEntries: int64(max(maxEntries, 0)),
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			index: i,
			items: make(map[digest.Digest]*entry),
			lru:   list.New(),
		}
	}
	return c
}

func (c *Cache) shard(key digest.Digest) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// GetOrCompute returns the artifact for key, computing it with compute if it
// is absent. Concurrent callers for the same absent key share a single call
// of compute and all receive its result. The returned slice is shared and
// must not be modified.
//
// A failed computation is returned to every current waiter and not stored,
// so the next call retries. If ctx ends while waiting GetOrCompute returns
// ctx.Err(); the computation carries on and its result is still cached.
func (c *Cache) GetOrCompute(ctx context.Context, key digest.Digest, compute ComputeFunc) ([]byte, error) {
	s := c.shard(key)

	s.mu.Lock()
	e, ok := s.items[key]
	switch {
	case ok && e.elem != nil:
		s.lru.MoveToFront(e.elem)
		value := e.value
		s.mu.Unlock()
		c.hits.Add(1)
		return value, nil
	case ok:
		s.mu.Unlock()
		c.shared.Add(1)
	default:
		e = &entry{key: key, done: make(chan struct{})}
		s.items[key] = e
		s.mu.Unlock()
		c.misses.Add(1)
		go c.compute(context.WithoutCancel(ctx), s, e, compute)
	}

	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) compute(ctx context.Context, s *shard, e *entry, compute ComputeFunc) {
	start := time.Now()
	value, err := run(ctx, compute)
	logCompute(ctx, c.logger, e.key, time.Since(start), len(value), err)

	size := int64(len(value))
	s.mu.Lock()
	switch {
	case err != nil:
		c.failures.Add(1)
		e.err = err
		if s.items[e.key] == e {
			delete(s.items, e.key)
		}
	case c.maxBytes > 0 && size > c.maxBytes:
		// Larger than the whole budget: hand it to the waiters only.
		e.value = value
		if s.items[e.key] == e {
			delete(s.items, e.key)
		}
		c.evictions.Add(1)
		logEviction(ctx, c.logger, e.key, len(value), "oversize")
	default:
		e.value = value
		e.elem = s.lru.PushFront(e)
		c.bytes.Add(size)
		c.entries.Add(1)
	}
	s.mu.Unlock()

	close(e.done)
	if err == nil {
		c.shrink(ctx, s, e)
	}
}

// run calls compute, turning a panic into an error so waiters are always
// released.
func run(ctx context.Context, compute ComputeFunc) (value []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeInternal, fmt.Sprintf("artifact computation panicked: %v", r))
		}
	}()
	return compute(ctx)
}

// over returns why the cache exceeds its bounds, or "" if it does not.
func (c *Cache) over() string {
	switch {
	case c.maxBytes > 0 && c.bytes.Load() > c.maxBytes:
		return "bytes"
	case c.maxEntries > 0 && c.entries.Load() > c.maxEntries:
		return "entries"
	default:
		return ""
	}
}

// shrink evicts until the cache is back within its bounds. The shard that
// just grew gives up its least recently used entries first, then the other
// shards in turn. keep, the entry just inserted, is never the victim. At most
// one shard lock is held at a time.
func (c *Cache) shrink(ctx context.Context, from *shard, keep *entry) {
	for i := range c.shards {
		s := c.shards[(from.index+i)%len(c.shards)]
		for {
			reason := c.over()
			if reason == "" {
				return
			}
			if !c.evictOldest(ctx, s, keep, reason) {
				break
			}
		}
	}
}

// evictOldest removes the least recently used ready entry of s. It reports
// false if there is nothing to remove.
func (c *Cache) evictOldest(ctx context.Context, s *shard, keep *entry, reason string) bool {
	s.mu.Lock()
	back := s.lru.Back()
	if back == nil || back.Value.(*entry) == keep {
		s.mu.Unlock()
		return false
	}
	victim := back.Value.(*entry)
	s.lru.Remove(back)
	delete(s.items, victim.key)
	s.mu.Unlock()

	c.bytes.Add(-int64(len(victim.value)))
	c.entries.Add(-1)
	c.evictions.Add(1)
	logEviction(ctx, c.logger, victim.key, len(victim.value), reason)
	return true
}

// Contains reports whether a ready artifact is stored for key. It does not
// touch recency.
func (c *Cache) Contains(key digest.Digest) bool {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	return ok && e.elem != nil
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Shared    int64
	Evictions int64
	Failures  int64
	Bytes     int64
	Entries   int64
}

// HitRate returns hits over all lookups, counting shared waits as hits.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Shared + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits+s.Shared) / float64(total)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Shared:    c.shared.Load(),
		Evictions: c.evictions.Load(),
		Failures:  c.failures.Load(),
		Bytes:     c.bytes.Load(),
		Entries:   c.entries.Load(),
	}
}
