// Package cache holds rendered artifacts (diffs, readmes, highlighted
// source) in memory.
//
// Keys are content addressed: they hash the object id that produced the
// artifact, the artifact kind and the renderer version. A key therefore never
// goes stale and entries are only ever removed under capacity pressure.
//
// GetOrCompute is single-flight. Concurrent callers for an absent key share
// one computation, which runs detached from every caller so that one caller
// giving up does not abort it for the rest:
//
//	c := cache.New(64<<20, 4096)
//	html, err := c.GetOrCompute(ctx, cache.Key(blobID, cache.KindHighlight, render.HighlightVersion),
//		func(ctx context.Context) ([]byte, error) {
//			return render.Highlight(name, src)
//		})
//
// The key space is split across shards, each with its own lock and LRU list.
// No lock is held while an artifact is computed.
package cache
