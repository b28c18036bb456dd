package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/git"
	"github.com/jmgilman/gitweb/store"
)

// logEntry is one commit to add to a branch log.
type logEntry struct {
	id   git.Hash
	unix int64
}

type branchPlan struct {
	ref store.Ref
	// prev is the tip the store held when the plan was made, zero for a new
	// branch.
	prev git.Hash
	// reset drops the existing log before appending.
	reset   bool
	entries []logEntry
}

// plan is everything one batch will write, computed from a read snapshot.
type plan struct {
	prev         store.Repository
	branches     []branchPlan
	tags         []store.Ref
	removed      []store.Ref
	bodies       map[git.Hash]*git.Commit
	lastModified time.Time
}

func (p *plan) empty() bool {
	return len(p.branches) == 0 && len(p.tags) == 0 && len(p.removed) == 0
}

func (p *plan) rebuilt() int {
	n := 0
	for _, b := range p.branches {
		if b.reset {
			n++
		}
	}
	return n
}

// apply writes the plan into b. It fails with errConflict if a branch moved
// in the store since the plan was made.
func (p *plan) apply(b *store.Batch) error {
	for _, c := range p.bodies {
		if _, err := b.PutCommit(store.FromGit(c)); err != nil {
			return err
		}
	}

	for _, bp := range p.branches {
		stored, ok, err := b.Ref(git.RefBranch, bp.ref.Name)
		if err != nil {
			return err
		}
		if ok != !bp.prev.IsZero() || (ok && stored.Commit != bp.prev) {
			return errConflict
		}

		if bp.reset {
			if err := b.ResetLog(bp.ref.Name); err != nil {
				return err
			}
		}
		for _, e := range bp.entries {
			if err := b.AppendLog(bp.ref.Name, e.id, e.unix); err != nil {
				return err
			}
		}
		if err := b.PutRef(bp.ref); err != nil {
			return err
		}
	}

	for _, tag := range p.tags {
		if err := b.PutRef(tag); err != nil {
			return err
		}
	}
	for _, ref := range p.removed {
		if err := b.DeleteRef(ref.Kind, ref.Name); err != nil {
			return err
		}
	}
	return nil
}

// planner builds a plan for one repository.
type planner struct {
	repo   git.Repository
	view   *store.View
	logger *slog.Logger
	plan   *plan
}

func newPlanner(repo git.Repository, view *store.View, logger *slog.Logger) *planner {
	return &planner{
		repo:   repo,
		view:   view,
		logger: logger,
		plan: &plan{
			prev:   view.Repository(),
			bodies: make(map[git.Hash]*git.Commit),
		},
	}
}

func (pl *planner) build(ctx context.Context, refs []git.Ref) (*plan, error) {
	current := map[git.RefKind]map[string]bool{
		git.RefBranch: {},
		git.RefTag:    {},
	}

	var newest int64
	for _, ref := range refs {
		current[ref.Kind][ref.ShortName()] = true

		switch ref.Kind {
		case git.RefBranch:
			tipUnix, err := pl.branch(ctx, ref)
			if err != nil {
				return nil, errors.WithContext(err, "ref", ref.Name)
			}
			newest = max(newest, tipUnix)
		case git.RefTag:
			if err := pl.tag(ctx, ref); err != nil {
				return nil, errors.WithContext(err, "ref", ref.Name)
			}
		}
	}
	if newest != 0 {
		pl.plan.lastModified = time.Unix(newest, 0).UTC()
	}

	for kind, names := range current {
		stored, err := pl.view.Refs(kind)
		if err != nil {
			return nil, err
		}
		for _, ref := range stored {
			if !names[ref.Name] {
				pl.plan.removed = append(pl.plan.removed, ref)
			}
		}
	}
	return pl.plan, nil
}

// branch plans one branch and returns its tip's committer time.
func (pl *planner) branch(ctx context.Context, ref git.Ref) (int64, error) {
	name := ref.ShortName()
	tip := ref.Commit
	if tip.IsZero() {
		pl.logger.Warn("skipping branch that does not point at a commit", "ref", ref.Name)
		return 0, nil
	}

	stored, exists, err := pl.view.Ref(git.RefBranch, name)
	if err != nil {
		return 0, err
	}
	if exists && stored.Commit == tip && pl.view.InLog(name, tip) {
		meta, err := pl.meta(ctx, tip)
		return meta.unix, err
	}

	bp := branchPlan{prev: stored.Commit}
	hasLog := exists && pl.view.LogSize(name) > 0
	if hasLog {
		entries, reachedOld, err := pl.walk(ctx, name, tip, stored.Commit, true)
		if err != nil {
			return 0, err
		}
		if reachedOld {
			bp.entries = entries
		} else {
			pl.logger.Info("branch history rewritten, rebuilding its log",
				"branch", name, "old", stored.Commit.Short(), "new", tip.Short())
			bp.reset = true
		}
	}
	if !hasLog || bp.reset {
		bp.entries, _, err = pl.walk(ctx, name, tip, git.ZeroHash, false)
		if err != nil {
			return 0, err
		}
	}

	meta, err := pl.meta(ctx, tip)
	if err != nil {
		return 0, err
	}
	bp.ref = store.Ref{
		Name:   name,
		Kind:   git.RefBranch,
		Target: ref.Target,
		Commit: tip,
		Time:   time.Unix(meta.unix, 0).UTC(),
	}
	pl.plan.branches = append(pl.plan.branches, bp)
	return meta.unix, nil
}

// walk collects the commits reachable from tip, newest first by discovery.
// When incremental it stops at commits already in the branch log and
// reports whether old was one of those stopping points.
func (pl *planner) walk(ctx context.Context, branch string, tip, old git.Hash, incremental bool) ([]logEntry, bool, error) {
	var (
		entries    []logEntry
		reachedOld bool
		seen       = map[git.Hash]bool{}
		stack      = []git.Hash{tip}
	)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true

		if incremental && pl.view.InLog(branch, id) {
			if id == old {
				reachedOld = true
			}
			continue
		}
		if len(seen)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
		}

		meta, err := pl.meta(ctx, id)
		if err != nil {
			return nil, false, err
		}
		entries = append(entries, logEntry{id: id, unix: meta.unix})
		stack = append(stack, meta.parents...)
	}
	return entries, reachedOld, nil
}

type commitMeta struct {
	unix    int64
	parents []git.Hash
}

// meta returns a commit's time and parents, preferring the stored body and
// reading from git only for commits never indexed. Bodies read from git are
// queued for writing.
func (pl *planner) meta(ctx context.Context, id git.Hash) (commitMeta, error) {
	if c, ok := pl.plan.bodies[id]; ok {
		return commitMeta{unix: c.Committer.When.Unix(), parents: c.Parents}, nil
	}

	view, ok, err := pl.view.CommitView(id)
	if err != nil {
		return commitMeta{}, err
	}
	if ok {
		parents := make([]git.Hash, view.NumParents())
		for i := range parents {
			parents[i] = view.Parent(i)
		}
		return commitMeta{unix: view.CommitterUnix(), parents: parents}, nil
	}

	c, err := pl.repo.ReadCommit(ctx, id)
	if err != nil {
		return commitMeta{}, err
	}
	pl.plan.bodies[id] = c
	return commitMeta{unix: c.Committer.When.Unix(), parents: c.Parents}, nil
}

// tag plans one tag. A tag whose target and peeled commit are unchanged is
// left alone without reading anything from git.
func (pl *planner) tag(ctx context.Context, ref git.Ref) error {
	name := ref.ShortName()
	stored, exists, err := pl.view.Ref(git.RefTag, name)
	if err != nil {
		return err
	}
	if exists && stored.Target == ref.Target && stored.Commit == ref.Commit {
		return nil
	}

	record := store.Ref{
		Name:   name,
		Kind:   git.RefTag,
		Target: ref.Target,
		Commit: ref.Commit,
	}

	if ref.Target != ref.Commit {
		tag, err := pl.repo.ReadTag(ctx, ref.Target)
		switch {
		case err == nil:
			record.Annotated = true
			record.Tagger = tag.Tagger
			record.Time = tag.Tagger.When
			record.Message = tag.Message
		case ref.Commit.IsZero():
			// A lightweight tag of a tree or blob.
			pl.logger.Debug("tag does not point at a commit", "ref", ref.Name, "error", err)
		default:
			return err
		}
	}
	if record.Time.IsZero() && !ref.Commit.IsZero() {
		meta, err := pl.meta(ctx, ref.Commit)
		if err != nil {
			return err
		}
		record.Time = time.Unix(meta.unix, 0).UTC()
	}

	pl.plan.tags = append(pl.plan.tags, record)
	return nil
}
