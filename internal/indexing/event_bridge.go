package indexing

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/cancel"
	"github.com/standardbeagle/fsindex/internal/debug"
	fserrors "github.com/standardbeagle/fsindex/internal/errors"
	"github.com/standardbeagle/fsindex/internal/types"
)

// ApplyResult summarizes one ApplyChanges batch.
type ApplyResult struct {
	Applied     int  // events that led to a rescan
	Skipped     int  // already applied or history markers
	Ignored     int  // outside the root, or excluded
	FullRescan  bool // history was lost and the root was rescanned
	Removed     int  // net slots freed
	Inserted    int  // net slots added
	LastEventID types.EventID
}

// ApplyChanges brings the index up to date with a batch of change
// notifications. Events are reduced to a minimal set of paths to rescan; a
// path's rescan covers everything below it.
//
// Events at or below the last applied id are skipped, so a batch replayed
// after a restart is harmless. A batch that fails leaves the last applied id
// where it was. A lost-history flag anywhere in the batch
// turns the whole batch into one full rescan.
func (idx *Index) ApplyChanges(events []types.FsEvent) (ApplyResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	res := ApplyResult{LastEventID: idx.lastEventID}
	data := newWalkData(idx.cfg, cancel.Noop())
	root := idx.cfg.Project.Root

	var paths []string
	for _, ev := range events {
		if idx.lastEventID != 0 && ev.ID <= idx.lastEventID {
			res.Skipped++
			continue
		}
		if ev.ID > res.LastEventID {
			res.LastEventID = ev.ID
		}

		switch {
		case ev.Flags.Has(types.EventFlagHistoryDone):
			res.Skipped++
		case ev.Flags.HistoryLost():
			debug.LogWatch("history lost at %s, full rescan\n", ev)
			res.FullRescan = true
			res.Applied++
		case data.Excluded(root, ev.Path):
			res.Ignored++
		default:
			paths = append(paths, filepath.Clean(ev.Path))
			res.Applied++
		}
	}

	before := idx.store.Len()
	if res.FullRescan {
		if err := idx.rescanRootLocked(cancel.Noop()); err != nil {
			return res, err
		}
		res.Inserted, res.Removed = countDelta(before, idx.store.Len())
	} else {
		var errs []error
		for _, p := range coalescePaths(paths) {
			added, freed, err := idx.rescanPathLocked(p, data)
			res.Inserted += added
			res.Removed += freed
			if err != nil {
				errs = append(errs, err)
			}
		}
		if len(paths) > 0 {
			idx.changes.Add(1)
		}
		if err := fserrors.NewMultiError(errs).ErrorOrNil(); err != nil {
			// Keep the old id so the failed events are replayed on resume.
			res.LastEventID = idx.lastEventID
			return res, err
		}
	}

	if res.LastEventID != idx.lastEventID {
		// The id is part of the saved state, so moving it needs a checkpoint.
		idx.lastEventID = res.LastEventID
		idx.changes.Add(1)
	}
	idx.metrics.RecordEvents("applied", res.Applied)
	idx.metrics.RecordEvents("skipped", res.Skipped)
	idx.metrics.RecordEvents("ignored", res.Ignored)
	debug.LogWatch("applied %d events (skipped %d, ignored %d): +%d -%d nodes, last id %d\n",
		res.Applied, res.Skipped, res.Ignored, res.Inserted, res.Removed, res.LastEventID)
	return res, nil
}

func countDelta(before, after int) (inserted, removed int) {
	if after >= before {
		return after - before, 0
	}
	return 0, before - after
}

// coalescePaths sorts and deduplicates paths and drops every path that lies
// under another one in the list.
func coalescePaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	out := sorted[:0]
	for _, p := range sorted {
		if len(out) > 0 && isWithin(out[len(out)-1], p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// isWithin reports whether p is dir or lies beneath it.
func isWithin(dir, p string) bool {
	if p == dir {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// rescanPathLocked makes the index agree with the filesystem at p and below.
func (idx *Index) rescanPathLocked(p string, data *WalkData) (inserted, removed int, err error) {
	root := idx.cfg.Project.Root
	if p == root {
		before := idx.store.Len()
		if err := idx.rescanRootLocked(cancel.Noop()); err != nil {
			return 0, 0, err
		}
		inserted, removed = countDelta(before, idx.store.Len())
		return inserted, removed, nil
	}

	_, statErr := lstat(p)
	switch {
	case statErr == nil:
	case fserrors.IsNotFound(statErr):
		if i, ok := idx.store.Lookup(p); ok {
			removed = idx.store.RemoveSubtree(i)
		}
		return 0, removed, nil
	default:
		// Unreadable entries keep their last known state.
		debug.LogWatch("%v\n", fserrors.NewScanError("lstat", p, statErr))
		return 0, 0, nil
	}

	if i, ok := idx.store.Lookup(p); ok {
		return idx.replaceLocked(i, p, data)
	}

	// Not indexed yet: attach the first missing component below the nearest
	// indexed ancestor, which brings in p along with it.
	anc, missing, ok := idx.nearestIndexed(p)
	if !ok {
		before := idx.store.Len()
		if err := idx.rescanRootLocked(cancel.Noop()); err != nil {
			return 0, 0, err
		}
		inserted, removed = countDelta(before, idx.store.Len())
		return inserted, removed, nil
	}
	if n, _ := idx.store.At(anc); !n.IsDir() {
		// The ancestor changed type underneath us; rescan it whole.
		return idx.replaceLocked(anc, idx.store.Path(anc), data)
	}

	idx.metrics.RecordWalk(false, 0)
	tree := WalkSubtree(root, missing, data)
	if tree == nil {
		return 0, 0, nil
	}
	if _, err := idx.store.AttachTree(anc, tree); err != nil {
		return 0, 0, err
	}
	return tree.Count(), 0, nil
}

// replaceLocked rescans the indexed node i at path p in place.
func (idx *Index) replaceLocked(i alloc.Index, p string, data *WalkData) (inserted, removed int, err error) {
	idx.metrics.RecordWalk(false, 0)
	tree := WalkSubtree(idx.cfg.Project.Root, p, data)
	if tree == nil {
		return 0, idx.store.RemoveSubtree(i), nil
	}
	before := idx.store.Len()
	if err := idx.store.ReplaceChildren(i, tree); err != nil {
		return 0, 0, err
	}
	inserted, removed = countDelta(before, idx.store.Len())
	return inserted, removed, nil
}

// nearestIndexed walks up from p to the closest indexed ancestor and returns
// it with the path of its child on the way to p.
func (idx *Index) nearestIndexed(p string) (alloc.Index, string, bool) {
	root := idx.cfg.Project.Root
	child := p
	for dir := filepath.Dir(p); ; dir = filepath.Dir(dir) {
		if i, ok := idx.store.Lookup(dir); ok {
			return i, child, true
		}
		if dir == root || !isWithin(root, dir) {
			return alloc.NoIndex, "", false
		}
		child = dir
	}
}
