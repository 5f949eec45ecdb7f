package indexing

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/cancel"
	"github.com/standardbeagle/fsindex/internal/core"
	"github.com/standardbeagle/fsindex/internal/metrics"
	"github.com/standardbeagle/fsindex/internal/types"
	"github.com/standardbeagle/fsindex/testhelpers"
)

func event(id types.EventID, path string, flags types.EventFlag) types.FsEvent {
	return types.FsEvent{ID: id, Path: path, Flags: flags}
}

// TestApplyCreate tests that a created file is inserted.
func TestApplyCreate(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"})
	require.NoError(t, idx.Checkpoint(idx.Config().Index.Database))

	newFile := filepath.Join(root, "b.txt")
	testhelpers.WriteFile(t, newFile, "bbb")

	res, err := idx.ApplyChanges([]types.FsEvent{
		event(1, newFile, types.EventFlagItemCreated|types.EventFlagItemIsFile),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Inserted)
	assert.EqualValues(t, 1, res.LastEventID)
	assert.EqualValues(t, 1, idx.LastEventID())
	assert.True(t, idx.Dirty())

	h, ok := lookup(idx, newFile)
	require.True(t, ok)
	idx.View(func(store *core.NodeStore) {
		meta, ok := store.Metadata().Get(h.Index)
		require.True(t, ok)
		assert.Equal(t, uint64(3), meta.Size)
	})
}

// TestApplyModify tests that a rewritten file gets fresh metadata in place.
func TestApplyModify(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"})
	path := filepath.Join(root, "a.txt")
	before, ok := lookup(idx, path)
	require.True(t, ok)

	testhelpers.WriteFile(t, path, "a much longer body")
	res, err := idx.ApplyChanges([]types.FsEvent{
		event(5, path, types.EventFlagItemModified|types.EventFlagItemIsFile),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 0, res.Removed)

	after, ok := lookup(idx, path)
	require.True(t, ok)
	assert.Equal(t, before, after, "a modified file keeps its handle")
	idx.View(func(store *core.NodeStore) {
		meta, _ := store.Metadata().Get(after.Index)
		assert.Equal(t, uint64(len("a much longer body")), meta.Size)
	})
}

// TestApplyRemove tests that a deleted directory is removed with its contents.
func TestApplyRemove(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{
		"a.txt":        "a",
		"sub/b.txt":    "b",
		"sub/in/c.txt": "c",
	})
	sub := filepath.Join(root, "sub")
	old, ok := lookup(idx, filepath.Join(sub, "in", "c.txt"))
	require.True(t, ok)

	testhelpers.RemoveAll(t, sub)
	res, err := idx.ApplyChanges([]types.FsEvent{
		event(1, filepath.Join(sub, "in", "c.txt"), types.EventFlagItemRemoved|types.EventFlagItemIsFile),
		event(2, filepath.Join(sub, "in"), types.EventFlagItemRemoved|types.EventFlagItemIsDir),
		event(3, sub, types.EventFlagItemRemoved|types.EventFlagItemIsDir),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, 4, res.Removed)
	assert.Equal(t, 2, nodeCount(idx))

	idx.View(func(store *core.NodeStore) {
		_, live := store.Get(old)
		assert.False(t, live)
	})
}

// TestApplyReplayedEventsSkipped tests that ids at or below the last applied
// id have no effect.
func TestApplyReplayedEventsSkipped(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"})
	path := filepath.Join(root, "b.txt")
	testhelpers.WriteFile(t, path, "b")

	_, err := idx.ApplyChanges([]types.FsEvent{event(10, path, types.EventFlagItemCreated)})
	require.NoError(t, err)

	testhelpers.RemoveAll(t, path)
	res, err := idx.ApplyChanges([]types.FsEvent{
		event(9, path, types.EventFlagItemRemoved),
		event(10, path, types.EventFlagItemRemoved),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 0, res.Applied)
	assert.EqualValues(t, 10, res.LastEventID)

	_, ok := lookup(idx, path)
	assert.True(t, ok, "skipped events must not touch the store")
}

// TestApplyHistoryDone tests that the end-of-history marker is only recorded.
func TestApplyHistoryDone(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"})
	require.NoError(t, idx.Checkpoint(idx.Config().Index.Database))

	res, err := idx.ApplyChanges([]types.FsEvent{event(7, root, types.EventFlagHistoryDone)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.False(t, res.FullRescan)
	assert.EqualValues(t, 7, idx.LastEventID())
	assert.True(t, idx.Dirty(), "a moved event id must reach the next checkpoint")
	assert.Equal(t, 2, nodeCount(idx))
}

// TestApplyIgnoredEventsPersistID tests that a batch with nothing to rescan
// still gets its last event id saved by the next checkpoint.
func TestApplyIgnoredEventsPersistID(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"}, "**/node_modules")
	db := idx.Config().Index.Database
	require.NoError(t, idx.Checkpoint(db))
	require.False(t, idx.Dirty())

	junk := filepath.Join(root, "node_modules", "x.js")
	testhelpers.WriteFile(t, junk, "x")
	_, err := idx.ApplyChanges([]types.FsEvent{event(9, junk, types.EventFlagItemCreated)})
	require.NoError(t, err)
	require.True(t, idx.Dirty())
	require.NoError(t, idx.Checkpoint(db))

	reopened, err := OpenIndex(db, idx.Config())
	require.NoError(t, err)
	assert.EqualValues(t, 9, reopened.LastEventID())

	// Replaying the same batch moves nothing and leaves the index clean.
	_, err = idx.ApplyChanges([]types.FsEvent{event(9, junk, types.EventFlagItemCreated)})
	require.NoError(t, err)
	assert.False(t, idx.Dirty())
}

// TestApplyHistoryLost tests that dropped events force a full rescan.
func TestApplyHistoryLost(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a", "sub/b.txt": "b"})
	m := metrics.NewIndexMetrics(prometheus.NewRegistry())
	idx.SetMetrics(m)

	// Changes nobody told the index about.
	testhelpers.RemoveAll(t, filepath.Join(root, "sub"))
	testhelpers.WriteFile(t, filepath.Join(root, "c/d.txt"), "d")

	for _, flag := range []types.EventFlag{
		types.EventFlagUserDropped,
		types.EventFlagKernelDropped,
		types.EventFlagRootChanged,
	} {
		assert.True(t, flag.HistoryLost(), flag.String())
	}

	res, err := idx.ApplyChanges([]types.FsEvent{
		event(1, filepath.Join(root, "a.txt"), types.EventFlagItemModified),
		event(2, root, types.EventFlagKernelDropped|types.EventFlagMustScanSubDirs),
	})
	require.NoError(t, err)
	assert.True(t, res.FullRescan)
	assert.Equal(t, 4, nodeCount(idx), "root, a.txt, c, c/d.txt")

	_, ok := lookup(idx, filepath.Join(root, "sub"))
	assert.False(t, ok)
	_, ok = lookup(idx, filepath.Join(root, "c", "d.txt"))
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WalksTotal.WithLabelValues("full")))
}

// TestApplyExcludedPaths tests that events below excluded paths are ignored.
func TestApplyExcludedPaths(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"}, "**/node_modules")

	junk := filepath.Join(root, "node_modules", "pkg", "index.js")
	testhelpers.WriteFile(t, junk, "x")

	res, err := idx.ApplyChanges([]types.FsEvent{
		event(1, junk, types.EventFlagItemCreated),
		event(2, filepath.Join(root, "node_modules"), types.EventFlagItemCreated|types.EventFlagItemIsDir),
		event(3, "/somewhere/else", types.EventFlagItemCreated),
		event(4, idx.Config().Index.IgnorePath, types.EventFlagItemModified),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Ignored)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 2, nodeCount(idx))
}

// TestApplyNestedCreate tests that a new path below directories the index
// has never seen is attached at its nearest indexed ancestor.
func TestApplyNestedCreate(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"})

	deep := filepath.Join(root, "x", "y", "z.txt")
	testhelpers.WriteFile(t, deep, "z")

	res, err := idx.ApplyChanges([]types.FsEvent{
		event(1, deep, types.EventFlagItemCreated|types.EventFlagItemIsFile),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted, "x, x/y and x/y/z.txt")

	for _, p := range []string{filepath.Join(root, "x"), filepath.Join(root, "x", "y"), deep} {
		_, ok := lookup(idx, p)
		assert.True(t, ok, p)
	}
}

// TestApplyTypeChange tests a file replaced by a directory of the same name.
func TestApplyTypeChange(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{"thing": "file"})
	thing := filepath.Join(root, "thing")

	testhelpers.RemoveAll(t, thing)
	testhelpers.WriteFile(t, filepath.Join(thing, "inner.txt"), "i")

	_, err := idx.ApplyChanges([]types.FsEvent{
		event(1, thing, types.EventFlagItemRemoved|types.EventFlagItemCreated|types.EventFlagItemIsDir),
	})
	require.NoError(t, err)

	h, ok := lookup(idx, thing)
	require.True(t, ok)
	idx.View(func(store *core.NodeStore) {
		n, _ := store.Get(h)
		assert.Equal(t, types.FileTypeDir, n.Type)
	})
	_, ok = lookup(idx, filepath.Join(thing, "inner.txt"))
	assert.True(t, ok)
}

// TestApplyBatchMatchesFreshWalk tests that a mixed batch leaves the index
// equal to a fresh build of the same tree.
func TestApplyBatchMatchesFreshWalk(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{
		"keep.txt":       "k",
		"gone/old.txt":   "o",
		"dir/change.txt": "c",
	})

	testhelpers.RemoveAll(t, filepath.Join(root, "gone"))
	testhelpers.WriteFile(t, filepath.Join(root, "dir", "change.txt"), "changed")
	testhelpers.WriteFile(t, filepath.Join(root, "dir", "new", "n.txt"), "n")
	testhelpers.WriteFile(t, filepath.Join(root, "top.txt"), "t")

	_, err := idx.ApplyChanges([]types.FsEvent{
		event(1, filepath.Join(root, "gone", "old.txt"), types.EventFlagItemRemoved),
		event(2, filepath.Join(root, "gone"), types.EventFlagItemRemoved),
		event(3, filepath.Join(root, "dir", "change.txt"), types.EventFlagItemModified),
		event(4, filepath.Join(root, "dir", "new"), types.EventFlagItemCreated|types.EventFlagMustScanSubDirs),
		event(5, filepath.Join(root, "top.txt"), types.EventFlagItemCreated),
	})
	require.NoError(t, err)

	fresh, err := BuildIndex(context.Background(), idx.Config(), cancel.Noop())
	require.NoError(t, err)

	var got, want []string
	idx.View(func(store *core.NodeStore) { got = storePaths(store) })
	fresh.View(func(store *core.NodeStore) { want = storePaths(store) })
	assert.Equal(t, want, got)
}

func TestCoalescePaths(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty", nil, nil},
		{"dedupe", []string{"/r/a", "/r/a"}, []string{"/r/a"}},
		{"nested dropped", []string{"/r/a/b/c", "/r/a", "/r/a/b"}, []string{"/r/a"}},
		{"siblings kept", []string{"/r/ab", "/r/a"}, []string{"/r/a", "/r/ab"}},
		{"disjoint", []string{"/r/z", "/r/b/x", "/r/b"}, []string{"/r/b", "/r/z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coalescePaths(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("coalescePaths(%v) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("coalescePaths(%v) = %v, want %v", tt.in, got, tt.want)
				}
			}
		})
	}
}

// storePaths lists every indexed path, sorted.
func storePaths(store *core.NodeStore) []string {
	var out []string
	var visit func(i alloc.Index)
	visit = func(i alloc.Index) {
		out = append(out, store.RelPath(i))
		for _, c := range store.Children(i) {
			visit(c)
		}
	}
	if store.Root().Valid() {
		visit(store.Root())
	}
	sort.Strings(out)
	return out
}
