package indexing

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/fsindex/internal/cancel"
	"github.com/standardbeagle/fsindex/internal/types"
	"github.com/standardbeagle/fsindex/testhelpers"
)

func TestTranslateOp(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want types.EventFlag
	}{
		{fsnotify.Create, types.EventFlagItemCreated},
		{fsnotify.Write, types.EventFlagItemModified},
		{fsnotify.Remove, types.EventFlagItemRemoved},
		{fsnotify.Rename, types.EventFlagItemRenamed},
		{fsnotify.Chmod, types.EventFlagItemInodeMetaMod},
		{fsnotify.Create | fsnotify.Write, types.EventFlagItemCreated | types.EventFlagItemModified},
		{0, types.EventFlagNone},
	}
	for _, tt := range tests {
		if got := translateOp(tt.op); got != tt.want {
			t.Errorf("translateOp(%v) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

// TestEventDebouncerBatches tests that a burst is applied as one batch in
// arrival order.
func TestEventDebouncerBatches(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]types.FsEvent
	)
	d := newEventDebouncer(20*time.Millisecond, func(evs []types.FsEvent) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, evs)
	})

	for i := 1; i <= 5; i++ {
		d.addEvent(types.FsEvent{ID: types.EventID(i), Path: "/r/f"})
	}
	assert.Equal(t, 5, d.pending())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, 2*time.Second, 5*time.Millisecond)
	d.stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches[0], 5)
	for i, ev := range batches[0] {
		assert.EqualValues(t, i+1, ev.ID)
	}
}

// TestEventDebouncerStopFlushes tests that stop applies queued events and
// rejects later ones.
func TestEventDebouncerStopFlushes(t *testing.T) {
	var applied []types.FsEvent
	d := newEventDebouncer(time.Hour, func(evs []types.FsEvent) {
		applied = append(applied, evs...)
	})

	d.addEvent(types.FsEvent{ID: 1})
	d.addEvent(types.FsEvent{ID: 2})
	d.stop()
	assert.Len(t, applied, 2)

	d.addEvent(types.FsEvent{ID: 3})
	assert.Equal(t, 0, d.pending())
}

// startWatcher builds an index over tree and starts watching it.
func startWatcher(t *testing.T, tree testhelpers.FSTree) (*Index, *Watcher, string) {
	t.Helper()
	idx, root := buildTestIndex(t, tree, "**/ignored")

	w, err := NewWatcher(idx)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return idx, w, root
}

const hourMs = int(time.Hour / time.Millisecond)

// idleWatcher returns an unstarted watcher whose debounce window never
// closes on its own, so queued events are only applied by Stop.
func idleWatcher(t *testing.T) (*Index, *Watcher, string) {
	t.Helper()
	root := testhelpers.FSTree{"a.txt": "a"}.Create(t)
	cfg := testhelpers.NewTestConfigBuilder(t, root).WithDebounceMs(hourMs).Build()
	idx, err := BuildIndex(context.Background(), cfg, cancel.Noop())
	require.NoError(t, err)
	w, err := NewWatcher(idx)
	require.NoError(t, err)
	return idx, w, root
}

// queued returns a copy of the events waiting in the debouncer.
func queued(w *Watcher) []types.FsEvent {
	w.debouncer.mu.Lock()
	defer w.debouncer.mu.Unlock()
	return append([]types.FsEvent(nil), w.debouncer.events...)
}

func indexed(idx *Index, path string) func() bool {
	return func() bool {
		_, ok := lookup(idx, path)
		return ok
	}
}

// TestWatcherTracksChanges tests creation and deletion end to end through
// fsnotify.
func TestWatcherTracksChanges(t *testing.T) {
	idx, w, root := startWatcher(t, testhelpers.FSTree{"a.txt": "a", "sub/b.txt": "b"})

	created := filepath.Join(root, "sub", "c.txt")
	testhelpers.WriteFile(t, created, "c")
	require.Eventually(t, indexed(idx, created), 5*time.Second, 10*time.Millisecond)

	testhelpers.RemoveAll(t, filepath.Join(root, "a.txt"))
	require.Eventually(t, func() bool { return !indexed(idx, filepath.Join(root, "a.txt"))() },
		5*time.Second, 10*time.Millisecond)

	assert.Greater(t, idx.LastEventID(), types.EventID(0))
	stats := w.Stats()
	assert.True(t, stats.IsActive)
	assert.Greater(t, stats.EventsProcessed, int64(0))
}

// TestWatcherNewDirectory tests that files created inside a brand new
// directory are picked up.
func TestWatcherNewDirectory(t *testing.T) {
	idx, _, root := startWatcher(t, testhelpers.FSTree{"a.txt": "a"})

	deep := filepath.Join(root, "new", "nested", "file.txt")
	testhelpers.WriteFile(t, deep, "x")
	require.Eventually(t, indexed(idx, deep), 5*time.Second, 10*time.Millisecond)

	later := filepath.Join(root, "new", "nested", "later.txt")
	testhelpers.WriteFile(t, later, "y")
	require.Eventually(t, indexed(idx, later), 5*time.Second, 10*time.Millisecond)
}

// TestWatcherSkipsExcluded tests that excluded directories stay out of the
// index while their siblings are tracked.
func TestWatcherSkipsExcluded(t *testing.T) {
	idx, _, root := startWatcher(t, testhelpers.FSTree{"ignored/": "", "a.txt": "a"})

	testhelpers.WriteFile(t, filepath.Join(root, "ignored", "junk.txt"), "j")
	marker := filepath.Join(root, "marker.txt")
	testhelpers.WriteFile(t, marker, "m")
	require.Eventually(t, indexed(idx, marker), 5*time.Second, 10*time.Millisecond)

	_, ok := lookup(idx, filepath.Join(root, "ignored", "junk.txt"))
	assert.False(t, ok)
}

// TestWatcherStopAppliesPending tests that events still in the debounce
// window are applied by Stop.
func TestWatcherStopAppliesPending(t *testing.T) {
	root := testhelpers.FSTree{"a.txt": "a"}.Create(t)
	cfg := testhelpers.NewTestConfigBuilder(t, root).WithDebounceMs(hourMs).Build()
	idx, err := BuildIndex(context.Background(), cfg, cancel.Noop())
	require.NoError(t, err)

	w, err := NewWatcher(idx)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		results []ApplyResult
	)
	w.SetBatchCallback(func(res ApplyResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, res)
	})
	require.NoError(t, w.Start())

	created := filepath.Join(root, "b.txt")
	testhelpers.WriteFile(t, created, "b")
	require.Eventually(t, func() bool { return w.debouncer.pending() > 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	_, ok := lookup(idx, created)
	assert.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, results, 1)
	assert.False(t, w.Stats().IsActive)
}

// TestWatcherOverflowRescans tests that a queue overflow becomes a full rescan
// that picks up changes no event reported.
func TestWatcherOverflowRescans(t *testing.T) {
	idx, w, root := idleWatcher(t)

	hidden := filepath.Join(root, "hidden.txt")
	testhelpers.WriteFile(t, hidden, "h")

	w.handleError(fsnotify.ErrEventOverflow)
	events := queued(w)
	require.Len(t, events, 1)
	ev := events[0]
	assert.True(t, ev.Flags.HistoryLost())
	assert.Equal(t, root, ev.Path)

	require.NoError(t, w.Stop())

	_, ok := lookup(idx, hidden)
	assert.True(t, ok)
}

// TestWatcherContinuesEventIDs tests that synthetic ids resume after the
// index's last applied id.
func TestWatcherContinuesEventIDs(t *testing.T) {
	root := testhelpers.FSTree{"a.txt": "a"}.Create(t)
	cfg := testhelpers.NewTestConfigBuilder(t, root).WithDebounceMs(hourMs).Build()
	idx, err := BuildIndex(context.Background(), cfg, cancel.Noop())
	require.NoError(t, err)
	idx.lastEventID = 100

	w, err := NewWatcher(idx)
	require.NoError(t, err)

	w.enqueue(filepath.Join(root, "a.txt"), types.EventFlagItemModified)
	events := queued(w)
	require.Len(t, events, 1)
	assert.EqualValues(t, 101, events[0].ID)

	require.NoError(t, w.Stop())
	assert.EqualValues(t, 101, idx.LastEventID())
}
