package indexing

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/fsindex/internal/metrics"
	"github.com/standardbeagle/fsindex/internal/types"
	"github.com/standardbeagle/fsindex/testhelpers"
)

func TestCheckpointNowSkipsClean(t *testing.T) {
	idx, root := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"})
	m := metrics.NewIndexMetrics(prometheus.NewRegistry())
	idx.SetMetrics(m)
	dest := idx.Config().Index.Database

	c := NewCheckpointer(idx, dest, 0)

	saved, err := c.CheckpointNow()
	require.NoError(t, err)
	assert.True(t, saved, "a fresh build is dirty")
	_, err = os.Stat(dest)
	require.NoError(t, err)

	saved, err = c.CheckpointNow()
	require.NoError(t, err)
	assert.False(t, saved)

	testhelpers.WriteFile(t, filepath.Join(root, "b.txt"), "b")
	_, err = idx.ApplyChanges([]types.FsEvent{event(1, filepath.Join(root, "b.txt"), types.EventFlagItemCreated)})
	require.NoError(t, err)

	saved, err = c.CheckpointNow()
	require.NoError(t, err)
	assert.True(t, saved)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CheckpointsTotal.WithLabelValues("saved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckpointsTotal.WithLabelValues("skipped")))

	loaded, err := OpenIndex(dest, idx.Config())
	require.NoError(t, err)
	assert.EqualValues(t, 1, loaded.LastEventID())
	_, ok := lookup(loaded, filepath.Join(root, "b.txt"))
	assert.True(t, ok)
}

func TestCheckpointNowReportsErrors(t *testing.T) {
	idx, _ := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"})
	// A regular file where the destination directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	testhelpers.WriteFile(t, blocker, "x")

	c := NewCheckpointer(idx, filepath.Join(blocker, "index.fsix"), 0)
	var gotErr atomic.Bool
	c.SetOnCheckpoint(func(saved bool, err error) {
		gotErr.Store(err != nil)
	})

	saved, err := c.CheckpointNow()
	assert.Error(t, err)
	assert.False(t, saved)
	assert.True(t, gotErr.Load())
	assert.True(t, idx.Dirty(), "a failed checkpoint leaves the index dirty")
}

func TestCheckpointerPeriodic(t *testing.T) {
	idx, _ := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"})
	dest := idx.Config().Index.Database

	c := NewCheckpointer(idx, dest, 10*time.Millisecond)
	var saves atomic.Int32
	c.SetOnCheckpoint(func(saved bool, err error) {
		if saved {
			saves.Add(1)
		}
	})
	c.Start()

	require.Eventually(t, func() bool { return saves.Load() >= 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())
	assert.False(t, idx.Dirty())

	// Stop is idempotent.
	require.NoError(t, c.Stop())
}

func TestCheckpointerStopSaves(t *testing.T) {
	idx, _ := buildTestIndex(t, testhelpers.FSTree{"a.txt": "a"})
	dest := idx.Config().Index.Database

	c := NewCheckpointer(idx, dest, 0)
	c.Start()
	require.NoError(t, c.Stop())

	_, err := os.Stat(dest)
	assert.NoError(t, err)
	assert.False(t, idx.Dirty())
}
