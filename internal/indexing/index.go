package indexing

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/fsindex/internal/cancel"
	"github.com/standardbeagle/fsindex/internal/config"
	"github.com/standardbeagle/fsindex/internal/core"
	"github.com/standardbeagle/fsindex/internal/debug"
	fserrors "github.com/standardbeagle/fsindex/internal/errors"
	"github.com/standardbeagle/fsindex/internal/metrics"
	"github.com/standardbeagle/fsindex/internal/searchtypes"
	"github.com/standardbeagle/fsindex/internal/types"
)

// Index is a live filesystem index: a node store plus the position in the
// change stream it reflects.
//
// Mutations (ApplyChanges, Rescan) hold the write lock. Searches, stats and
// checkpoints hold the read lock, so they see the store before or after a
// batch, never in between.
type Index struct {
	mu          sync.RWMutex
	cfg         *config.Config
	store       *core.NodeStore
	lastEventID types.EventID

	// changes counts mutations; saved is the value of changes at the last
	// successful checkpoint.
	changes atomic.Uint64
	saved   atomic.Uint64

	metrics *metrics.IndexMetrics
}

// newWalkData derives walk settings from the configuration.
func newWalkData(cfg *config.Config, token cancel.Token) *WalkData {
	data := NewWalkData(cfg.Index.IgnorePath, cfg.Index.CollectMetadata)
	data.Exclude = cfg.Exclude
	data.MaxGoroutines = cfg.Performance.MaxGoroutines
	data.Token = token
	return data
}

// BuildIndex runs a full walk of cfg.Project.Root. It returns
// cancel.ErrCancelled when token is superseded before the walk completes;
// a partial tree is never returned.
func BuildIndex(ctx context.Context, cfg *config.Config, token cancel.Token) (*Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := &Index{cfg: cfg}
	store, err := idx.walkRoot(token)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx.store = store
	// A fresh build has never been saved.
	idx.changes.Store(1)
	return idx, nil
}

// walkRoot scans the whole root into a new store.
func (idx *Index) walkRoot(token cancel.Token) (*core.NodeStore, error) {
	root := idx.cfg.Project.Root
	data := newWalkData(idx.cfg, token)

	start := time.Now()
	tree := Walk(root, data)
	if token.IsCancelled() {
		debug.LogIndexing("walk of %s superseded after %v\n", root, time.Since(start))
		return nil, cancel.ErrCancelled
	}
	elapsed := time.Since(start)
	idx.metrics.RecordWalk(true, elapsed)

	stats := data.Stats()
	log.Printf("Indexed %s: %d files, %d directories in %v", root, stats.Files, stats.Dirs, elapsed)

	store := core.NewNodeStore(root)
	store.LoadTree(tree)
	return store, nil
}

// OpenIndex loads a persisted index for cfg.Project.Root. The artifact must
// have been built for the same root.
func OpenIndex(source string, cfg *config.Config) (*Index, error) {
	store, state, err := core.LoadIndex(source)
	if err != nil {
		return nil, err
	}
	if store.RootPath() != cfg.Project.Root {
		return nil, fserrors.NewPersistError("open", source,
			fmt.Errorf("artifact indexes %s, configured root is %s", store.RootPath(), cfg.Project.Root))
	}
	log.Printf("Loaded index of %s (%d nodes, last event %d)", store.RootPath(), store.Len(), state.LastEventID)
	return &Index{cfg: cfg, store: store, lastEventID: state.LastEventID}, nil
}

// OpenOrBuild opens the configured database, falling back to a full build
// when it is missing, damaged or built for another root.
func OpenOrBuild(ctx context.Context, cfg *config.Config, token cancel.Token) (*Index, error) {
	idx, err := OpenIndex(cfg.Index.Database, cfg)
	if err == nil {
		return idx, nil
	}
	if !fserrors.IsNotFound(err) {
		log.Printf("Discarding index %s: %v", cfg.Index.Database, err)
	}
	return BuildIndex(ctx, cfg, token)
}

// SetMetrics attaches a metrics sink. Call before sharing the index.
func (idx *Index) SetMetrics(m *metrics.IndexMetrics) {
	idx.metrics = m
}

// Config returns the configuration the index was built with.
func (idx *Index) Config() *config.Config {
	return idx.cfg
}

// Root returns the indexed root path.
func (idx *Index) Root() string {
	return idx.cfg.Project.Root
}

// LastEventID returns the id of the last change notification applied.
func (idx *Index) LastEventID() types.EventID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lastEventID
}

// Dirty reports whether the index changed since the last checkpoint.
func (idx *Index) Dirty() bool {
	return idx.changes.Load() != idx.saved.Load()
}

// Search runs q against the index. It returns cancel.ErrCancelled, and no
// results, when token is superseded mid-scan.
func (idx *Index) Search(q searchtypes.Query, token cancel.Token) ([]searchtypes.Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	start := time.Now()
	results, err := idx.store.Search(q, token)
	switch {
	case err == nil:
		idx.metrics.RecordSearch("ok", time.Since(start))
	case cancel.IsCancelled(err):
		idx.metrics.RecordSearch("cancelled", 0)
	default:
		idx.metrics.RecordSearch("error", 0)
	}
	return results, err
}

// View runs fn with the store under the read lock. fn must not retain the
// store or mutate it.
func (idx *Index) View(fn func(store *core.NodeStore)) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	fn(idx.store)
}

// Stats computes index statistics and publishes the node gauges.
func (idx *Index) Stats() *metrics.IndexStats {
	idx.mu.RLock()
	st := metrics.ComputeIndexStats(idx.store)
	idx.mu.RUnlock()
	idx.metrics.SetNodeCounts(st)
	return st
}

// Checkpoint saves the index to dest atomically.
func (idx *Index) Checkpoint(dest string) error {
	idx.mu.RLock()
	version := idx.changes.Load()
	err := core.SaveIndex(dest, idx.store, core.IndexState{
		LastEventID: idx.lastEventID,
		Compression: idx.cfg.CompressionKind(),
	})
	idx.mu.RUnlock()

	if err != nil {
		idx.metrics.RecordCheckpoint("error")
		return err
	}
	idx.saved.Store(version)
	idx.metrics.RecordCheckpoint("saved")
	return nil
}

// Rescan replaces the whole index with a fresh walk. On cancellation the
// current contents are kept.
func (idx *Index) Rescan(token cancel.Token) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.rescanRootLocked(token)
}

func (idx *Index) rescanRootLocked(token cancel.Token) error {
	data := newWalkData(idx.cfg, token)
	start := time.Now()
	tree := Walk(idx.cfg.Project.Root, data)
	if token.IsCancelled() {
		return cancel.ErrCancelled
	}
	idx.metrics.RecordWalk(true, time.Since(start))

	root := idx.store.Root()
	switch {
	case tree == nil:
		if root.Valid() {
			idx.store.RemoveSubtree(root)
		}
	case !root.Valid():
		if _, err := idx.store.AttachRoot(tree); err != nil {
			return err
		}
	default:
		// Keeps the slab so stale handles to replaced nodes stay stale.
		if err := idx.store.ReplaceChildren(root, tree); err != nil {
			return err
		}
	}
	idx.changes.Add(1)
	return nil
}
