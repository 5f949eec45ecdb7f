package indexing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/fsindex/internal/cancel"
	"github.com/standardbeagle/fsindex/internal/debug"
	"github.com/standardbeagle/fsindex/internal/types"
)

// Watcher feeds fsnotify notifications into an Index.
//
// fsnotify carries no event ids, so the watcher numbers events itself,
// continuing from the index's last applied id. A queue overflow is reported
// as lost history, which makes the index rescan the root.
type Watcher struct {
	watcher   *fsnotify.Watcher
	index     *Index
	data      *WalkData
	debouncer *eventDebouncer
	nextID    atomic.Uint64
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Called after every applied batch, when set
	onBatch func(ApplyResult, error)

	// Watch mode statistics
	eventsProcessed int64
	errorCount      int64
	lastEventTime   time.Time
	statsMu         sync.RWMutex
}

// WatchStats contains statistics about file watching operations
type WatchStats struct {
	EventsProcessed int64
	ErrorCount      int64
	LastEventTime   time.Time
	IsActive        bool
}

// NewWatcher creates a watcher for idx using the index's debounce setting.
func NewWatcher(idx *Index) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	w := &Watcher{
		watcher: fsw,
		index:   idx,
		data:    newWalkData(idx.Config(), cancel.Noop()),
		ctx:     ctx,
		cancel:  cancelFn,
	}
	w.nextID.Store(uint64(idx.LastEventID()))
	debounce := time.Duration(idx.Config().Index.WatchDebounceMs) * time.Millisecond
	w.debouncer = newEventDebouncer(debounce, w.applyBatch)
	return w, nil
}

// SetBatchCallback registers fn to run after each batch is applied.
// Call before Start.
func (w *Watcher) SetBatchCallback(fn func(ApplyResult, error)) {
	w.onBatch = fn
}

// Start adds watches below the index root and begins processing events.
func (w *Watcher) Start() error {
	root := w.index.Root()
	debug.LogWatch("starting watcher for %s\n", root)

	if err := w.addWatches(root); err != nil {
		return fmt.Errorf("failed to add watches starting from %s: %w", root, err)
	}

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop closes the watcher and applies events still waiting in the debouncer.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	w.debouncer.stop()
	debug.LogWatch("watcher stopped\n")
	return err
}

// addWatches watches dir and every directory below it that is not excluded.
// Symlinks are not followed.
func (w *Watcher) addWatches(dir string) error {
	root := w.index.Root()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // Skip unreadable entries, continue walking
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.data.Excluded(root, path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			log.Printf("Warning: failed to add watch for %s: %v", path, err)
		}
		return nil
	})
}

// processEvents forwards fsnotify events and errors until Stop.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleError(err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	flags := translateOp(event.Op)
	if flags == types.EventFlagNone {
		return
	}

	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
		if info, err := lstat(event.Name); err == nil {
			flags |= typeFlag(types.FileTypeFromMode(info.Mode()))
			// Entries may appear in a new directory before its watch exists,
			// so the directory is rescanned as a whole.
			if info.IsDir() && event.Has(fsnotify.Create) {
				flags |= types.EventFlagMustScanSubDirs
				if !w.data.Excluded(w.index.Root(), event.Name) {
					if err := w.addWatches(event.Name); err != nil {
						debug.LogWatch("watch %s: %v\n", event.Name, err)
					}
				}
			}
		}
	}

	w.enqueue(event.Name, flags)
}

func (w *Watcher) handleError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		log.Printf("File watcher queue overflowed, rescanning %s", w.index.Root())
		w.enqueue(w.index.Root(), types.EventFlagUserDropped|types.EventFlagMustScanSubDirs)
		return
	}
	log.Printf("File watcher error: %v", err)
	w.incrementStats(0, 1)
}

func (w *Watcher) enqueue(path string, flags types.EventFlag) {
	ev := types.FsEvent{
		Path:  filepath.Clean(path),
		Flags: flags,
		ID:    types.EventID(w.nextID.Add(1)),
	}
	debug.LogWatch("queued %s\n", ev)
	w.debouncer.addEvent(ev)
}

func (w *Watcher) applyBatch(events []types.FsEvent) {
	res, err := w.index.ApplyChanges(events)
	if err != nil {
		log.Printf("Applying %d file events: %v", len(events), err)
		w.incrementStats(int64(len(events)), 1)
	} else {
		w.incrementStats(int64(len(events)), 0)
	}
	if w.onBatch != nil {
		w.onBatch(res, err)
	}
}

// translateOp maps fsnotify operations onto change flags.
func translateOp(op fsnotify.Op) types.EventFlag {
	var flags types.EventFlag
	if op.Has(fsnotify.Create) {
		flags |= types.EventFlagItemCreated
	}
	if op.Has(fsnotify.Write) {
		flags |= types.EventFlagItemModified
	}
	if op.Has(fsnotify.Remove) {
		flags |= types.EventFlagItemRemoved
	}
	if op.Has(fsnotify.Rename) {
		flags |= types.EventFlagItemRenamed
	}
	if op.Has(fsnotify.Chmod) {
		flags |= types.EventFlagItemInodeMetaMod
	}
	return flags
}

func typeFlag(ft types.FileType) types.EventFlag {
	switch ft {
	case types.FileTypeFile:
		return types.EventFlagItemIsFile
	case types.FileTypeDir:
		return types.EventFlagItemIsDir
	case types.FileTypeSymlink:
		return types.EventFlagItemIsSymlink
	default:
		return types.EventFlagNone
	}
}

// incrementStats updates watch mode statistics
func (w *Watcher) incrementStats(events int64, errors int64) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	w.eventsProcessed += events
	w.errorCount += errors
	w.lastEventTime = time.Now()
}

// Stats returns current watch mode statistics
func (w *Watcher) Stats() WatchStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	return WatchStats{
		EventsProcessed: w.eventsProcessed,
		ErrorCount:      w.errorCount,
		LastEventTime:   w.lastEventTime,
		IsActive:        w.ctx.Err() == nil,
	}
}

// eventDebouncer batches events until the stream has been quiet for the
// debounce period, then hands the batch over in arrival order.
type eventDebouncer struct {
	mu       sync.Mutex
	events   []types.FsEvent
	debounce time.Duration
	timer    *time.Timer
	stopped  bool

	// held while a batch is being applied
	flushMu sync.Mutex
	apply   func([]types.FsEvent)
}

func newEventDebouncer(debounce time.Duration, apply func([]types.FsEvent)) *eventDebouncer {
	return &eventDebouncer{debounce: debounce, apply: apply}
}

// addEvent queues ev and restarts the quiet period.
func (d *eventDebouncer) addEvent(ev types.FsEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.events = append(d.events, ev)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.flush)
}

// pending returns the number of queued events.
func (d *eventDebouncer) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// flush applies all queued events.
func (d *eventDebouncer) flush() {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.mu.Lock()
	events := d.events
	d.events = nil
	d.mu.Unlock()

	if len(events) == 0 {
		return
	}
	debug.LogWatch("processing %d debounced events\n", len(events))
	d.apply(events)
}

// stop rejects new events, waits for a running flush and applies what is
// still queued.
func (d *eventDebouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.flush()
}
