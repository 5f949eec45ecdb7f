package indexing

import (
	"log"
	"sync"
	"time"

	"github.com/standardbeagle/fsindex/internal/debug"
)

// Checkpointer saves an index periodically and once more on shutdown.
// A checkpoint is skipped when the index has not changed since the last one.
type Checkpointer struct {
	index    *Index
	dest     string
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup

	// Optional callback for test synchronization
	onCheckpoint func(saved bool, err error)
}

// NewCheckpointer creates a checkpointer writing idx to dest every interval.
// An interval <= 0 disables periodic saves; Stop still saves.
func NewCheckpointer(idx *Index, dest string, interval time.Duration) *Checkpointer {
	return &Checkpointer{
		index:    idx,
		dest:     dest,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic loop.
func (c *Checkpointer) Start() {
	if c.interval <= 0 {
		return
	}
	c.wg.Add(1)
	go c.run()
}

func (c *Checkpointer) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if _, err := c.CheckpointNow(); err != nil {
				log.Printf("Checkpoint to %s failed: %v", c.dest, err)
			}
		}
	}
}

// CheckpointNow saves the index if it changed and reports whether it did.
func (c *Checkpointer) CheckpointNow() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.index.Dirty() {
		debug.LogPersist("index unchanged, skipping checkpoint to %s\n", c.dest)
		c.index.metrics.RecordCheckpoint("skipped")
		c.notify(false, nil)
		return false, nil
	}

	start := time.Now()
	err := c.index.Checkpoint(c.dest)
	if err == nil {
		debug.LogPersist("checkpoint to %s took %v\n", c.dest, time.Since(start))
	}
	c.notify(err == nil, err)
	return err == nil, err
}

func (c *Checkpointer) notify(saved bool, err error) {
	if c.onCheckpoint != nil {
		c.onCheckpoint(saved, err)
	}
}

// SetOnCheckpoint sets a callback invoked after every attempt (for testing).
func (c *Checkpointer) SetOnCheckpoint(fn func(saved bool, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCheckpoint = fn
}

// Stop ends the periodic loop and writes a final checkpoint.
func (c *Checkpointer) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	_, err := c.CheckpointNow()
	return err
}
