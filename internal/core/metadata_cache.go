package core

import (
	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/types"
)

// metaEntry is one dense cache cell; set distinguishes "no metadata" from a
// zero record.
type metaEntry struct {
	meta types.NodeMetadata
	set  bool
}

// MetadataCache keeps NodeMetadata keyed by the node store's slot indices.
// Entries live in a slice parallel to the slab, so lookup is a bounds check.
//
// The cache never reads the filesystem. Callers push metadata they already
// obtained from a status read, and the node store invalidates entries when it
// frees a slot. Entries do not expire on their own.
//
// Not safe for concurrent mutation; it shares the node store's locking.
type MetadataCache struct {
	entries []metaEntry
	count   int
}

// NewMetadataCache creates a cache sized for capacity slots.
func NewMetadataCache(capacity int) *MetadataCache {
	if capacity < 0 {
		capacity = 0
	}
	return &MetadataCache{entries: make([]metaEntry, 0, capacity)}
}

// Get returns the metadata for slot i, if any.
func (c *MetadataCache) Get(i alloc.Index) (types.NodeMetadata, bool) {
	if int64(i) >= int64(len(c.entries)) {
		return types.NodeMetadata{}, false
	}
	e := c.entries[i]
	return e.meta, e.set
}

// Put stores metadata for slot i, replacing any previous entry.
func (c *MetadataCache) Put(i alloc.Index, m types.NodeMetadata) {
	if !i.Valid() {
		return
	}
	if n := int(i) + 1; n > len(c.entries) {
		if n <= cap(c.entries) {
			c.entries = c.entries[:n]
		} else {
			grown := make([]metaEntry, n, max(n, 2*cap(c.entries)))
			copy(grown, c.entries)
			c.entries = grown
		}
	}
	e := &c.entries[i]
	if !e.set {
		c.count++
	}
	e.meta = m
	e.set = true
}

// Invalidate drops the entry for slot i. Missing entries are a no-op.
func (c *MetadataCache) Invalidate(i alloc.Index) {
	if int64(i) >= int64(len(c.entries)) {
		return
	}
	e := &c.entries[i]
	if e.set {
		*e = metaEntry{}
		c.count--
	}
}

// Len returns the number of slots with metadata.
func (c *MetadataCache) Len() int {
	return c.count
}

// Range calls fn for every cached entry in slot order until fn returns false.
func (c *MetadataCache) Range(fn func(i alloc.Index, m types.NodeMetadata) bool) {
	for i := range c.entries {
		if c.entries[i].set && !fn(alloc.Index(i), c.entries[i].meta) {
			return
		}
	}
}
