package indexing

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/semaphore"

	"github.com/standardbeagle/fsindex/internal/cancel"
	"github.com/standardbeagle/fsindex/internal/debug"
	fserrors "github.com/standardbeagle/fsindex/internal/errors"
	"github.com/standardbeagle/fsindex/internal/types"
)

// WalkData configures one walk and collects its progress counters.
// A WalkData must not be reused across concurrent walks.
type WalkData struct {
	// IgnorePath is never entered or reported, typically the index's own
	// storage directory.
	IgnorePath string
	// NeedMetadata requests a status read for every file. Directories get
	// metadata regardless because they are stat'ed anyway.
	NeedMetadata bool
	// Exclude holds doublestar patterns matched against the slash-separated
	// path relative to the walk root.
	Exclude []string
	// Token is polled once per directory.
	Token cancel.Token
	// MaxGoroutines bounds the fan-out; 0 means runtime.NumCPU()*4.
	MaxGoroutines int

	// Progress counters; approximate while a walk runs.
	NumFiles atomic.Uint64
	NumDirs  atomic.Uint64

	sem *semaphore.Weighted
}

// NewWalkData creates walk settings with an uncancellable token.
func NewWalkData(ignorePath string, needMetadata bool) *WalkData {
	return &WalkData{
		IgnorePath:   ignorePath,
		NeedMetadata: needMetadata,
		Token:        cancel.Noop(),
	}
}

// Stats returns a snapshot of the progress counters.
func (d *WalkData) Stats() types.WalkStats {
	return types.WalkStats{Files: d.NumFiles.Load(), Dirs: d.NumDirs.Load()}
}

// ignored reports whether a path must not appear in the tree.
func (d *WalkData) ignored(path, rel string) bool {
	if d.IgnorePath != "" && path == d.IgnorePath {
		return true
	}
	if rel == "" {
		return false
	}
	for _, pattern := range d.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Excluded reports whether path must stay out of the index of root: it lies
// outside root, or it or one of its ancestors below root is the ignore path
// or matches an exclude pattern.
func (d *WalkData) Excluded(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	rel, ok := relSlash(root, path)
	if !ok {
		return true
	}
	if d.IgnorePath != "" {
		ignore := filepath.Clean(d.IgnorePath)
		if path == ignore {
			return true
		}
		if _, under := relSlash(ignore, path); under {
			return true
		}
	}
	for rel != "" {
		if d.ignored("", rel) {
			return true
		}
		i := strings.LastIndexByte(rel, '/')
		if i < 0 {
			break
		}
		rel = rel[:i]
	}
	return false
}

// Walk scans the tree at root without following symlinks and returns it,
// or nil when root is the ignore path or does not exist.
//
// Entries that vanish during the scan are dropped. Entries whose status
// cannot be read are kept with no metadata. The root itself is not counted
// in the progress counters, so NumFiles+NumDirs equals the number of
// non-root nodes returned.
//
// When the token is cancelled mid-walk the returned tree is incomplete and
// should be discarded.
func Walk(root string, data *WalkData) *types.WalkNode {
	root = filepath.Clean(root)
	data.prepare()
	if data.ignored(root, "") {
		debug.LogIndexing("root %s is the ignore path, nothing to scan\n", root)
		return nil
	}
	return data.walkPath(root, "", filepath.Base(root), types.FileTypeUnknown, true)
}

// WalkSubtree rescans path, which lies inside root, applying the same
// ignore and exclude rules as a full walk of root. Unlike Walk, the subtree
// root is counted like any other node.
func WalkSubtree(root, path string, data *WalkData) *types.WalkNode {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	rel, ok := relSlash(root, path)
	if !ok {
		return nil
	}
	if rel == "" {
		return Walk(root, data)
	}
	data.prepare()
	if data.ignored(path, rel) {
		return nil
	}
	return data.walkPath(path, rel, filepath.Base(path), types.FileTypeUnknown, false)
}

func (d *WalkData) prepare() {
	if d.IgnorePath != "" {
		d.IgnorePath = filepath.Clean(d.IgnorePath)
	}
	limit := d.MaxGoroutines
	if limit <= 0 {
		limit = runtime.NumCPU() * 4
	}
	d.sem = semaphore.NewWeighted(int64(limit))
}

// relSlash returns path relative to root with forward slashes, "" for the
// root itself and false for paths outside root.
func relSlash(root, path string) (string, bool) {
	if path == root {
		return "", true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return filepath.ToSlash(path[len(prefix):]), true
}

// lstat reads entry status, retrying reads interrupted by a signal.
func lstat(path string) (os.FileInfo, error) {
	for {
		info, err := os.Lstat(path)
		if err != nil && fserrors.IsInterrupted(err) {
			continue
		}
		return info, err
	}
}

// walkPath stats path and, for directories, scans its entries. hint is the
// type reported by the parent's directory listing, used when the status
// read fails.
func (d *WalkData) walkPath(path, rel, name string, hint types.FileType, isRoot bool) *types.WalkNode {
	node := &types.WalkNode{Name: name, Type: hint}

	info, err := lstat(path)
	switch {
	case err == nil:
		meta := types.MetadataFromFileInfo(path, info)
		node.Type = meta.Type
		if node.Type == types.FileTypeDir || d.NeedMetadata || isRoot {
			node.Meta = &meta
		}
	case fserrors.IsNotFound(err):
		// Lost a race with deletion.
		return nil
	default:
		debug.LogIndexing("%v\n", fserrors.NewScanError("lstat", path, err))
	}

	if node.Type != types.FileTypeDir {
		if !isRoot {
			d.NumFiles.Add(1)
		}
		return node
	}
	if !isRoot {
		d.NumDirs.Add(1)
	}
	if err != nil || d.Token.IsCancelled() {
		return node
	}

	// On failure ReadDir still returns the entries read so far.
	entries, err := os.ReadDir(path)
	if err != nil && !fserrors.IsNotFound(err) {
		debug.LogIndexing("%v\n", fserrors.NewScanError("readdir", path, err))
	}
	if len(entries) == 0 {
		return node
	}

	results := make([]*types.WalkNode, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		childName := entry.Name()
		childPath := filepath.Join(path, childName)
		childRel := childName
		if rel != "" {
			childRel = rel + "/" + childName
		}
		if d.ignored(childPath, childRel) {
			continue
		}

		// Run on a fresh goroutine while the pool has room, inline otherwise,
		// so deep trees never wait on a slot held by an ancestor.
		if d.sem.TryAcquire(1) {
			wg.Add(1)
			go func(i int, entry os.DirEntry) {
				defer wg.Done()
				defer d.sem.Release(1)
				results[i] = d.walkEntry(childPath, childRel, entry)
			}(i, entry)
		} else {
			results[i] = d.walkEntry(childPath, childRel, entry)
		}
	}
	wg.Wait()

	children := results[:0]
	for _, c := range results {
		if c != nil {
			children = append(children, c)
		}
	}
	if len(children) > 0 {
		node.Children = children
	}
	return node
}

// walkEntry evaluates one directory entry. Only directories are stat'ed
// unconditionally; symlinks and files are stat'ed when metadata is wanted.
func (d *WalkData) walkEntry(path, rel string, entry os.DirEntry) *types.WalkNode {
	hint := types.FileTypeFromMode(entry.Type())
	if hint == types.FileTypeDir || d.NeedMetadata {
		return d.walkPath(path, rel, entry.Name(), hint, false)
	}
	d.NumFiles.Add(1)
	return &types.WalkNode{Name: entry.Name(), Type: hint}
}
