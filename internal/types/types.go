package types

import (
	"io/fs"
	"os"
	"time"
)

// Common system-wide constants
const (
	// DefaultDatabaseName is the file name of the persisted index inside the cache directory
	DefaultDatabaseName = "index.fsix"

	// DefaultCacheDirName is created under the user cache dir and is the default ignore path,
	// so the index never scans its own storage.
	DefaultCacheDirName = "fsindex"

	// DefaultMaxResults caps search results when the caller does not set a limit
	DefaultMaxResults = 1000

	// CancellationPollInterval is how many nodes a search visits between token checks
	CancellationPollInterval = 1024

	// DefaultWatchDebounceMs batches change notifications before applying them
	DefaultWatchDebounceMs = 300

	// DefaultCheckpointIntervalSec is the periodic checkpoint cadence in watch mode
	DefaultCheckpointIntervalSec = 600
)

// FileType is the kind of a filesystem entry. File is the most frequent
// case and gets the smallest tag so the persisted form compresses better.
type FileType uint8

const (
	FileTypeFile FileType = iota
	FileTypeDir
	FileTypeSymlink
	FileTypeUnknown
)

func (ft FileType) String() string {
	switch ft {
	case FileTypeFile:
		return "file"
	case FileTypeDir:
		return "dir"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// ParseFileType maps a name produced by String back to a FileType.
func ParseFileType(s string) (FileType, bool) {
	switch s {
	case "file", "f":
		return FileTypeFile, true
	case "dir", "directory", "d":
		return FileTypeDir, true
	case "symlink", "link", "l":
		return FileTypeSymlink, true
	case "unknown":
		return FileTypeUnknown, true
	}
	return FileTypeUnknown, false
}

// FileTypeFromMode classifies an fs.FileMode without following symlinks.
func FileTypeFromMode(mode fs.FileMode) FileType {
	switch {
	case mode.IsRegular():
		return FileTypeFile
	case mode.IsDir():
		return FileTypeDir
	case mode&fs.ModeSymlink != 0:
		return FileTypeSymlink
	default:
		return FileTypeUnknown
	}
}

// MetaFlags records which optional NodeMetadata fields are present.
type MetaFlags uint8

const (
	MetaHasCTime MetaFlags = 1 << iota
	MetaHasMTime
)

// NodeMetadata is the packed attribute record kept per node. Times are unix
// seconds; either may be absent when the filesystem does not report it.
type NodeMetadata struct {
	_     struct{} `cbor:",toarray"`
	Type  FileType
	Flags MetaFlags
	Size  uint64
	CTime uint64
	MTime uint64
}

// Created returns the creation time, if known.
func (m NodeMetadata) Created() (uint64, bool) {
	return m.CTime, m.Flags&MetaHasCTime != 0
}

// Modified returns the modification time, if known.
func (m NodeMetadata) Modified() (uint64, bool) {
	return m.MTime, m.Flags&MetaHasMTime != 0
}

// WithCreated returns a copy with the creation time set.
func (m NodeMetadata) WithCreated(sec uint64) NodeMetadata {
	m.CTime = sec
	m.Flags |= MetaHasCTime
	return m
}

// WithModified returns a copy with the modification time set.
func (m NodeMetadata) WithModified(sec uint64) NodeMetadata {
	m.MTime = sec
	m.Flags |= MetaHasMTime
	return m
}

// Equal compares metadata field by field.
func (m NodeMetadata) Equal(o NodeMetadata) bool {
	return m.Type == o.Type && m.Flags == o.Flags && m.Size == o.Size &&
		m.CTime == o.CTime && m.MTime == o.MTime
}

// MetadataFromFileInfo converts an lstat result. path is used only to fetch
// the creation time on platforms where FileInfo does not carry it.
func MetadataFromFileInfo(path string, info os.FileInfo) NodeMetadata {
	m := NodeMetadata{Type: FileTypeFromMode(info.Mode())}
	if size := info.Size(); size > 0 {
		m.Size = uint64(size)
	}
	if sec, ok := unixSeconds(info.ModTime()); ok {
		m = m.WithModified(sec)
	}
	if created, ok := birthTime(path, info); ok {
		if sec, ok := unixSeconds(created); ok {
			m = m.WithCreated(sec)
		}
	}
	return m
}

func unixSeconds(t time.Time) (uint64, bool) {
	if t.IsZero() {
		return 0, false
	}
	sec := t.Unix()
	if sec < 0 {
		return 0, false
	}
	return uint64(sec), true
}

// WalkStats are the progress counters of one walk pass.
type WalkStats struct {
	Files uint64
	Dirs  uint64
}

// Total returns the number of non-root nodes the walk produced.
func (s WalkStats) Total() uint64 {
	return s.Files + s.Dirs
}

// WalkNode is one entry of a freshly scanned tree. Walkers build it bottom-up
// and the node store flattens it into slab slots. Meta is nil when the entry
// could not be read or metadata was not requested.
type WalkNode struct {
	Name     string
	Type     FileType
	Meta     *NodeMetadata
	Children []*WalkNode
}

// Count returns the number of nodes in the tree rooted at n, n included.
func (n *WalkNode) Count() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}
