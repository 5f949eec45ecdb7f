package metrics

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/core"
	"github.com/standardbeagle/fsindex/internal/types"
)

// IndexStats summarizes the contents of a node store.
type IndexStats struct {
	RootPath        string
	Nodes           int64
	Files           int64
	Dirs            int64
	Symlinks        int64
	Unknown         int64
	MetadataEntries int64
	TotalSizeBytes  int64

	// ExtensionDistribution maps a lower-cased extension (".go", or "" for
	// none) to the files carrying it.
	ExtensionDistribution map[string]ExtensionStats
}

// ExtensionStats is the per-extension share of the indexed files.
type ExtensionStats struct {
	FileCount      int64
	TotalSizeBytes int64
}

// NewIndexStats creates an empty IndexStats
func NewIndexStats() *IndexStats {
	return &IndexStats{ExtensionDistribution: make(map[string]ExtensionStats)}
}

// ComputeIndexStats walks every slot of the store once. The caller must hold
// whatever lock keeps the store stable.
func ComputeIndexStats(store *core.NodeStore) *IndexStats {
	st := NewIndexStats()
	st.RootPath = store.RootPath()
	meta := store.Metadata()
	st.MetadataEntries = int64(meta.Len())

	store.Range(func(h alloc.Handle, n *core.Node) bool {
		st.Nodes++
		switch n.Type {
		case types.FileTypeFile:
			st.Files++
		case types.FileTypeDir:
			st.Dirs++
		case types.FileTypeSymlink:
			st.Symlinks++
		default:
			st.Unknown++
		}
		if n.Type != types.FileTypeFile {
			return true
		}

		var size int64
		if m, ok := meta.Get(h.Index); ok {
			size = int64(m.Size)
		}
		st.TotalSizeBytes += size

		ext := strings.ToLower(path.Ext(n.Name))
		es := st.ExtensionDistribution[ext]
		es.FileCount++
		es.TotalSizeBytes += size
		st.ExtensionDistribution[ext] = es
		return true
	})
	return st
}

type extensionRow struct {
	ext   string
	stats ExtensionStats
}

// topExtensions returns extensions by descending file count, ties by name.
func (st *IndexStats) topExtensions(limit int) []extensionRow {
	rows := make([]extensionRow, 0, len(st.ExtensionDistribution))
	for ext, es := range st.ExtensionDistribution {
		rows = append(rows, extensionRow{ext, es})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].stats.FileCount != rows[j].stats.FileCount {
			return rows[i].stats.FileCount > rows[j].stats.FileCount
		}
		return rows[i].ext < rows[j].ext
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// FormatAsJSON returns stats as a JSON-ready map
func (st *IndexStats) FormatAsJSON() map[string]interface{} {
	exts := make([]map[string]interface{}, 0, len(st.ExtensionDistribution))
	for _, row := range st.topExtensions(0) {
		exts = append(exts, map[string]interface{}{
			"extension":  row.ext,
			"files":      row.stats.FileCount,
			"size_bytes": row.stats.TotalSizeBytes,
		})
	}

	return map[string]interface{}{
		"root": st.RootPath,
		"summary": map[string]interface{}{
			"nodes":            st.Nodes,
			"files":            st.Files,
			"dirs":             st.Dirs,
			"symlinks":         st.Symlinks,
			"unknown":          st.Unknown,
			"metadata_entries": st.MetadataEntries,
			"total_size_mb":    float64(st.TotalSizeBytes) / 1024.0 / 1024.0,
		},
		"extensions": exts,
	}
}

// FormatAsText returns stats formatted as human-readable text
func (st *IndexStats) FormatAsText() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Index of %s\n", st.RootPath))
	sb.WriteString("─────────────────────────────────────────────\n")
	sb.WriteString(fmt.Sprintf("  Nodes:            %d\n", st.Nodes))
	sb.WriteString(fmt.Sprintf("  Files:            %d\n", st.Files))
	sb.WriteString(fmt.Sprintf("  Directories:      %d\n", st.Dirs))
	sb.WriteString(fmt.Sprintf("  Symlinks:         %d\n", st.Symlinks))
	if st.Unknown > 0 {
		sb.WriteString(fmt.Sprintf("  Other:            %d\n", st.Unknown))
	}
	sb.WriteString(fmt.Sprintf("  Metadata entries: %d\n", st.MetadataEntries))
	sb.WriteString(fmt.Sprintf("  Total size:       %.2f MB\n", float64(st.TotalSizeBytes)/1024.0/1024.0))

	rows := st.topExtensions(10)
	if len(rows) > 0 {
		sb.WriteString("\nTop extensions\n")
		sb.WriteString("─────────────────────────────────────────────\n")
		for _, row := range rows {
			name := row.ext
			if name == "" {
				name = "(none)"
			}
			sb.WriteString(fmt.Sprintf("  %-12s %8d files  %9.2f MB\n",
				name, row.stats.FileCount, float64(row.stats.TotalSizeBytes)/1024.0/1024.0))
		}
	}
	return sb.String()
}
