package display

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/core"
	"github.com/standardbeagle/fsindex/internal/types"
)

// TreeFormatter renders part of a node store for display
type TreeFormatter struct {
	options FormatterOptions
}

// FormatterOptions controls tree formatting
type FormatterOptions struct {
	Format       string // "text", "json", "compact"
	ShowMetadata bool   // Show size and modification time where known
	MaxDepth     int    // Maximum depth below the start node; 0 means unlimited
	Indent       string // Indentation string for json
}

// NewTreeFormatter creates a new tree formatter
func NewTreeFormatter(options FormatterOptions) *TreeFormatter {
	if options.Indent == "" {
		options.Indent = "  "
	}
	return &TreeFormatter{options: options}
}

// Format renders the subtree of store rooted at start. The caller must keep
// the store stable for the duration of the call.
func (tf *TreeFormatter) Format(store *core.NodeStore, start alloc.Index) string {
	if store == nil {
		return "No tree data available"
	}
	if _, ok := store.At(start); !ok {
		return "No tree data available"
	}

	switch tf.options.Format {
	case "json":
		return tf.formatJSON(store, start)
	case "compact":
		return tf.formatCompact(store, start)
	default:
		return tf.formatText(store, start)
	}
}

// formatText draws the tree with box-drawing branches
func (tf *TreeFormatter) formatText(store *core.NodeStore, start alloc.Index) string {
	var sb strings.Builder

	sb.WriteString(store.Path(start))
	tf.writeDetails(&sb, store, start)
	sb.WriteString("\n")

	tf.formatChildren(&sb, store, start, "", 1)
	return sb.String()
}

func (tf *TreeFormatter) formatChildren(sb *strings.Builder, store *core.NodeStore, i alloc.Index, prefix string, depth int) {
	children := store.Children(i)
	if len(children) == 0 {
		return
	}
	if tf.options.MaxDepth > 0 && depth > tf.options.MaxDepth {
		sb.WriteString(prefix)
		sb.WriteString(fmt.Sprintf("└── (+%d more)\n", len(children)))
		return
	}

	for pos, c := range children {
		isLast := pos == len(children)-1
		branch, childPrefix := "├── ", prefix+"│   "
		if isLast {
			branch, childPrefix = "└── ", prefix+"    "
		}

		sb.WriteString(prefix)
		sb.WriteString(branch)
		sb.WriteString(displayName(store, c))
		tf.writeDetails(sb, store, c)
		sb.WriteString("\n")

		tf.formatChildren(sb, store, c, childPrefix, depth+1)
	}
}

// displayName marks directories with a trailing slash and symlinks with @.
func displayName(store *core.NodeStore, i alloc.Index) string {
	n, _ := store.At(i)
	switch n.Type {
	case types.FileTypeDir:
		return n.Name + "/"
	case types.FileTypeSymlink:
		return n.Name + "@"
	default:
		return n.Name
	}
}

func (tf *TreeFormatter) writeDetails(sb *strings.Builder, store *core.NodeStore, i alloc.Index) {
	if !tf.options.ShowMetadata {
		return
	}
	meta, ok := store.Metadata().Get(i)
	if !ok {
		return
	}
	n, _ := store.At(i)
	if n.Type == types.FileTypeFile {
		sb.WriteString(fmt.Sprintf(" [%s]", FormatSize(meta.Size)))
	}
}

// formatCompact lists one root-relative path per line, like find(1)
func (tf *TreeFormatter) formatCompact(store *core.NodeStore, start alloc.Index) string {
	var lines []string
	var visit func(i alloc.Index, depth int)
	visit = func(i alloc.Index, depth int) {
		if tf.options.MaxDepth > 0 && depth > tf.options.MaxDepth {
			return
		}
		rel := store.RelPath(i)
		if rel == "" {
			rel = "."
		}
		lines = append(lines, rel)
		for _, c := range store.Children(i) {
			visit(c, depth+1)
		}
	}
	visit(start, 0)
	return strings.Join(lines, "\n")
}

// jsonNode is the json rendering of one entry
type jsonNode struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Size     *uint64     `json:"size,omitempty"`
	Modified *uint64     `json:"modified,omitempty"`
	Created  *uint64     `json:"created,omitempty"`
	Children []*jsonNode `json:"children,omitempty"`
	More     int         `json:"more,omitempty"` // children cut by MaxDepth
}

// formatJSON renders the subtree as nested json objects
func (tf *TreeFormatter) formatJSON(store *core.NodeStore, start alloc.Index) string {
	root := tf.buildJSON(store, start, 0)
	root.Name = store.Path(start)

	out, err := json.MarshalIndent(root, "", tf.options.Indent)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(out)
}

func (tf *TreeFormatter) buildJSON(store *core.NodeStore, i alloc.Index, depth int) *jsonNode {
	n, _ := store.At(i)
	node := &jsonNode{Name: n.Name, Type: n.Type.String()}

	if tf.options.ShowMetadata {
		if meta, ok := store.Metadata().Get(i); ok {
			if n.Type == types.FileTypeFile {
				size := meta.Size
				node.Size = &size
			}
			if sec, ok := meta.Modified(); ok {
				node.Modified = &sec
			}
			if sec, ok := meta.Created(); ok {
				node.Created = &sec
			}
		}
	}

	children := store.Children(i)
	if tf.options.MaxDepth > 0 && depth >= tf.options.MaxDepth {
		node.More = len(children)
		return node
	}
	for _, c := range children {
		node.Children = append(node.Children, tf.buildJSON(store, c, depth+1))
	}
	return node
}

// FormatSize renders a byte count with a binary unit suffix
func FormatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
