package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/types"
)

// Node is one filesystem entry in the store. Parent and Children are slot
// indices into the same store; Children is kept sorted by name.
type Node struct {
	Name     string
	Type     types.FileType
	Parent   alloc.Index
	Children []alloc.Index
}

// IsDir reports whether the node can have children.
func (n *Node) IsDir() bool {
	return n.Type == types.FileTypeDir
}

var (
	// ErrNoParent is returned when a tree operation names a free slot.
	ErrNoParent = errors.New("parent node not present")
	// ErrNotDir is returned when inserting under a non-directory.
	ErrNotDir = errors.New("parent node is not a directory")
	// ErrExists is returned when a parent already has a child with that name.
	ErrExists = errors.New("child already exists")
)

// NodeStore is the arena of indexed entries plus their metadata cache.
//
// A store is single-writer: mutations must be serialized by the caller, and
// readers must not run concurrently with a mutation. indexing.Index provides
// that locking.
type NodeStore struct {
	slab     *alloc.Slab[Node]
	meta     *MetadataCache
	root     alloc.Index
	rootPath string
}

// NewNodeStore creates an empty store for the tree at rootPath.
func NewNodeStore(rootPath string) *NodeStore {
	return &NodeStore{
		slab:     alloc.NewSlab[Node](0),
		meta:     NewMetadataCache(0),
		root:     alloc.NoIndex,
		rootPath: filepath.Clean(rootPath),
	}
}

// RootPath returns the absolute path the store indexes.
func (s *NodeStore) RootPath() string {
	return s.rootPath
}

// Root returns the root slot, or alloc.NoIndex for an empty store.
func (s *NodeStore) Root() alloc.Index {
	return s.root
}

// Metadata returns the store's metadata cache.
func (s *NodeStore) Metadata() *MetadataCache {
	return s.meta
}

// Len returns the number of occupied slots.
func (s *NodeStore) Len() int {
	return s.slab.Len()
}

// Allocate stores a detached node and returns its handle. Tree operations
// (LoadTree, InsertChild, AttachTree) link nodes for you.
func (s *NodeStore) Allocate(n Node) alloc.Handle {
	return s.slab.Insert(n)
}

// Get returns a copy of the node behind h. The Children slice is shared with
// the store and must not be modified.
func (s *NodeStore) Get(h alloc.Handle) (Node, bool) {
	n, ok := s.slab.Get(h)
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// GetMut returns the node behind h for in-place mutation.
func (s *NodeStore) GetMut(h alloc.Handle) (*Node, bool) {
	return s.slab.Get(h)
}

// At returns the current occupant of slot i.
func (s *NodeStore) At(i alloc.Index) (*Node, bool) {
	return s.slab.At(i)
}

// HandleOf returns a generation-tagged handle for the occupant of slot i.
func (s *NodeStore) HandleOf(i alloc.Index) (alloc.Handle, bool) {
	return s.slab.HandleOf(i)
}

// Remove frees the node behind h together with its descendants and unlinks
// it from its parent, so no child list keeps naming the freed slot. A stale
// handle removes nothing.
func (s *NodeStore) Remove(h alloc.Handle) bool {
	if !s.slab.Contains(h) {
		return false
	}
	return s.RemoveSubtree(h.Index) > 0
}

// Range calls fn for every occupied slot in index order until fn returns false.
func (s *NodeStore) Range(fn func(h alloc.Handle, n *Node) bool) {
	s.slab.Range(fn)
}

// Children returns the child slots of i. The slice must not be modified.
func (s *NodeStore) Children(i alloc.Index) []alloc.Index {
	n, ok := s.slab.At(i)
	if !ok {
		return nil
	}
	return n.Children
}

// LoadTree replaces the whole store with a scanned tree. A nil tree leaves
// the store empty.
func (s *NodeStore) LoadTree(tree *types.WalkNode) {
	count := tree.Count()
	s.slab = alloc.NewSlab[Node](count)
	s.meta = NewMetadataCache(count)
	s.root = alloc.NoIndex
	if tree == nil {
		return
	}
	s.root = s.insertTree(alloc.NoIndex, tree)
}

// AttachRoot installs tree as the root of an empty store. Unlike LoadTree it
// keeps the slab, so handles from before the root was removed stay stale.
func (s *NodeStore) AttachRoot(tree *types.WalkNode) (alloc.Handle, error) {
	if s.root.Valid() {
		return alloc.Handle{}, fmt.Errorf("%w: root of %s", ErrExists, s.rootPath)
	}
	s.root = s.insertTree(alloc.NoIndex, tree)
	h, _ := s.slab.HandleOf(s.root)
	return h, nil
}

// insertTree allocates tree and its descendants depth first and returns the
// slot of tree itself.
func (s *NodeStore) insertTree(parent alloc.Index, tree *types.WalkNode) alloc.Index {
	h := s.slab.Insert(Node{Name: tree.Name, Type: tree.Type, Parent: parent})
	if tree.Meta != nil {
		s.meta.Put(h.Index, *tree.Meta)
	}
	if len(tree.Children) == 0 {
		return h.Index
	}

	children := make([]alloc.Index, 0, len(tree.Children))
	for _, c := range tree.Children {
		if c == nil {
			continue
		}
		children = append(children, s.insertTree(h.Index, c))
	}
	// Names come from one directory listing so they are unique.
	slices.SortFunc(children, func(a, b alloc.Index) int {
		return strings.Compare(s.name(a), s.name(b))
	})
	// The slab may have grown during recursion; look the node up again.
	n, _ := s.slab.At(h.Index)
	n.Children = children
	return h.Index
}

func (s *NodeStore) name(i alloc.Index) string {
	if n, ok := s.slab.At(i); ok {
		return n.Name
	}
	return ""
}

// childPos finds name among the children of n.
func (s *NodeStore) childPos(n *Node, name string) (int, bool) {
	return slices.BinarySearchFunc(n.Children, name, func(c alloc.Index, name string) int {
		return strings.Compare(s.name(c), name)
	})
}

// Child returns the child of parent called name.
func (s *NodeStore) Child(parent alloc.Index, name string) (alloc.Index, bool) {
	n, ok := s.slab.At(parent)
	if !ok {
		return alloc.NoIndex, false
	}
	pos, found := s.childPos(n, name)
	if !found {
		return alloc.NoIndex, false
	}
	return n.Children[pos], true
}

// InsertChild creates a leaf under parent. meta may be nil.
func (s *NodeStore) InsertChild(parent alloc.Index, name string, ft types.FileType, meta *types.NodeMetadata) (alloc.Handle, error) {
	return s.AttachTree(parent, &types.WalkNode{Name: name, Type: ft, Meta: meta})
}

// AttachTree inserts a scanned subtree as a new child of parent.
func (s *NodeStore) AttachTree(parent alloc.Index, tree *types.WalkNode) (alloc.Handle, error) {
	p, ok := s.slab.At(parent)
	if !ok {
		return alloc.Handle{}, fmt.Errorf("%w: slot %d", ErrNoParent, parent)
	}
	if !p.IsDir() {
		return alloc.Handle{}, fmt.Errorf("%w: %s", ErrNotDir, s.Path(parent))
	}
	if _, found := s.childPos(p, tree.Name); found {
		return alloc.Handle{}, fmt.Errorf("%w: %s in %s", ErrExists, tree.Name, s.Path(parent))
	}

	child := s.insertTree(parent, tree)

	p, _ = s.slab.At(parent)
	pos, _ := s.childPos(p, tree.Name)
	p.Children = slices.Insert(p.Children, pos, child)

	h, _ := s.slab.HandleOf(child)
	return h, nil
}

// ReplaceChildren swaps the contents of directory i for the children of a
// fresh scan of the same path, and refreshes i's own type and metadata.
func (s *NodeStore) ReplaceChildren(i alloc.Index, tree *types.WalkNode) error {
	n, ok := s.slab.At(i)
	if !ok {
		return fmt.Errorf("%w: slot %d", ErrNoParent, i)
	}
	old := n.Children
	n.Children = nil
	for _, c := range old {
		s.removeTree(c)
	}

	n, _ = s.slab.At(i)
	n.Type = tree.Type
	s.SetMetadata(i, tree.Meta)

	for _, c := range tree.Children {
		if c == nil {
			continue
		}
		if _, err := s.AttachTree(i, c); err != nil {
			return err
		}
	}
	return nil
}

// SetMetadata stores meta for slot i, or drops the entry when meta is nil.
func (s *NodeStore) SetMetadata(i alloc.Index, meta *types.NodeMetadata) {
	if meta == nil {
		s.meta.Invalidate(i)
		return
	}
	s.meta.Put(i, *meta)
}

// RemoveSubtree unlinks i from its parent and frees i and every descendant.
// It returns the number of slots freed.
func (s *NodeStore) RemoveSubtree(i alloc.Index) int {
	n, ok := s.slab.At(i)
	if !ok {
		return 0
	}
	if p, ok := s.slab.At(n.Parent); ok {
		if pos, found := s.childPos(p, n.Name); found && p.Children[pos] == i {
			p.Children = slices.Delete(p.Children, pos, pos+1)
		}
	}
	if i == s.root {
		s.root = alloc.NoIndex
	}
	return s.removeTree(i)
}

// removeTree frees i and its descendants without touching i's parent.
func (s *NodeStore) removeTree(i alloc.Index) int {
	n, ok := s.slab.RemoveAt(i)
	if !ok {
		return 0
	}
	s.meta.Invalidate(i)
	freed := 1
	for _, c := range n.Children {
		freed += s.removeTree(c)
	}
	return freed
}

// Lookup resolves a path under the root to its slot.
func (s *NodeStore) Lookup(path string) (alloc.Index, bool) {
	if !s.root.Valid() {
		return alloc.NoIndex, false
	}
	rel, ok := s.rel(path)
	if !ok {
		return alloc.NoIndex, false
	}
	cur := s.root
	if rel == "" {
		return cur, true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		next, ok := s.Child(cur, part)
		if !ok {
			return alloc.NoIndex, false
		}
		cur = next
	}
	return cur, true
}

// rel returns path relative to the root, "" for the root itself, and false
// for paths outside it.
func (s *NodeStore) rel(path string) (string, bool) {
	path = filepath.Clean(path)
	if path == s.rootPath {
		return "", true
	}
	prefix := s.rootPath
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return path[len(prefix):], true
}

// Contains reports whether path is the root or lies beneath it.
func (s *NodeStore) Contains(path string) bool {
	_, ok := s.rel(path)
	return ok
}

// names returns the components from the root (exclusive) down to i.
func (s *NodeStore) names(i alloc.Index) ([]string, bool) {
	var parts []string
	limit := s.slab.Len()
	for cur := i; cur != s.root; {
		n, ok := s.slab.At(cur)
		if !ok || len(parts) > limit {
			return nil, false
		}
		parts = append(parts, n.Name)
		cur = n.Parent
	}
	slices.Reverse(parts)
	return parts, true
}

// Path returns the absolute path of slot i, or "" when i is not reachable
// from the root.
func (s *NodeStore) Path(i alloc.Index) string {
	if !s.root.Valid() {
		return ""
	}
	parts, ok := s.names(i)
	if !ok {
		return ""
	}
	return filepath.Join(append([]string{s.rootPath}, parts...)...)
}

// RelPath returns the slash-separated path of slot i relative to the root;
// the root itself is "".
func (s *NodeStore) RelPath(i alloc.Index) string {
	parts, ok := s.names(i)
	if !ok {
		return ""
	}
	return strings.Join(parts, "/")
}
