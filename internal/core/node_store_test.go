package core

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/types"
)

func fileMeta(size uint64) *types.NodeMetadata {
	m := types.NodeMetadata{Type: types.FileTypeFile, Size: size}.WithModified(1_700_000_000)
	return &m
}

// sampleTree is root/{a.txt, link, sub/{b.txt, deep/{c.go}}}
func sampleTree() *types.WalkNode {
	return &types.WalkNode{
		Name: "root",
		Type: types.FileTypeDir,
		Meta: &types.NodeMetadata{Type: types.FileTypeDir},
		Children: []*types.WalkNode{
			{Name: "sub", Type: types.FileTypeDir, Children: []*types.WalkNode{
				{Name: "deep", Type: types.FileTypeDir, Children: []*types.WalkNode{
					{Name: "c.go", Type: types.FileTypeFile, Meta: fileMeta(30)},
				}},
				{Name: "b.txt", Type: types.FileTypeFile, Meta: fileMeta(20)},
			}},
			{Name: "a.txt", Type: types.FileTypeFile, Meta: fileMeta(10)},
			{Name: "link", Type: types.FileTypeSymlink},
		},
	}
}

func loadedStore(t *testing.T) *NodeStore {
	t.Helper()
	s := NewNodeStore("/data/root")
	s.LoadTree(sampleTree())
	require.Equal(t, 7, s.Len())
	return s
}

// assertTreeConsistent checks that every child link points at an occupied
// slot whose parent link points back.
func assertTreeConsistent(t *testing.T, s *NodeStore) {
	t.Helper()
	s.Range(func(h alloc.Handle, n *Node) bool {
		for _, c := range n.Children {
			child, ok := s.At(c)
			if !assert.True(t, ok, "child %d of %s is not occupied", c, n.Name) {
				continue
			}
			assert.Equal(t, h.Index, child.Parent, "child %s of %s", child.Name, n.Name)
		}
		assert.True(t, slices.IsSortedFunc(n.Children, func(a, b alloc.Index) int {
			return strings.Compare(s.name(a), s.name(b))
		}), "children of %s out of order", n.Name)
		return true
	})
}

// TestNodeStoreLoadTree tests bulk loading and path resolution.
func TestNodeStoreLoadTree(t *testing.T) {
	s := loadedStore(t)
	assertTreeConsistent(t, s)

	root, ok := s.Lookup("/data/root")
	require.True(t, ok)
	assert.Equal(t, s.Root(), root)
	assert.Equal(t, "/data/root", s.Path(root))
	assert.Equal(t, "", s.RelPath(root))

	// Children are kept in name order regardless of scan order.
	var names []string
	for _, c := range s.Children(root) {
		n, _ := s.At(c)
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"a.txt", "link", "sub"}, names)

	c, ok := s.Lookup(filepath.Join("/data/root", "sub", "deep", "c.go"))
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/data/root", "sub", "deep", "c.go"), s.Path(c))
	assert.Equal(t, "sub/deep/c.go", s.RelPath(c))

	meta, ok := s.Metadata().Get(c)
	require.True(t, ok)
	assert.Equal(t, uint64(30), meta.Size)

	sub, ok := s.Lookup("/data/root/sub")
	require.True(t, ok)
	_, ok = s.Metadata().Get(sub)
	assert.False(t, ok, "directory scanned without metadata has no cache entry")

	_, ok = s.Lookup("/data/root/missing")
	assert.False(t, ok)
	_, ok = s.Lookup("/data/rootless/a.txt")
	assert.False(t, ok)
	_, ok = s.Lookup("/elsewhere")
	assert.False(t, ok)
}

// TestNodeStoreEmptyTree tests loading a nil tree.
func TestNodeStoreEmptyTree(t *testing.T) {
	s := NewNodeStore("/data/root")
	s.LoadTree(nil)
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Root().Valid())
	_, ok := s.Lookup("/data/root")
	assert.False(t, ok)
	assert.Equal(t, "", s.Path(0))
}

// TestNodeStoreStaleHandle tests that a handle taken before removal never
// reads the slot's next occupant.
func TestNodeStoreStaleHandle(t *testing.T) {
	s := NewNodeStore("/data/root")
	old := s.Allocate(Node{Name: "old.txt", Type: types.FileTypeFile, Parent: alloc.NoIndex})
	s.Metadata().Put(old.Index, *fileMeta(1))

	require.True(t, s.Remove(old))
	_, ok := s.Metadata().Get(old.Index)
	assert.False(t, ok, "removal invalidates metadata")

	reused := s.Allocate(Node{Name: "new.txt", Type: types.FileTypeFile, Parent: alloc.NoIndex})
	assert.Equal(t, old.Index, reused.Index, "freed slot is reused")
	assert.NotEqual(t, old.Gen, reused.Gen)

	_, ok = s.Get(old)
	assert.False(t, ok, "stale handle reads as absent")
	_, ok = s.GetMut(old)
	assert.False(t, ok)
	assert.False(t, s.Remove(old), "stale handle cannot remove the new occupant")

	n, ok := s.Get(reused)
	require.True(t, ok)
	assert.Equal(t, "new.txt", n.Name)
}

// TestNodeStoreRemoveSubtree tests unlinking a directory and its descendants.
func TestNodeStoreRemoveSubtree(t *testing.T) {
	s := loadedStore(t)
	sub, _ := s.Lookup("/data/root/sub")
	c, _ := s.Lookup("/data/root/sub/deep/c.go")

	freed := s.RemoveSubtree(sub)
	assert.Equal(t, 4, freed)
	assert.Equal(t, 3, s.Len())
	assertTreeConsistent(t, s)

	_, ok := s.Lookup("/data/root/sub")
	assert.False(t, ok)
	_, ok = s.Metadata().Get(c)
	assert.False(t, ok, "descendant metadata invalidated")
	assert.Equal(t, 2, s.Metadata().Len(), "root and a.txt keep their entries")

	assert.Equal(t, 0, s.RemoveSubtree(sub), "second removal is a no-op")
}

// TestNodeStoreRemoveLinkedNode tests that removing a linked node by handle
// leaves no child list naming the freed slot once it is reused.
func TestNodeStoreRemoveLinkedNode(t *testing.T) {
	s := loadedStore(t)
	root := s.Root()
	a, ok := s.Lookup("/data/root/a.txt")
	require.True(t, ok)
	h, ok := s.HandleOf(a)
	require.True(t, ok)

	require.True(t, s.Remove(h))
	assertTreeConsistent(t, s)
	assert.NotContains(t, s.Children(root), a)

	reused := s.Allocate(Node{Name: "unrelated", Type: types.FileTypeFile, Parent: alloc.NoIndex})
	assert.Equal(t, a, reused.Index, "freed slot is reused")
	assertTreeConsistent(t, s)
	assert.NotContains(t, s.Children(root), reused.Index)
	_, ok = s.Lookup("/data/root/a.txt")
	assert.False(t, ok)

	// Removing a directory by handle frees its descendants too.
	sub, _ := s.Lookup("/data/root/sub")
	subHandle, _ := s.HandleOf(sub)
	before := s.Len()
	require.True(t, s.Remove(subHandle))
	assert.Equal(t, before-4, s.Len())
	assertTreeConsistent(t, s)
	assert.False(t, s.Remove(subHandle), "handle is stale after removal")
}

// TestNodeStoreInsertChild tests incremental inserts.
func TestNodeStoreInsertChild(t *testing.T) {
	s := loadedStore(t)
	root := s.Root()

	h, err := s.InsertChild(root, "b.md", types.FileTypeFile, fileMeta(5))
	require.NoError(t, err)
	assert.Equal(t, "/data/root/b.md", s.Path(h.Index))
	meta, ok := s.Metadata().Get(h.Index)
	require.True(t, ok)
	assert.Equal(t, uint64(5), meta.Size)

	var names []string
	for _, c := range s.Children(root) {
		n, _ := s.At(c)
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"a.txt", "b.md", "link", "sub"}, names)

	_, err = s.InsertChild(root, "b.md", types.FileTypeFile, nil)
	assert.ErrorIs(t, err, ErrExists)

	a, _ := s.Lookup("/data/root/a.txt")
	_, err = s.InsertChild(a, "x", types.FileTypeFile, nil)
	assert.ErrorIs(t, err, ErrNotDir)

	_, err = s.InsertChild(alloc.Index(999), "x", types.FileTypeFile, nil)
	assert.ErrorIs(t, err, ErrNoParent)
	assertTreeConsistent(t, s)
}

// TestNodeStoreReplaceChildren tests swapping a directory's contents for a rescan.
func TestNodeStoreReplaceChildren(t *testing.T) {
	s := loadedStore(t)
	sub, _ := s.Lookup("/data/root/sub")

	dirMeta := types.NodeMetadata{Type: types.FileTypeDir}.WithModified(42)
	err := s.ReplaceChildren(sub, &types.WalkNode{
		Name: "sub",
		Type: types.FileTypeDir,
		Meta: &dirMeta,
		Children: []*types.WalkNode{
			{Name: "e.txt", Type: types.FileTypeFile, Meta: fileMeta(7)},
		},
	})
	require.NoError(t, err)
	assertTreeConsistent(t, s)
	assert.Equal(t, 5, s.Len())

	_, ok := s.Lookup("/data/root/sub/b.txt")
	assert.False(t, ok)
	_, ok = s.Lookup("/data/root/sub/deep")
	assert.False(t, ok)
	_, ok = s.Lookup("/data/root/sub/e.txt")
	assert.True(t, ok)

	meta, ok := s.Metadata().Get(sub)
	require.True(t, ok)
	mtime, _ := meta.Modified()
	assert.Equal(t, uint64(42), mtime)
}

// TestNodeStoreAttachRoot tests reinstalling a root after the old one was removed.
func TestNodeStoreAttachRoot(t *testing.T) {
	s := loadedStore(t)
	oldRoot, ok := s.HandleOf(s.Root())
	require.True(t, ok)

	_, err := s.AttachRoot(sampleTree())
	assert.ErrorIs(t, err, ErrExists)

	assert.Equal(t, 7, s.RemoveSubtree(s.Root()))
	assert.False(t, s.Root().Valid())

	h, err := s.AttachRoot(&types.WalkNode{Name: "root", Type: types.FileTypeDir})
	require.NoError(t, err)
	assert.Equal(t, h.Index, s.Root())
	assert.Equal(t, 1, s.Len())
	_, ok = s.Get(oldRoot)
	assert.False(t, ok, "handle to the removed root stays stale")
}
