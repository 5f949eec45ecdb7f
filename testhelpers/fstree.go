// Package testhelpers provides shared utilities for testing fsindex
package testhelpers

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// FSTree describes a fixture directory tree. Keys are slash-separated paths
// relative to the tree root:
//
//	"dir/"            an empty directory
//	"dir/file.txt"    a file with the value as content
//	"dir/link@"       a symlink pointing at the value
//
// Parent directories are created as needed.
type FSTree map[string]string

// Create materializes the tree under a fresh t.TempDir() and returns its
// absolute, symlink-free path.
func (tree FSTree) Create(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	tree.CreateIn(t, root)
	return root
}

// CreateIn materializes the tree under an existing directory.
func (tree FSTree) CreateIn(t *testing.T, root string) {
	t.Helper()

	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := tree[key]
		switch {
		case strings.HasSuffix(key, "/"):
			MkdirAll(t, filepath.Join(root, filepath.FromSlash(key)))
		case strings.HasSuffix(key, "@"):
			path := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(key, "@")))
			MkdirAll(t, filepath.Dir(path))
			if err := os.Symlink(value, path); err != nil {
				t.Fatalf("symlink %s: %v", path, err)
			}
		default:
			WriteFile(t, filepath.Join(root, filepath.FromSlash(key)), value)
		}
	}
}

// MkdirAll creates dir and its parents, failing the test on error.
func MkdirAll(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	MkdirAll(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// RemoveAll deletes path, failing the test on error.
func RemoveAll(t *testing.T, path string) {
	t.Helper()
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("remove %s: %v", path, err)
	}
}
