// Package pathutil converts between the absolute paths fsindex stores and the
// root-relative paths it shows to users.
//
// The index keeps absolute paths internally so a path never depends on the
// working directory. Output boundaries (CLI listings, JSON, MCP responses)
// convert them with ToRelative.
package pathutil

import (
	"path/filepath"
	"strings"

	"github.com/standardbeagle/fsindex/internal/searchtypes"
)

// ToRelative converts an absolute path to relative based on a root directory.
// Falls back to the original path if conversion fails or path is already relative.
//
// Examples:
//   - ToRelative("/home/user/project/src/main.go", "/home/user/project") → "src/main.go"
//   - ToRelative("/other/location/file.go", "/home/user/project") → "/other/location/file.go" (outside root)
//   - ToRelative("src/main.go", "/home/user/project") → "src/main.go" (already relative)
func ToRelative(absPath, rootDir string) string {
	if absPath == "" || rootDir == "" {
		return absPath
	}
	if !filepath.IsAbs(absPath) {
		return absPath
	}

	absPath = filepath.Clean(absPath)
	rootDir = filepath.Clean(rootDir)

	relPath, err := filepath.Rel(rootDir, absPath)
	if err != nil {
		return absPath
	}

	// Outside the root the absolute path is clearer than a chain of "..".
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return absPath
	}
	return relPath
}

// ToRelativeMatches converts the paths of search matches from absolute to
// relative. The input slice is not modified.
func ToRelativeMatches(matches []searchtypes.Match, rootDir string) []searchtypes.Match {
	if len(matches) == 0 {
		return matches
	}

	converted := make([]searchtypes.Match, len(matches))
	copy(converted, matches)
	for i := range converted {
		converted[i].Path = ToRelative(converted[i].Path, rootDir)
	}
	return converted
}
