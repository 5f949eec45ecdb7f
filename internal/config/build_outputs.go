package config

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/standardbeagle/fsindex/internal/debug"
)

// DetectBuildOutputs reads the build manifests at the top of root
// (package.json, tsconfig.json, Cargo.toml, .cargo/config.toml and
// pyproject.toml) and returns exclude patterns for the output directories
// they declare. Patterns are relative to root. Manifests that are missing or
// do not parse are skipped.
func DetectBuildOutputs(root string) []string {
	var dirs []string
	dirs = append(dirs, nodeOutputs(root)...)
	dirs = append(dirs, cargoOutputs(root)...)
	dirs = append(dirs, pythonOutputs(root)...)

	var patterns []string
	for _, d := range dirs {
		if p, ok := outputPattern(d); ok {
			patterns = append(patterns, p)
		}
	}
	return mergePatterns(nil, patterns)
}

// AddBuildOutputExclusions appends the detected build output directories of
// the project root to the exclude list.
func (c *Config) AddBuildOutputExclusions() {
	if c.Project.Root == "" {
		return
	}
	found := DetectBuildOutputs(c.Project.Root)
	if len(found) > 0 {
		debug.LogIndexing("build outputs excluded: %v\n", found)
	}
	c.Exclude = mergePatterns(c.Exclude, found)
}

// outputPattern turns a declared output directory into a root-relative
// pattern. Directories outside the root, or the root itself, yield nothing.
func outputPattern(dir string) (string, bool) {
	dir = strings.Trim(strings.TrimSpace(dir), `"'`)
	if dir == "" || filepath.IsAbs(dir) {
		return "", false
	}
	dir = path.Clean(filepath.ToSlash(dir))
	if dir == "." || dir == ".." || strings.HasPrefix(dir, "../") {
		return "", false
	}
	return dir, true
}

func readJSON(file string) map[string]interface{} {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil
	}
	var doc map[string]interface{}
	if json.Unmarshal(data, &doc) != nil {
		return nil
	}
	return doc
}

func readTOML(file string) map[string]interface{} {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil
	}
	var doc map[string]interface{}
	if toml.Unmarshal(data, &doc) != nil {
		return nil
	}
	return doc
}

// lookupString walks nested tables and returns the string at keys.
func lookupString(doc map[string]interface{}, keys ...string) (string, bool) {
	var cur interface{} = doc
	for _, k := range keys {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", false
		}
		cur = m[k]
	}
	s, ok := cur.(string)
	return s, ok
}

func nodeOutputs(root string) []string {
	var dirs []string
	if pkg := readJSON(filepath.Join(root, "package.json")); pkg != nil {
		if scripts, ok := pkg["scripts"].(map[string]interface{}); ok {
			for _, script := range scripts {
				s, ok := script.(string)
				if !ok {
					continue
				}
				fields := strings.Fields(s)
				for i := 0; i+1 < len(fields); i++ {
					if fields[i] == "--outDir" || fields[i] == "-outDir" {
						dirs = append(dirs, fields[i+1])
					}
				}
			}
		}
		if d, ok := lookupString(pkg, "build", "outDir"); ok {
			dirs = append(dirs, d)
		}
	}
	if ts := readJSON(filepath.Join(root, "tsconfig.json")); ts != nil {
		if d, ok := lookupString(ts, "compilerOptions", "outDir"); ok {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func cargoOutputs(root string) []string {
	if _, err := os.Stat(filepath.Join(root, "Cargo.toml")); err != nil {
		return nil
	}
	if cfg := readTOML(filepath.Join(root, ".cargo", "config.toml")); cfg != nil {
		if d, ok := lookupString(cfg, "build", "target-dir"); ok {
			return []string{d}
		}
	}
	return []string{"target"}
}

func pythonOutputs(root string) []string {
	doc := readTOML(filepath.Join(root, "pyproject.toml"))
	if doc == nil {
		return nil
	}
	var dirs []string
	if d, ok := lookupString(doc, "tool", "poetry", "build", "target-dir"); ok {
		dirs = append(dirs, d)
	}
	if _, ok := doc["build-system"]; ok {
		dirs = append(dirs, "build", "dist")
	}
	return dirs
}
