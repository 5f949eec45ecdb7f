package config

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// IgnorePattern is one parsed line of an ignore file.
type IgnorePattern struct {
	Pattern   string
	Negate    bool
	Directory bool
	Absolute  bool
}

// LoadIgnoreFile reads gitignore-style patterns from path and returns them
// as exclusion globs relative to the index root. A missing file yields no
// patterns.
func LoadIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	patterns, err := ParseIgnorePatterns(file)
	if err != nil {
		return nil, err
	}
	return ExclusionPatterns(patterns), nil
}

// ParseIgnorePatterns parses one pattern per line, skipping blanks and comments.
func ParseIgnorePatterns(r io.Reader) ([]IgnorePattern, error) {
	var patterns []IgnorePattern
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, parseIgnoreLine(line))
	}
	return patterns, scanner.Err()
}

func parseIgnoreLine(line string) IgnorePattern {
	var p IgnorePattern
	if strings.HasPrefix(line, "!") {
		p.Negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.Directory = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.Absolute = true
		line = line[1:]
	}
	p.Pattern = line
	return p
}

// ExclusionPatterns converts parsed lines to doublestar globs. Excluding a
// directory prunes everything under it, so a directory pattern only needs
// to match the directory itself.
//
// Negations are dropped: an excluded directory is never entered, so there
// is nothing to re-include.
func ExclusionPatterns(patterns []IgnorePattern) []string {
	var out []string
	for _, p := range patterns {
		if p.Negate || p.Pattern == "" {
			continue
		}
		if p.Absolute || strings.Contains(p.Pattern, "/") {
			out = append(out, p.Pattern)
		} else {
			out = append(out, "**/"+p.Pattern)
		}
	}
	return out
}
