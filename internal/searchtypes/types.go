package searchtypes

import (
	"fmt"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/types"
)

// MatchType selects how Query.Pattern is compared against nodes.
type MatchType string

const (
	MatchSubstring MatchType = "substring" // name contains pattern
	MatchExact     MatchType = "exact"     // name equals pattern
	MatchGlob      MatchType = "glob"      // doublestar glob
	MatchRegex     MatchType = "regex"     // RE2 regular expression
	MatchFuzzy     MatchType = "fuzzy"     // Levenshtein similarity of names
)

// ParseMatchType validates a user supplied match type; "" means substring.
func ParseMatchType(s string) (MatchType, error) {
	switch t := MatchType(s); t {
	case "":
		return MatchSubstring, nil
	case MatchSubstring, MatchExact, MatchGlob, MatchRegex, MatchFuzzy:
		return t, nil
	}
	return "", fmt.Errorf("unsupported search type: %s", s)
}

// DefaultFuzzyThreshold is the minimum similarity for fuzzy matches.
const DefaultFuzzyThreshold = 0.7

// Query describes one search over the index.
//
// Glob and regex patterns are matched against the entry name, or against
// the slash-separated path relative to the index root when the pattern
// contains a "/".
type Query struct {
	Pattern         string           `json:"pattern"`
	Type            MatchType        `json:"type,omitempty"`
	CaseInsensitive bool             `json:"case_insensitive,omitempty"`
	MaxResults      int              `json:"max_results,omitempty"`
	Kinds           []types.FileType `json:"kinds,omitempty"`      // empty means all kinds
	Extensions      []string         `json:"extensions,omitempty"` // e.g. ".go"; empty means all
	FuzzyThreshold  float32          `json:"fuzzy_threshold,omitempty"`
}

// Match is one search hit.
type Match struct {
	Handle      alloc.Handle       `json:"-"`
	Path        string             `json:"path"`
	Name        string             `json:"name"`
	Type        types.FileType     `json:"type"`
	Metadata    types.NodeMetadata `json:"-"`
	HasMetadata bool               `json:"has_metadata"`
	Score       float32            `json:"score,omitempty"` // fuzzy similarity
}

// Size returns the file size when metadata is known.
func (m Match) Size() (uint64, bool) {
	return m.Metadata.Size, m.HasMetadata
}
