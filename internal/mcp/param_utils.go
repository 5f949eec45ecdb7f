package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/standardbeagle/fsindex/internal/searchtypes"
	"github.com/standardbeagle/fsindex/internal/types"
)

// UnknownField represents a parameter that was passed but not recognized
type UnknownField struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// SearchFilesParams are the arguments of the search_files tool
type SearchFilesParams struct {
	Pattern         string   `json:"pattern"`
	Type            string   `json:"type,omitempty"`             // substring, exact, glob, regex, fuzzy
	CaseInsensitive *bool    `json:"case_insensitive,omitempty"` // nil means the configured default
	Max             int      `json:"max,omitempty"`
	Kinds           []string `json:"kinds,omitempty"`      // file, dir, symlink
	Extensions      []string `json:"extensions,omitempty"` // ".go" or "go"
	FuzzyThreshold  float64  `json:"fuzzy_threshold,omitempty"`
	Absolute        bool     `json:"absolute,omitempty"` // report absolute paths

	Warnings []UnknownField `json:"-"`
}

// UnmarshalJSON accepts unknown fields, recording them as warnings, and
// maps legacy names onto the current ones.
func (p *SearchFilesParams) UnmarshalJSON(data []byte) error {
	type Alias SearchFilesParams

	known := map[string]struct{}{
		"pattern": {}, "type": {}, "case_insensitive": {}, "max": {},
		"kinds": {}, "extensions": {}, "fuzzy_threshold": {}, "absolute": {},
		// aliases
		"query": {}, "max_results": {}, "match": {}, "kind": {},
	}

	raw, warnings, err := collectUnknownFields(data, known)
	if err != nil {
		return err
	}

	normalized := make(map[string]json.RawMessage, len(raw))
	for key, value := range raw {
		switch key {
		case "query":
			if _, ok := raw["pattern"]; !ok {
				normalized["pattern"] = value
			}
		case "max_results":
			if _, ok := raw["max"]; !ok {
				normalized["max"] = value
			}
		case "match":
			if _, ok := raw["type"]; !ok {
				normalized["type"] = value
			}
		case "kind":
			if _, ok := raw["kinds"]; !ok {
				var one string
				if json.Unmarshal(value, &one) == nil {
					normalized["kinds"], _ = json.Marshal([]string{one})
				}
			}
		default:
			normalized[key] = value
		}
	}

	encoded, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	aux := (*Alias)(p)
	if err := json.Unmarshal(encoded, aux); err != nil {
		return err
	}
	p.Warnings = warnings
	return nil
}

// query validates the parameters and converts them to an index query.
func (p *SearchFilesParams) query() (searchtypes.Query, error) {
	if strings.TrimSpace(p.Pattern) == "" {
		return searchtypes.Query{}, fmt.Errorf("pattern is required")
	}
	if p.Max < 0 {
		return searchtypes.Query{}, fmt.Errorf("max must not be negative, got %d", p.Max)
	}
	if p.FuzzyThreshold < 0 || p.FuzzyThreshold > 1 {
		return searchtypes.Query{}, fmt.Errorf("fuzzy_threshold must be between 0 and 1, got %g", p.FuzzyThreshold)
	}
	matchType, err := searchtypes.ParseMatchType(strings.ToLower(p.Type))
	if err != nil {
		return searchtypes.Query{}, err
	}

	q := searchtypes.Query{
		Pattern:        p.Pattern,
		Type:           matchType,
		MaxResults:     p.Max,
		FuzzyThreshold: float32(p.FuzzyThreshold),
	}
	if p.CaseInsensitive != nil {
		q.CaseInsensitive = *p.CaseInsensitive
	}
	for _, k := range p.Kinds {
		ft, ok := types.ParseFileType(strings.ToLower(k))
		if !ok {
			return searchtypes.Query{}, fmt.Errorf("unknown kind %q (use file, dir or symlink)", k)
		}
		q.Kinds = append(q.Kinds, ft)
	}
	for _, ext := range p.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		q.Extensions = append(q.Extensions, ext)
	}
	return q, nil
}

// NodeInfoParams are the arguments of the node_info tool
type NodeInfoParams struct {
	Path        string `json:"path"` // absolute, or relative to the index root
	MaxChildren int    `json:"max_children,omitempty"`

	Warnings []UnknownField `json:"-"`
}

// UnmarshalJSON accepts unknown fields, recording them as warnings
func (p *NodeInfoParams) UnmarshalJSON(data []byte) error {
	type Alias NodeInfoParams

	_, warnings, err := collectUnknownFields(data, map[string]struct{}{"path": {}, "max_children": {}})
	if err != nil {
		return err
	}
	var alias Alias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*p = NodeInfoParams(alias)
	p.Warnings = warnings
	return nil
}

// InfoParams are the arguments of the info tool
type InfoParams struct {
	Tool string `json:"tool,omitempty"`
}

// collectUnknownFields parses raw JSON into a map, capturing any fields that
// aren't part of the known set. Warnings are sorted by name.
func collectUnknownFields(data []byte, known map[string]struct{}) (map[string]json.RawMessage, []UnknownField, error) {
	raw := map[string]json.RawMessage{}
	if len(data) == 0 {
		return raw, nil, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	var warnings []UnknownField
	for key, value := range raw {
		if _, ok := known[key]; ok {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(value, &decoded); err != nil {
			decoded = string(value)
		}
		warnings = append(warnings, UnknownField{Name: key, Value: decoded})
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Name < warnings[j].Name })
	return raw, warnings, nil
}

func warningMessages(fields []UnknownField) []string {
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, fmt.Sprintf("unknown parameter %q ignored", f.Name))
	}
	return out
}
