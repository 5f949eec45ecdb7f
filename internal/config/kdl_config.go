package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL attempts to load configuration from the .fsindex.kdl file in dir.
// It returns nil, nil when there is no such file.
func LoadKDL(dir string) (*Config, error) {
	kdlPath := filepath.Join(dir, ConfigFileName)

	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", kdlPath, err)
	}

	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kdlPath, err)
	}
	cfg.resolveRoot(dir)
	return cfg, nil
}

// resolveRoot makes the project root absolute. A relative root is taken
// relative to the directory holding the config file; no root means that
// directory itself.
func (c *Config) resolveRoot(dir string) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	switch {
	case c.Project.Root == "":
		c.Project.Root = dir
	case !filepath.IsAbs(c.Project.Root):
		c.Project.Root = filepath.Join(dir, c.Project.Root)
	}
	c.Project.Root = filepath.Clean(c.Project.Root)
	if c.Project.Name == "" {
		c.Project.Name = filepath.Base(c.Project.Root)
	}
}

// parseKDL overlays a KDL document on the defaults. The project root is left
// empty unless the document names one.
func parseKDL(content string) (*Config, error) {
	cfg := Default("")
	cfg.Project.Name = ""

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children { // project { root "/" ; name "home" }
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "index":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "database":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.Database = s
					}
				case "ignore_path":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.IgnorePath = s
					}
				case "ignore_file":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.IgnoreFile = s
					}
				case "collect_metadata":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.CollectMetadata = b
					}
				case "compression":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.Compression = s
					}
				case "watch_mode":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.WatchMode = b
					}
				case "watch_debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.WatchDebounceMs = v
					}
				case "checkpoint_interval_sec":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.CheckpointIntervalSec = v
					}
				case "exclude_build_outputs":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.ExcludeBuildOutputs = b
					}
				case "exclude":
					cfg.Exclude = append(cfg.Exclude, collectStringArgs(cn)...)
				}
			}
		case "performance":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_goroutines":
					if v, ok := firstIntArg(cn); ok {
						cfg.Performance.MaxGoroutines = v
					}
				}
			}
		case "search":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_results":
					if v, ok := firstIntArg(cn); ok {
						cfg.Search.MaxResults = v
					}
				case "case_insensitive":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Search.CaseInsensitive = b
					}
				case "fuzzy_threshold":
					if v, ok := firstFloatArg(cn); ok {
						cfg.Search.FuzzyThreshold = v
					}
				}
			}
		case "exclude":
			// A top-level block replaces whatever came before it
			cfg.Exclude = collectStringArgs(n)
		}
	}

	return cfg, nil
}

// Helper functions over the kdl-go document model
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}
func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}
func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}
func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		log.Printf("WARNING: invalid float value for '%s' in KDL config, expected number but got %T", nodeName(n), n.Arguments[0].Value)
		return 0, false
	}
}
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	// Inline form: exclude "a" "b"
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	// Block form: exclude { "a"; "b" }, where each string is a child node name
	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}

	return out
}
func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}
