package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/standardbeagle/fsindex/internal/encoding"
	"github.com/standardbeagle/fsindex/internal/types"
)

// ConfigFileName is looked up in the project directory and in the user's home.
const ConfigFileName = ".fsindex.kdl"

// DefaultIgnoreFileName lists extra exclusions, one gitignore-style pattern per line.
const DefaultIgnoreFileName = ".fsindexignore"

type Config struct {
	Version     int
	Project     Project
	Index       Index
	Performance Performance
	Search      Search
	Exclude     []string
}

type Project struct {
	Root string
	Name string
}

type Index struct {
	Database              string // Path of the persisted index artifact
	IgnorePath            string // Never scanned; defaults to the directory holding Database
	IgnoreFile            string // Read from the project root when present
	CollectMetadata       bool   // Stat every file during a full scan
	Compression           string // "none", "zstd" or "lz4"
	WatchMode             bool   // Keep the index current from change notifications
	WatchDebounceMs       int    // Batch window for change notifications
	CheckpointIntervalSec int    // Periodic save cadence in watch mode; 0 disables
	ExcludeBuildOutputs   bool   // Exclude output dirs declared by build manifests
}

type Performance struct {
	MaxGoroutines int // Walker fan-out; 0 = auto-detect
}

type Search struct {
	MaxResults      int
	CaseInsensitive bool
	FuzzyThreshold  float64
}

// CompressionKind returns the parsed compression setting. Validate has
// already rejected unknown names, so the fallback is zstd.
func (c *Config) CompressionKind() encoding.Compression {
	kind, err := encoding.ParseCompression(c.Index.Compression)
	if err != nil {
		return encoding.CompressionZstd
	}
	return kind
}

// DefaultDatabasePath is the artifact location under the user cache directory.
func DefaultDatabasePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, types.DefaultCacheDirName, types.DefaultDatabaseName)
}

// Default returns the built-in configuration rooted at root.
func Default(root string) *Config {
	return &Config{
		Version: 1,
		Project: Project{
			Root: root,
			Name: filepath.Base(root),
		},
		Index: Index{
			Database:              DefaultDatabasePath(),
			IgnoreFile:            DefaultIgnoreFileName,
			CollectMetadata:       true,
			Compression:           encoding.CompressionZstd.String(),
			WatchMode:             true,
			WatchDebounceMs:       types.DefaultWatchDebounceMs,
			CheckpointIntervalSec: types.DefaultCheckpointIntervalSec,
		},
		Performance: Performance{
			MaxGoroutines: runtime.NumCPU() * 4,
		},
		Search: Search{
			MaxResults:     types.DefaultMaxResults,
			FuzzyThreshold: 0.7,
		},
		Exclude: []string{},
	}
}

func Load() (*Config, error) {
	return LoadWithRoot("")
}

// LoadWithRoot layers the project's .fsindex.kdl over the global
// ~/.fsindex.kdl and the built-in defaults, then appends the patterns of the
// project's ignore file.
func LoadWithRoot(rootDir string) (*Config, error) {
	searchDir := "."
	if rootDir != "" {
		searchDir = rootDir
	}
	if abs, err := filepath.Abs(searchDir); err == nil {
		searchDir = abs
	}

	// Step 1: global base config, if any
	var baseConfig *Config
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != searchDir {
		if globalCfg, err := LoadKDL(homeDir); err == nil && globalCfg != nil {
			baseConfig = globalCfg
		}
	}

	// Step 2: project config
	projectConfig, err := LoadKDL(searchDir)
	if err != nil {
		return nil, err
	}

	// Step 3: merge, project wins but base exclusions are kept
	var cfg *Config
	switch {
	case baseConfig != nil && projectConfig != nil:
		cfg = mergeConfigs(baseConfig, projectConfig)
	case projectConfig != nil:
		cfg = projectConfig
	case baseConfig != nil:
		cfg = baseConfig
		cfg.Project.Root = searchDir
		cfg.Project.Name = filepath.Base(searchDir)
	default:
		cfg = Default(searchDir)
	}

	cfg.expandPaths()
	if err := cfg.loadIgnoreFile(); err != nil {
		return nil, err
	}
	if cfg.Index.ExcludeBuildOutputs {
		cfg.AddBuildOutputExclusions()
	}
	return cfg, nil
}

// LoadFile reads an explicit config file instead of searching for one.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, err
	}
	cfg.resolveRoot(filepath.Dir(path))
	cfg.expandPaths()
	if err := cfg.loadIgnoreFile(); err != nil {
		return nil, err
	}
	if cfg.Index.ExcludeBuildOutputs {
		cfg.AddBuildOutputExclusions()
	}
	return cfg, nil
}

// expandPaths resolves "~" in storage paths and derives the ignore path.
func (c *Config) expandPaths() {
	c.Index.Database = expandHome(c.Index.Database)
	if c.Index.IgnorePath == "" && c.Index.Database != "" {
		c.Index.IgnorePath = filepath.Dir(c.Index.Database)
	}
	c.Index.IgnorePath = expandHome(c.Index.IgnorePath)
	if c.Index.IgnorePath != "" {
		c.Index.IgnorePath = filepath.Clean(c.Index.IgnorePath)
	}
}

func (c *Config) loadIgnoreFile() error {
	if c.Index.IgnoreFile == "" {
		return nil
	}
	patterns, err := LoadIgnoreFile(filepath.Join(c.Project.Root, c.Index.IgnoreFile))
	if err != nil {
		return err
	}
	c.Exclude = mergePatterns(c.Exclude, patterns)
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// mergeConfigs merges a base config with a project config.
// Project config takes precedence, but base exclusions are preserved.
func mergeConfigs(base, project *Config) *Config {
	merged := *project
	merged.Exclude = mergePatterns(base.Exclude, project.Exclude)
	return &merged
}

// mergePatterns unions two pattern lists, keeping first-seen order.
func mergePatterns(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}
