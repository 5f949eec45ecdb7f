package testhelpers

import (
	"path/filepath"
	"testing"

	"github.com/standardbeagle/fsindex/internal/config"
)

// TestConfigBuilder provides a fluent API for building test configs with safe defaults
// Usage:
//
//	cfg := testhelpers.NewTestConfigBuilder(t, root).
//		WithExclusions("**/node_modules").
//		WithDebounceMs(10).
//		Build()
type TestConfigBuilder struct {
	cfg *config.Config
}

// NewTestConfigBuilder creates a config rooted at root whose database lives
// in a separate temp dir, so tests never scan their own artifact.
func NewTestConfigBuilder(t *testing.T, root string) *TestConfigBuilder {
	t.Helper()
	cfg := config.Default(root)
	cacheDir := t.TempDir()
	cfg.Index.Database = filepath.Join(cacheDir, "index.fsix")
	cfg.Index.IgnorePath = cacheDir
	cfg.Index.IgnoreFile = ""
	cfg.Index.WatchDebounceMs = 10
	cfg.Index.CheckpointIntervalSec = 0
	cfg.Performance.MaxGoroutines = 4
	return &TestConfigBuilder{cfg: cfg}
}

// WithExclusions adds additional exclusion patterns
func (b *TestConfigBuilder) WithExclusions(patterns ...string) *TestConfigBuilder {
	b.cfg.Exclude = append(b.cfg.Exclude, patterns...)
	return b
}

// WithIgnorePath sets the path the walker must never enter
func (b *TestConfigBuilder) WithIgnorePath(path string) *TestConfigBuilder {
	b.cfg.Index.IgnorePath = path
	return b
}

// WithMetadata toggles per-file metadata collection
func (b *TestConfigBuilder) WithMetadata(enabled bool) *TestConfigBuilder {
	b.cfg.Index.CollectMetadata = enabled
	return b
}

// WithCompression sets the artifact compression name
func (b *TestConfigBuilder) WithCompression(name string) *TestConfigBuilder {
	b.cfg.Index.Compression = name
	return b
}

// WithDebounceMs sets the watcher debounce window
func (b *TestConfigBuilder) WithDebounceMs(ms int) *TestConfigBuilder {
	b.cfg.Index.WatchDebounceMs = ms
	return b
}

// Build validates and returns the config
func (b *TestConfigBuilder) Build() *config.Config {
	if err := config.ValidateConfig(b.cfg); err != nil {
		panic(err)
	}
	return b.cfg
}
