package config

import (
	"errors"
	"runtime"
	"testing"

	fserrors "github.com/standardbeagle/fsindex/internal/errors"
	"github.com/standardbeagle/fsindex/internal/types"
)

func validConfig() *Config {
	cfg := Default("/test/root")
	cfg.Index.Database = "/test/cache/index.fsix"
	return cfg
}

func TestValidateAndSetDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Project.Name = ""
	cfg.Performance.MaxGoroutines = 0
	cfg.Search.MaxResults = 0
	cfg.Search.FuzzyThreshold = 0
	cfg.Index.WatchDebounceMs = 0
	cfg.Index.Compression = ""

	validator := NewValidator()
	err := validator.ValidateAndSetDefaults(cfg)
	if err != nil {
		t.Fatalf("ValidateAndSetDefaults failed: %v", err)
	}

	if cfg.Performance.MaxGoroutines != runtime.NumCPU()*4 {
		t.Errorf("MaxGoroutines = %d, want %d", cfg.Performance.MaxGoroutines, runtime.NumCPU()*4)
	}
	if cfg.Search.MaxResults != types.DefaultMaxResults {
		t.Errorf("MaxResults = %d, want %d", cfg.Search.MaxResults, types.DefaultMaxResults)
	}
	if cfg.Search.FuzzyThreshold != 0.7 {
		t.Errorf("FuzzyThreshold = %v, want 0.7", cfg.Search.FuzzyThreshold)
	}
	if cfg.Index.WatchDebounceMs != types.DefaultWatchDebounceMs {
		t.Errorf("WatchDebounceMs = %d, want %d", cfg.Index.WatchDebounceMs, types.DefaultWatchDebounceMs)
	}
	if cfg.Index.Compression != "zstd" {
		t.Errorf("Compression = %q, want zstd", cfg.Index.Compression)
	}
	if cfg.Project.Name != "root" {
		t.Errorf("Project.Name = %q, want root", cfg.Project.Name)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		mutate func(*Config)
	}{
		{"empty root", "project", func(c *Config) { c.Project.Root = "" }},
		{"relative root", "project", func(c *Config) { c.Project.Root = "data" }},
		{"empty database", "index", func(c *Config) { c.Index.Database = "" }},
		{"unknown compression", "index", func(c *Config) { c.Index.Compression = "brotli" }},
		{"negative debounce", "index", func(c *Config) { c.Index.WatchDebounceMs = -1 }},
		{"negative checkpoint interval", "index", func(c *Config) { c.Index.CheckpointIntervalSec = -5 }},
		{"negative goroutines", "performance", func(c *Config) { c.Performance.MaxGoroutines = -1 }},
		{"negative max results", "search", func(c *Config) { c.Search.MaxResults = -1 }},
		{"fuzzy threshold above one", "search", func(c *Config) { c.Search.FuzzyThreshold = 1.5 }},
		{"malformed exclude", "exclude", func(c *Config) { c.Exclude = []string{"**/ok", "[unclosed"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var cerr *fserrors.ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigError, got %T", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.field)
			}
		})
	}
}

func TestValidateKeepsZeroCheckpointInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Index.CheckpointIntervalSec = 0

	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Index.CheckpointIntervalSec != 0 {
		t.Errorf("zero interval disables checkpoints and must be kept, got %d", cfg.Index.CheckpointIntervalSec)
	}
}
