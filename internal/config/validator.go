package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/fsindex/internal/encoding"
	fserrors "github.com/standardbeagle/fsindex/internal/errors"
	"github.com/standardbeagle/fsindex/internal/types"
)

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults.
// Returns a ConfigError naming the offending section if validation fails.
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if err := v.validateProjectConfig(&cfg.Project); err != nil {
		return fserrors.NewConfigError("project", cfg.Project.Root, err)
	}

	if err := v.validateIndexConfig(&cfg.Index); err != nil {
		return fserrors.NewConfigError("index", "", err)
	}

	if err := v.validatePerformanceConfig(&cfg.Performance); err != nil {
		return fserrors.NewConfigError("performance", "", err)
	}

	if err := v.validateSearchConfig(&cfg.Search); err != nil {
		return fserrors.NewConfigError("search", "", err)
	}

	for _, pattern := range cfg.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fserrors.NewConfigError("exclude", pattern, errors.New("malformed glob pattern"))
		}
	}

	v.setSmartDefaults(cfg)
	return nil
}

func (v *Validator) validateProjectConfig(project *Project) error {
	if project.Root == "" {
		return errors.New("project root cannot be empty")
	}
	if !filepath.IsAbs(project.Root) {
		return fmt.Errorf("project root must be absolute, got %q", project.Root)
	}
	return nil
}

func (v *Validator) validateIndexConfig(index *Index) error {
	if index.Database == "" {
		return errors.New("database path cannot be empty")
	}

	if _, err := encoding.ParseCompression(index.Compression); err != nil {
		return err
	}

	if index.WatchDebounceMs < 0 {
		return fmt.Errorf("WatchDebounceMs cannot be negative, got %d", index.WatchDebounceMs)
	}

	// CheckpointIntervalSec: 0 disables periodic checkpoints
	if index.CheckpointIntervalSec < 0 {
		return fmt.Errorf("CheckpointIntervalSec cannot be negative, got %d", index.CheckpointIntervalSec)
	}

	return nil
}

func (v *Validator) validatePerformanceConfig(perf *Performance) error {
	// MaxGoroutines: 0 means auto-detect (will be set by smart defaults)
	if perf.MaxGoroutines < 0 {
		return fmt.Errorf("MaxGoroutines cannot be negative, got %d", perf.MaxGoroutines)
	}
	return nil
}

func (v *Validator) validateSearchConfig(search *Search) error {
	if search.MaxResults < 0 {
		return fmt.Errorf("MaxResults cannot be negative, got %d", search.MaxResults)
	}

	if search.FuzzyThreshold < 0 || search.FuzzyThreshold > 1 {
		return fmt.Errorf("FuzzyThreshold must be between 0 and 1, got %v", search.FuzzyThreshold)
	}

	return nil
}

// setSmartDefaults fills zero values based on system capabilities
func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.Performance.MaxGoroutines == 0 {
		cfg.Performance.MaxGoroutines = runtime.NumCPU() * 4
	}

	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = types.DefaultMaxResults
	}

	if cfg.Search.FuzzyThreshold == 0 {
		cfg.Search.FuzzyThreshold = 0.7
	}

	if cfg.Index.WatchDebounceMs == 0 {
		cfg.Index.WatchDebounceMs = types.DefaultWatchDebounceMs
	}

	if cfg.Index.Compression == "" {
		cfg.Index.Compression = encoding.CompressionZstd.String()
	}

	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(cfg.Project.Root)
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	validator := NewValidator()
	return validator.ValidateAndSetDefaults(cfg)
}
