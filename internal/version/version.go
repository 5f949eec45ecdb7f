package version

import (
	"fmt"
	"runtime/debug"

	"github.com/standardbeagle/fsindex/internal/core"
)

// Version is the semantic version of fsindex.
const Version = "0.1.0"

// Set at link time:
//
//	go build -ldflags "-X github.com/standardbeagle/fsindex/internal/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	BuildDate = "development"
	GitCommit = "unknown"
)

// Info returns the short version string.
func Info() string {
	return Version
}

// FullInfo describes the build, including the index artifact format this
// binary reads and writes.
func FullInfo() string {
	return fmt.Sprintf("fsindex %s (commit: %s, built: %s, index format: v%d)",
		Version, Commit(), BuildDate, core.FormatVersion)
}

// Commit returns the link-time commit, falling back to the VCS revision the
// Go toolchain embedded in the binary.
func Commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return GitCommit
	}
	return commitFromSettings(info.Settings)
}

func commitFromSettings(settings []debug.BuildSetting) string {
	var rev string
	modified := false
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if rev == "" {
		return "unknown"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if modified {
		rev += "-dirty"
	}
	return rev
}
