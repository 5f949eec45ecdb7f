package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/standardbeagle/fsindex/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// MCPMode tracks if we're running as an MCP server on stdio (set by main)
var MCPMode = false

var (
	mu      sync.Mutex
	output  io.Writer // nil means debug output is discarded
	logFile *os.File
)

// SetMCPMode enables MCP mode which suppresses all debug output
func SetMCPMode(enabled bool) {
	MCPMode = enabled
}

// SetDebugOutput sets the writer for debug output. Pass nil to disable it.
func SetDebugOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// InitDebugLogFile sends debug output to a timestamped file under the temp
// dir and returns its path. Call CloseDebugLog when done.
func InitDebugLogFile() (string, error) {
	mu.Lock()
	defer mu.Unlock()

	logDir := filepath.Join(os.TempDir(), "fsindex-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "debug-"+time.Now().Format("2006-01-02T150405")+".log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	logFile = file
	output = file
	return logPath, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	output = nil
	return err
}

// IsDebugEnabled returns true if debug mode is enabled and we're not in MCP mode
func IsDebugEnabled() bool {
	// stdout belongs to the protocol in MCP mode
	if MCPMode {
		return false
	}
	if EnableDebug == "true" {
		return true
	}
	switch os.Getenv("DEBUG") {
	case "1", "true":
		return true
	}
	return false
}

// write serializes writers so concurrent walkers do not interleave lines.
func write(prefix, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if output == nil {
		return
	}
	fmt.Fprintf(output, prefix+format, args...)
}

// Printf prints debug information only when debug mode is enabled and output is configured
func Printf(format string, args ...interface{}) {
	write("[DEBUG] ", format, args...)
}

// Log provides structured debug logging with component names
func Log(component, format string, args ...interface{}) {
	write("[DEBUG:"+component+"] ", format, args...)
}

// LogIndexing provides debug logging for walks and index mutations
func LogIndexing(format string, args ...interface{}) {
	Log("INDEX", format, args...)
}

// LogSearch provides debug logging specifically for search operations
func LogSearch(format string, args ...interface{}) {
	Log("SEARCH", format, args...)
}

// LogPersist provides debug logging for checkpoint save and load
func LogPersist(format string, args ...interface{}) {
	Log("PERSIST", format, args...)
}

// LogWatch provides debug logging for change notifications and their application
func LogWatch(format string, args ...interface{}) {
	Log("WATCH", format, args...)
}

// LogMCP provides debug logging specifically for MCP operations
func LogMCP(format string, args ...interface{}) {
	Log("MCP", format, args...)
}
