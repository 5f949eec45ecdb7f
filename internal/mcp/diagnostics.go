package mcp

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/standardbeagle/fsindex/internal/debug"
)

// DiagnosticLogger handles all diagnostic output for the MCP server.
// In MCP mode all output goes to a file, never to stdout/stderr: the protocol
// owns stdio. Outside MCP mode messages go to the debug log.
type DiagnosticLogger struct {
	mu       sync.Mutex
	file     *os.File
	logger   *log.Logger // nil outside MCP mode
	filePath string
}

// NewDiagnosticLogger creates a logger that writes to a timestamped file in
// MCP mode. A log file that cannot be created disables file logging rather
// than failing server startup.
func NewDiagnosticLogger(isMCP bool) *DiagnosticLogger {
	dl := &DiagnosticLogger{}
	if !isMCP {
		return dl
	}

	logDir := filepath.Join(os.TempDir(), "fsindex-mcp-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		logDir = filepath.Join(homeDir, ".fsindex-mcp-logs")
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return dl
		}
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("mcp-%s-%d.log", time.Now().Format("2006-01-02T150405"), os.Getpid()))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return dl
	}

	dl.file = file
	dl.filePath = logPath
	dl.logger = log.New(file, "[MCP] ", log.LstdFlags|log.Lmicroseconds)
	return dl
}

// Printf logs a diagnostic message.
func (dl *DiagnosticLogger) Printf(format string, v ...interface{}) {
	if dl == nil {
		return
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.logger == nil {
		debug.LogMCP(format+"\n", v...)
		return
	}
	dl.logger.Printf(format, v...)
}

// Errorf logs an error.
func (dl *DiagnosticLogger) Errorf(format string, v ...interface{}) {
	dl.Printf("ERROR: "+format, v...)
}

// Close closes the log file if it's open.
func (dl *DiagnosticLogger) Close() error {
	if dl == nil {
		return nil
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.file == nil {
		return nil
	}
	err := dl.file.Close()
	dl.file = nil
	dl.logger = nil
	return err
}

// LogPath returns the diagnostic log file, or "" when logging to the debug log.
func (dl *DiagnosticLogger) LogPath() string {
	if dl == nil {
		return ""
	}
	return dl.filePath
}
