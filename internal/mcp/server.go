package mcp

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/fsindex/internal/cancel"
	"github.com/standardbeagle/fsindex/internal/config"
	fsdebug "github.com/standardbeagle/fsindex/internal/debug"
	"github.com/standardbeagle/fsindex/internal/indexing"
	"github.com/standardbeagle/fsindex/internal/version"
)

// Server exposes a live index over the Model Context Protocol.
type Server struct {
	index    *indexing.Index
	cfg      *config.Config
	searches *cancel.Registry
	server   *mcp.Server
	diag     *DiagnosticLogger
	started  time.Time

	watchMu    sync.RWMutex
	watchStats func() indexing.WatchStats
}

// NewServer creates an MCP server over idx. A nil cfg means idx's own config.
func NewServer(idx *indexing.Index, cfg *config.Config) (*Server, error) {
	if idx == nil {
		return nil, errors.New("mcp: index is required")
	}
	if cfg == nil {
		cfg = idx.Config()
	}

	s := &Server{
		index:    idx,
		cfg:      cfg,
		searches: cancel.NewRegistry(),
		diag:     NewDiagnosticLogger(fsdebug.MCPMode),
		started:  time.Now(),
	}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "fsindex-mcp-server",
		Version: version.Info(),
	}, nil)
	s.registerTools()

	s.diag.Printf("MCP server created for %s", idx.Root())
	return s, nil
}

// SetWatchStats attaches a live watcher's statistics to index_status.
func (s *Server) SetWatchStats(fn func() indexing.WatchStats) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.watchStats = fn
}

func (s *Server) currentWatchStats() (indexing.WatchStats, bool) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	if s.watchStats == nil {
		return indexing.WatchStats{}, false
	}
	return s.watchStats(), true
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name:        "info",
		Description: "Describe the fsindex tools, or one tool when 'tool' is given.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"tool": {
					Type:        "string",
					Description: "Tool name",
				},
			},
		},
	}, s.handleInfo)

	s.server.AddTool(&mcp.Tool{
		Name:        "search_files",
		Description: "Find files and directories by name in the live index. Use instead of find or ls -R. A newer search cancels an older one still running.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"pattern": {
					Type:        "string",
					Description: "Name pattern. Glob and regex patterns containing '/' match the path relative to the index root.",
				},
				"type": {
					Type:        "string",
					Description: "Match type: substring (default), exact, glob, regex, fuzzy",
				},
				"case_insensitive": {
					Type:        "boolean",
					Description: "Ignore case",
				},
				"max": {
					Type:        "integer",
					Description: "Maximum results",
				},
				"kinds": {
					Type:        "array",
					Items:       &jsonschema.Schema{Type: "string"},
					Description: "Restrict to entry kinds: file, dir, symlink",
				},
				"extensions": {
					Type:        "array",
					Items:       &jsonschema.Schema{Type: "string"},
					Description: "Restrict files to extensions, e.g. [\".go\", \"md\"]",
				},
				"fuzzy_threshold": {
					Type:        "number",
					Description: "Minimum similarity (0-1) for fuzzy matches",
				},
				"absolute": {
					Type:        "boolean",
					Description: "Report absolute paths",
				},
			},
			Required: []string{"pattern"},
		},
	}, s.handleSearchFiles)

	s.server.AddTool(&mcp.Tool{
		Name:        "node_info",
		Description: "Show one indexed entry: kind, handle, metadata and children.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": {
					Type:        "string",
					Description: "Absolute path, or path relative to the index root",
				},
				"max_children": {
					Type:        "integer",
					Description: "Maximum children listed (default 100)",
				},
			},
			Required: []string{"path"},
		},
	}, s.handleNodeInfo)

	s.server.AddTool(&mcp.Tool{
		Name:        "index_status",
		Description: "Index statistics, persistence state and watcher health.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, s.handleIndexStatus)
}

// recoverFromPanic turns handler panics and errors into error results so a
// bad request never takes the server down.
func (s *Server) recoverFromPanic(operation string, handler func() (*mcp.CallToolResult, error)) (result *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.diag.Errorf("panic in %s: %v\n%s", operation, r, debug.Stack())

			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			s.diag.Printf("memory - Alloc: %d KB, Sys: %d KB, NumGC: %d", m.Alloc/1024, m.Sys/1024, m.NumGC)

			result, err = createErrorResponse(operation, errors.New("internal error"))
		}
	}()

	result, err = handler()
	if err != nil {
		s.diag.Errorf("%s: %v", operation, err)
		return createSmartErrorResponse(operation, err, map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"root":      s.index.Root(),
		})
	}
	return result, nil
}

// Start serves the protocol on stdio until ctx is done or the client leaves.
func (s *Server) Start(ctx context.Context) error {
	s.diag.Printf("Starting MCP server with stdio transport")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Shutdown cancels any running search and closes the diagnostic log.
func (s *Server) Shutdown(ctx context.Context) error {
	s.diag.Printf("Shutting down MCP server after %s", time.Since(s.started).Round(time.Second))
	s.searches.Next()
	return s.diag.Close()
}
