package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/cancel"
	"github.com/standardbeagle/fsindex/internal/core"
	"github.com/standardbeagle/fsindex/internal/types"
	"github.com/standardbeagle/fsindex/internal/version"
	"github.com/standardbeagle/fsindex/pkg/pathutil"
)

const defaultMaxChildren = 100

// FileResult is one search hit as reported to clients.
type FileResult struct {
	Path     string  `json:"path"`
	Type     string  `json:"type"`
	Size     *uint64 `json:"size,omitempty"`
	Modified string  `json:"modified,omitempty"`
	Score    float32 `json:"score,omitempty"`
}

// SearchFilesResponse is the search_files result.
type SearchFilesResponse struct {
	Pattern   string       `json:"pattern"`
	Type      string       `json:"type"`
	Results   []FileResult `json:"results"`
	Count     int          `json:"count"`
	Truncated bool         `json:"truncated,omitempty"`
	Cancelled bool         `json:"cancelled,omitempty"`
	ElapsedMs float64      `json:"elapsed_ms"`
	Warnings  []string     `json:"warnings,omitempty"`
}

// NodeInfoResponse is the node_info result.
type NodeInfoResponse struct {
	Path        string       `json:"path"`
	Handle      string       `json:"handle"`
	Type        string       `json:"type"`
	Metadata    *metaView    `json:"metadata,omitempty"`
	Children    []FileResult `json:"children,omitempty"`
	ChildCount  int          `json:"child_count"`
	MoreEntries int          `json:"more_children,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
}

type metaView struct {
	Size     uint64 `json:"size"`
	Modified string `json:"modified,omitempty"`
	Created  string `json:"created,omitempty"`
}

func formatUnix(sec uint64, ok bool) string {
	if !ok {
		return ""
	}
	return time.Unix(int64(sec), 0).UTC().Format(time.RFC3339)
}

func newMetaView(m types.NodeMetadata) *metaView {
	return &metaView{
		Size:     m.Size,
		Modified: formatUnix(m.Modified()),
		Created:  formatUnix(m.Created()),
	}
}

func fileResult(path string, ft types.FileType, meta types.NodeMetadata, hasMeta bool) FileResult {
	r := FileResult{Path: path, Type: ft.String()}
	if hasMeta {
		size := meta.Size
		r.Size = &size
		r.Modified = formatUnix(meta.Modified())
	}
	return r
}

func (s *Server) handleSearchFiles(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("search_files", func() (*mcp.CallToolResult, error) {
		var params SearchFilesParams
		if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
			return createErrorResponse("search_files", fmt.Errorf("invalid parameters: %w", err))
		}

		q, err := params.query()
		if err != nil {
			return createSmartErrorResponse("search_files", err, map[string]interface{}{"pattern": params.Pattern})
		}
		if params.CaseInsensitive == nil {
			q.CaseInsensitive = s.cfg.Search.CaseInsensitive
		}
		if q.MaxResults == 0 {
			q.MaxResults = s.cfg.Search.MaxResults
		}
		if q.FuzzyThreshold == 0 {
			q.FuzzyThreshold = float32(s.cfg.Search.FuzzyThreshold)
		}
		limit := q.MaxResults
		if limit > 0 {
			// one extra to detect truncation
			q.MaxResults = limit + 1
		}

		// Superseding the previous token stops a search that is still scanning.
		token := s.searches.Next()

		start := time.Now()
		matches, err := s.index.Search(q, token)
		resp := SearchFilesResponse{
			Pattern:   q.Pattern,
			Type:      string(q.Type),
			Results:   []FileResult{},
			ElapsedMs: float64(time.Since(start).Microseconds()) / 1000,
			Warnings:  warningMessages(params.Warnings),
		}
		if cancel.IsCancelled(err) {
			resp.Cancelled = true
			return createJSONResponse(resp)
		}
		if err != nil {
			return createSmartErrorResponse("search_files", err, map[string]interface{}{"pattern": params.Pattern})
		}

		if limit > 0 && len(matches) > limit {
			matches = matches[:limit]
			resp.Truncated = true
		}
		if !params.Absolute {
			matches = pathutil.ToRelativeMatches(matches, s.index.Root())
		}
		for _, m := range matches {
			r := fileResult(m.Path, m.Type, m.Metadata, m.HasMetadata)
			r.Score = m.Score
			resp.Results = append(resp.Results, r)
		}
		resp.Count = len(resp.Results)

		s.diag.Printf("search_files %q (%s): %d results in %.2fms", q.Pattern, q.Type, resp.Count, resp.ElapsedMs)
		return createJSONResponse(resp)
	})
}

func (s *Server) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.index.Root(), p)
}

func (s *Server) handleNodeInfo(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("node_info", func() (*mcp.CallToolResult, error) {
		var params NodeInfoParams
		if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
			return createErrorResponse("node_info", fmt.Errorf("invalid parameters: %w", err))
		}
		if params.Path == "" {
			params.Path = "."
		}
		maxChildren := params.MaxChildren
		if maxChildren <= 0 {
			maxChildren = defaultMaxChildren
		}

		abs := s.resolvePath(params.Path)
		var (
			resp  NodeInfoResponse
			found bool
		)
		s.index.View(func(store *core.NodeStore) {
			i, ok := store.Lookup(abs)
			if !ok {
				return
			}
			found = true
			resp = describeNode(store, i, maxChildren)
		})
		if !found {
			return createSmartErrorResponse("node_info", fmt.Errorf("path not indexed: %s", params.Path),
				map[string]interface{}{"path": params.Path, "root": s.index.Root()})
		}
		resp.Warnings = warningMessages(params.Warnings)
		return createJSONResponse(resp)
	})
}

// describeNode must run under the index read lock.
func describeNode(store *core.NodeStore, i alloc.Index, maxChildren int) NodeInfoResponse {
	n, _ := store.At(i)
	h, _ := store.HandleOf(i)

	rel := store.RelPath(i)
	if rel == "" {
		rel = "."
	}
	resp := NodeInfoResponse{
		Path:   rel,
		Handle: h.String(),
		Type:   n.Type.String(),
	}
	if meta, ok := store.Metadata().Get(i); ok {
		resp.Metadata = newMetaView(meta)
	}

	children := store.Children(i)
	resp.ChildCount = len(children)
	for k, c := range children {
		if k == maxChildren {
			resp.MoreEntries = len(children) - k
			break
		}
		child, ok := store.At(c)
		if !ok {
			continue
		}
		meta, hasMeta := store.Metadata().Get(c)
		resp.Children = append(resp.Children, fileResult(child.Name, child.Type, meta, hasMeta))
	}
	return resp
}

func (s *Server) handleIndexStatus(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("index_status", func() (*mcp.CallToolResult, error) {
		stats := s.index.Stats()
		status := map[string]interface{}{
			"root":            s.index.Root(),
			"database":        s.cfg.Index.Database,
			"last_event_id":   uint64(s.index.LastEventID()),
			"dirty":           s.index.Dirty(),
			"version":         version.Info(),
			"uptime_seconds":  int64(time.Since(s.started).Seconds()),
			"active_search":   s.searches.Active(),
			"stats":           stats.FormatAsJSON(),
			"watch_enabled":   s.cfg.Index.WatchMode,
			"diagnostics_log": s.diag.LogPath(),
		}
		if ws, ok := s.currentWatchStats(); ok {
			watch := map[string]interface{}{
				"active":           ws.IsActive,
				"events_processed": ws.EventsProcessed,
				"errors":           ws.ErrorCount,
			}
			if !ws.LastEventTime.IsZero() {
				watch["last_event"] = ws.LastEventTime.UTC().Format(time.RFC3339)
			}
			status["watch"] = watch
		}
		return createJSONResponse(status)
	})
}

var toolHelp = map[string]string{
	"info":         "Describe the available tools.",
	"search_files": "Search entry names. Parameters: pattern (required), type (substring|exact|glob|regex|fuzzy), case_insensitive, max, kinds, extensions, fuzzy_threshold, absolute.",
	"node_info":    "Inspect one entry. Parameters: path (required, absolute or root-relative), max_children.",
	"index_status": "Report node counts, extension distribution, checkpoint state and watcher health.",
}

func (s *Server) handleInfo(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("info", func() (*mcp.CallToolResult, error) {
		var params InfoParams
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
				return createErrorResponse("info", fmt.Errorf("invalid parameters: %w", err))
			}
		}
		if params.Tool != "" {
			help, ok := toolHelp[params.Tool]
			if !ok {
				return createSmartErrorResponse("info", fmt.Errorf("unknown tool: %s", params.Tool), nil)
			}
			return createJSONResponse(map[string]string{"tool": params.Tool, "help": help})
		}

		names := make([]string, 0, len(toolHelp))
		for name := range toolHelp {
			names = append(names, name)
		}
		sort.Strings(names)
		tools := make([]map[string]string, 0, len(names))
		for _, name := range names {
			tools = append(tools, map[string]string{"name": name, "help": toolHelp[name]})
		}
		return createJSONResponse(map[string]interface{}{
			"server":  "fsindex",
			"version": version.FullInfo(),
			"root":    s.index.Root(),
			"tools":   tools,
		})
	})
}
