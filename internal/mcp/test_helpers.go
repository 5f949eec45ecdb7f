package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CallTool invokes a tool handler in process, bypassing the stdio transport.
// It returns the text content of the result, or an error when the tool
// reported one.
//
//	server, _ := mcp.NewServer(idx, cfg)
//	out, err := server.CallTool("search_files", map[string]interface{}{"pattern": "*.go", "type": "glob"})
func (s *Server) CallTool(toolName string, params map[string]interface{}) (string, error) {
	ctx := context.Background()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}
	req := &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      toolName,
			Arguments: paramsJSON,
		},
	}

	var result *mcp.CallToolResult
	switch toolName {
	case "info":
		result, err = s.handleInfo(ctx, req)
	case "search_files":
		result, err = s.handleSearchFiles(ctx, req)
	case "node_info":
		result, err = s.handleNodeInfo(ctx, req)
	case "index_status":
		result, err = s.handleIndexStatus(ctx, req)
	default:
		return "", fmt.Errorf("unknown tool: %s", toolName)
	}
	if err != nil {
		return "", err
	}
	if result == nil || len(result.Content) == 0 {
		return "", errors.New("empty result")
	}

	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		return "", fmt.Errorf("unexpected content type %T", result.Content[0])
	}
	if result.IsError {
		return text.Text, fmt.Errorf("tool error: %s", text.Text)
	}
	return text.Text, nil
}
