package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// createJSONResponse creates a standardized JSON response for MCP tools
func createJSONResponse(data interface{}) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(content)},
		},
	}, nil
}

// createErrorResponse reports a tool failure inside the result with IsError
// set, so the client model can see it and correct the call.
func createErrorResponse(operation string, err error) (*mcp.CallToolResult, error) {
	return createSmartErrorResponse(operation, err, nil)
}

// createSmartErrorResponse is createErrorResponse plus suggestions and context.
func createSmartErrorResponse(operation string, err error, context map[string]interface{}) (*mcp.CallToolResult, error) {
	errorData := map[string]interface{}{
		"success":   false,
		"error":     err.Error(),
		"operation": operation,
	}
	if suggestions := errorSuggestions(operation, err); len(suggestions) > 0 {
		errorData["suggestions"] = suggestions
	}
	if help, ok := toolHelp[operation]; ok {
		errorData["help"] = help
	}
	if len(context) > 0 {
		errorData["context"] = context
	}

	response, marshalErr := createJSONResponse(errorData)
	if marshalErr != nil {
		return nil, marshalErr
	}
	response.IsError = true
	return response, nil
}

func errorSuggestions(operation string, err error) []string {
	msg := strings.ToLower(err.Error())
	var suggestions []string

	switch operation {
	case "search_files":
		switch {
		case strings.Contains(msg, "pattern is required"):
			suggestions = append(suggestions, "Provide a name pattern such as 'main.go' or '*.md'")
		case strings.Contains(msg, "unsupported search type"):
			suggestions = append(suggestions, "Use one of: substring, exact, glob, regex, fuzzy")
		case strings.Contains(msg, "regex") || strings.Contains(msg, "regexp"):
			suggestions = append(suggestions, "Check the regular expression syntax, or use type 'substring'")
		case strings.Contains(msg, "glob") || strings.Contains(msg, "syntax error in pattern"):
			suggestions = append(suggestions, "Check the glob syntax; '**' matches across directories")
		case strings.Contains(msg, "kind"):
			suggestions = append(suggestions, "Valid kinds are file, dir and symlink")
		}
	case "node_info":
		if strings.Contains(msg, "not indexed") {
			suggestions = append(suggestions,
				"Paths are resolved against the index root; use search_files to find the entry",
				"Excluded paths are never indexed")
		}
	}
	return suggestions
}
