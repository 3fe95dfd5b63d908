package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResult struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and database reachability.
// A nil db reports the database as not configured.
func RegisterHealthTool(s *server.MCPServer, version string, db Pinger) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and database reachability"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "ok", Version: version, Database: "ok"}
		switch {
		case db == nil:
			res.Database = "not_configured"
		default:
			if err := db.Ping(ctx); err != nil {
				res.Status = "degraded"
				res.Database = "unreachable"
				res.Error = err.Error()
			}
		}

		result, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
