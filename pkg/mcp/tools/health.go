package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loaderland/concept-runner/pkg/database"
)

type healthResult struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

// RegisterHealthTool adds a health check tool to the MCP server. The tool
// reports the server version and database reachability.
func RegisterHealthTool(s *server.MCPServer, version string, db *database.DB) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version, and database reachability"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbStatus := "ok"
		if err := db.Ping(ctx); err != nil {
			dbStatus = "unreachable"
		}

		result, err := json.Marshal(healthResult{Status: "ok", Version: version, Database: dbStatus})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
