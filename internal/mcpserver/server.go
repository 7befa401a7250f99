package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server. The admin tools are only
// registered when an admin secret is configured.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("duelyard", "0.1.0")
	client := NewDuelyardClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolListArenas, h.HandleListArenas)
	s.AddTool(ToolGetPlayerStats, h.HandleGetPlayerStats)
	s.AddTool(ToolTopPlayers, h.HandleTopPlayers)
	if client.HasAdmin() {
		s.AddTool(ToolListActiveDuels, h.HandleListActiveDuels)
		s.AddTool(ToolServiceStatus, h.HandleServiceStatus)
	}

	return s
}
