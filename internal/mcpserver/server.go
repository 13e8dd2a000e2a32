package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Kestrel tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("kestrel", "0.1.0")
	client := NewKestrelClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolOpenInvestigation, h.HandleOpenInvestigation)
	s.AddTool(ToolAssessDomains, h.HandleAssessDomains)
	s.AddTool(ToolAggregateRisk, h.HandleAggregateRisk)
	s.AddTool(ToolGetInvestigation, h.HandleGetInvestigation)
	s.AddTool(ToolListAssessments, h.HandleListAssessments)

	return s
}
