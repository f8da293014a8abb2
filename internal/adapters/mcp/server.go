package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/contextkb/knowledge-server/internal/core/ports"
)

// NewServer assembles the MCP server with the full knowledge tool set.
func NewServer(name, version string, service ports.KnowledgeService, logger *slog.Logger) *server.MCPServer {
	h := NewHandlers(service, logger)

	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(addTool(), h.handleAdd())
	s.AddTool(searchTool(), h.handleSearch())
	s.AddTool(showTool(), h.handleShow())
	s.AddTool(removeTool(), h.handleRemove())
	s.AddTool(clearTool(), h.handleClear())
	s.AddTool(statusTool(), h.handleStatus())
	s.AddTool(taskStatusTool(), h.handleTaskStatus())
	s.AddTool(contextCreateTool(), h.handleContextCreate())
	s.AddTool(contextListTool(), h.handleContextList())
	s.AddTool(contextShowTool(), h.handleContextShow())
	s.AddTool(contextDeleteTool(), h.handleContextDelete())

	return s
}

// ServeStdio blocks on the stdio transport until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
