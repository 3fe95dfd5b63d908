// Package mcp exposes the experiment store and generation executor to MCP clients.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/mcp/tools"
)

// Server wraps the mcp-go MCPServer and owns tool registration.
type Server struct {
	mcp     *server.MCPServer
	version string
	logger  *zap.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(name, version string, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
	)

	return &Server{
		mcp:     mcpServer,
		version: version,
		logger:  logger.Named("mcp"),
	}
}

// MCP returns the underlying MCPServer.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// RegisterTools adds the health tool and, when deps is non-nil, the experiment tools.
func (s *Server) RegisterTools(db tools.Pinger, deps *tools.ExperimentToolDeps) {
	tools.RegisterHealthTool(s.mcp, s.version, db)
	if deps == nil {
		return
	}
	if deps.Logger == nil {
		deps.Logger = s.logger
	}
	tools.RegisterExperimentTools(s.mcp, deps)
	s.logger.Info("Registered MCP experiment tools")
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP server.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}
