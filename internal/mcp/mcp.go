// Package mcp implements the Model Context Protocol server for Mogi.
//
// The MCP server exposes the simulation coordinator through MCP tools,
// resources, and prompts, so MCP-compatible AI agents can start runs,
// step them, inject moderator feedback, and read transcripts without
// speaking the HTTP API directly. It is mounted behind the same auth
// middleware as the HTTP routes; handlers read the caller's identity
// from the request context.
package mcp

import (
	"log/slog"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mogi/internal/engine"
)

// reviewWindow is how long a transcript read counts as "recent" for the
// feedback nudge in mogi_post_feedback.
const reviewWindow = 10 * time.Minute

// Server wraps the MCP server with Mogi's engine and store.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     engine.Store
	eng       *engine.Controller
	reviews   *reviewTracker
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools, resources,
// and prompts registered.
func New(store engine.Store, eng *engine.Controller, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:   store,
		eng:     eng,
		reviews: newReviewTracker(reviewWindow),
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"mogi",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
