package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/orchestrator"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that lets agents ask the assistant and search
// the reference corpus.
type Server struct {
	orch   *orchestrator.Orchestrator
	corpus corpus.Source
	mcp    *server.MCPServer
}

// NewServer creates a new MCP server. The orchestrator runs ask turns; the
// corpus source backs search_corpus.
func NewServer(orch *orchestrator.Orchestrator, src corpus.Source) *Server {
	s := &Server{
		orch:   orch,
		corpus: src,
	}

	s.mcp = server.NewMCPServer(
		"chattia",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(askTool, s.handleAsk)
	s.mcp.AddTool(searchCorpusTool, s.handleSearchCorpus)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
