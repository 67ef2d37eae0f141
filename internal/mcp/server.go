package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/bms-assistant/internal/dispatch"
	"github.com/ziadkadry99/bms-assistant/internal/knowledge"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
)

// Version is set via ldflags at build time.
var Version = "dev"

// UserID owns the turns agents run through the ask tool unless they name
// a user.
const UserID = "mcp"

// Server wraps an MCP server that exposes the assistant to agents.
type Server struct {
	engine  *dispatch.Engine
	devices platform.Directory
	faults  *knowledge.Base
	mcp     *server.MCPServer
}

// NewServer creates a new MCP server. faults may be nil, in which case
// search_faults is not offered.
func NewServer(engine *dispatch.Engine, devices platform.Directory, faults *knowledge.Base) *Server {
	s := &Server{
		engine:  engine,
		devices: devices,
		faults:  faults,
	}

	s.mcp = server.NewMCPServer(
		"bmsassist",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(askTool, s.handleAsk)
	s.mcp.AddTool(diagnoseDeviceTool, s.handleDiagnoseDevice)
	s.mcp.AddTool(listDevicesTool, s.handleListDevices)
	if s.faults != nil {
		s.mcp.AddTool(searchFaultsTool, s.handleSearchFaults)
	}
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
