package mcpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"malloy-publisher/internal/catalog"
	"malloy-publisher/internal/executor"
	"malloy-publisher/internal/malloy"
)

// serverVersion is reported in the MCP handshake.
const serverVersion = "0.1.0"

// Server wires the catalog and executor into an MCP server.
type Server struct {
	mcp      *mcp.Server
	store    *catalog.Store
	executor *executor.Service
	logger   *slog.Logger
}

// NewServer creates the MCP server and registers every resource, tool,
// and prompt.
func NewServer(store *catalog.Store, exec *executor.Service, logger *slog.Logger) *Server {
	s := &Server{
		store:    store,
		executor: exec,
		logger:   logger.With("component", "mcp"),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "malloy-publisher",
			Version: serverVersion,
		},
		&mcp.ServerOptions{
			Instructions: "Browse Malloy projects, packages, and models as resources; run queries with the malloy_executeQuery tool.",
		},
	)
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// Handler returns the streamable HTTP transport for mounting at /mcp.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

// jsonText marshals v for embedding in a text payload.
func jsonText(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return `{"error":"encode failed"}`
	}
	return string(b)
}

// errorPayload is the error envelope embedded in resource and tool
// responses: the message plus suggestions for recovering.
func errorPayload(err error) string {
	return jsonText(map[string]interface{}{
		"error":       err.Error(),
		"suggestions": malloy.Suggestions(err),
	})
}
