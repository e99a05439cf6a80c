package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/narrative-knowledge/internal/metrics"
)

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// Stateless disables session management. Use for simple tool servers
	// that don't need server-to-client requests. Default: false (stateful).
	Stateless bool
}

// NewHTTPHandler creates an HTTP handler for the MCP server using Streamable HTTP transport.
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}

	sdkOpts := &mcp.StreamableHTTPOptions{
		Stateless: opts.Stateless,
	}

	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server.MCPServer()
	}, sdkOpts)
}

// NewMux mounts the landing page, /health, /metrics and /mcp. Every route
// is counted by m; m may be nil.
func NewMux(server *Server, health http.Handler, m *metrics.Metrics, opts *HTTPHandlerOptions) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", NewLandingHandler())
	mux.Handle("/health", health)
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/mcp", NewHTTPHandler(server, opts))
	return m.Middleware(mux)
}
