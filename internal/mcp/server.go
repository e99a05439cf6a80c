package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/narrative-knowledge/internal/assistant"
	"github.com/bull/narrative-knowledge/internal/retrieval"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server  *mcp.Server
	service *retrieval.Service
}

// Config holds server dependencies.
type Config struct {
	Service   *retrieval.Service
	Assistant *assistant.Assistant
	Rebuilder Rebuilder
	Version   string
}

// NewServer creates a configured MCP server with tools registered.
// Rebuilder defaults to the service itself.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	impl := &mcp.Implementation{
		Name:    "narrative-knowledge",
		Version: version,
	}

	server := mcp.NewServer(impl, nil)

	rebuilder := cfg.Rebuilder
	if rebuilder == nil {
		rebuilder = serviceRebuilder{cfg.Service}
	}
	asst := cfg.Assistant
	if asst == nil {
		asst = assistant.New(cfg.Service, nil)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_content",
		Description: "Semantic search over stories, characters, world elements, scripts and chapters. Optionally filter by content_type.",
	}, makeSearchHandler(cfg.Service))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_context",
		Description: "Find material related to a passage, excluding the content item it belongs to.",
	}, makeContextHandler(cfg.Service))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_content",
		Description: "Index a content item, replacing any earlier version with the same content_id.",
	}, makeAddHandler(cfg.Service))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_content",
		Description: "Remove every indexed chunk of a content item. Unknown ids are ignored.",
	}, makeRemoveHandler(cfg.Service))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "rebuild_index",
		Description: "Rebuild the whole index from the project store. The previous index stays in place if the rebuild fails.",
	}, makeRebuildHandler(rebuilder))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_assistant",
		Description: "Ask the knowledge assistant. Supports !search, !characters, !stories, !world, !analyze, !suggest, !consistency and !rebuild.",
	}, makeAskHandler(asst))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_status",
		Description: "Report the active backend, its health and how much content it holds per type.",
	}, makeStatusHandler(cfg.Service))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "enhanced_context",
		Description: "Background for a piece of writing: the top matches as \"[title]: excerpt\" paragraphs, optionally limited to one content_type.",
	}, makeEnhancedContextHandler(cfg.Service))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "writing_context",
		Description: "Short excerpts that support a passage. context_type picks the source: dialogue uses characters, description uses world elements, plot and general use stories.",
	}, makeWritingContextHandler(asst))

	return &Server{
		server:  server,
		service: cfg.Service,
	}
}

type serviceRebuilder struct {
	svc *retrieval.Service
}

func (r serviceRebuilder) Rebuild(ctx context.Context) (*retrieval.RebuildStats, error) {
	return r.svc.RebuildIndexFromProjects(ctx)
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
