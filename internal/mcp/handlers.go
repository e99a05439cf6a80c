package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/narrative-knowledge/internal/assistant"
	"github.com/bull/narrative-knowledge/internal/retrieval"
	"github.com/bull/narrative-knowledge/internal/storage"
)

const maxK = 50

func clampK(k, def int) int {
	switch {
	case k <= 0:
		return def
	case k > maxK:
		return maxK
	default:
		return k
	}
}

func toSearchResults(results []storage.Result) []SearchResult {
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ContentID:   r.Metadata.ContentID,
			ContentType: r.Metadata.ContentType,
			Title:       r.Metadata.Title,
			Collection:  r.Metadata.Collection,
			ChunkIndex:  r.Metadata.ChunkIndex,
			ChunkCount:  r.Metadata.ChunkCount,
			Score:       r.Score,
			Content:     r.Content,
		})
	}
	return out
}

func validContentType(t string) bool {
	for _, known := range storage.ContentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// makeSearchHandler creates the search_content tool handler.
func makeSearchHandler(svc *retrieval.Service) func(
	context.Context, *mcp.CallToolRequest, SearchContentInput,
) (*mcp.CallToolResult, SearchContentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchContentInput) (
		*mcp.CallToolResult, SearchContentOutput, error,
	) {
		if input.ContentType != "" && !validContentType(input.ContentType) {
			return nil, SearchContentOutput{}, fmt.Errorf("unknown content_type %q (want one of %s)",
				input.ContentType, strings.Join(storage.ContentTypes, ", "))
		}

		results, err := svc.Search(ctx, input.Query, clampK(input.K, retrieval.DefaultSearchK), input.ContentType)
		if err != nil {
			return nil, SearchContentOutput{}, fmt.Errorf("search failed: %w", err)
		}
		if len(results) == 0 {
			return nil, SearchContentOutput{
				Results: []SearchResult{},
				Message: "No matching content found. Try broader search terms.",
			}, nil
		}
		return nil, SearchContentOutput{Results: toSearchResults(results)}, nil
	}
}

// makeContextHandler creates the get_context tool handler.
// Results never include chunks of the requesting content item.
func makeContextHandler(svc *retrieval.Service) func(
	context.Context, *mcp.CallToolRequest, GetContextInput,
) (*mcp.CallToolResult, SearchContentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetContextInput) (
		*mcp.CallToolResult, SearchContentOutput, error,
	) {
		results, err := svc.GetContextForContent(ctx, input.ContentID, input.Query, clampK(input.K, retrieval.DefaultContextK))
		if err != nil {
			return nil, SearchContentOutput{}, fmt.Errorf("context lookup failed: %w", err)
		}
		out := SearchContentOutput{Results: toSearchResults(results)}
		if len(results) == 0 {
			out.Message = retrieval.NoContextMessage
		}
		return nil, out, nil
	}
}

// makeAddHandler creates the add_content tool handler.
func makeAddHandler(svc *retrieval.Service) func(
	context.Context, *mcp.CallToolRequest, AddContentInput,
) (*mcp.CallToolResult, AddContentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AddContentInput) (
		*mcp.CallToolResult, AddContentOutput, error,
	) {
		if input.ContentID == "" {
			return nil, AddContentOutput{}, fmt.Errorf("content_id is required")
		}
		if !validContentType(input.ContentType) {
			return nil, AddContentOutput{}, fmt.Errorf("unknown content_type %q", input.ContentType)
		}
		if strings.TrimSpace(input.Text) == "" {
			return nil, AddContentOutput{ContentID: input.ContentID, Message: "Text is blank; nothing indexed."}, nil
		}

		if err := svc.AddContent(ctx, input.Text, input.ContentType, input.ContentID, input.Title); err != nil {
			return nil, AddContentOutput{}, err
		}
		return nil, AddContentOutput{ContentID: input.ContentID, Indexed: true}, nil
	}
}

// makeRemoveHandler creates the remove_content tool handler.
// Removing an unknown id succeeds.
func makeRemoveHandler(svc *retrieval.Service) func(
	context.Context, *mcp.CallToolRequest, RemoveContentInput,
) (*mcp.CallToolResult, RemoveContentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RemoveContentInput) (
		*mcp.CallToolResult, RemoveContentOutput, error,
	) {
		if input.ContentID == "" {
			return nil, RemoveContentOutput{}, fmt.Errorf("content_id is required")
		}
		if err := svc.RemoveContent(ctx, input.ContentID); err != nil {
			return nil, RemoveContentOutput{}, err
		}
		return nil, RemoveContentOutput{ContentID: input.ContentID, Removed: true}, nil
	}
}

// Rebuilder performs a full rebuild. indexer.Pipeline satisfies it and also
// records the rebuilt state for later syncs.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*retrieval.RebuildStats, error)
}

// makeRebuildHandler creates the rebuild_index tool handler.
func makeRebuildHandler(rebuilder Rebuilder) func(
	context.Context, *mcp.CallToolRequest, RebuildIndexInput,
) (*mcp.CallToolResult, RebuildIndexOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RebuildIndexInput) (
		*mcp.CallToolResult, RebuildIndexOutput, error,
	) {
		stats, err := rebuilder.Rebuild(ctx)
		if err != nil {
			return nil, RebuildIndexOutput{}, fmt.Errorf("rebuild failed, previous index kept: %w", err)
		}
		return nil, RebuildIndexOutput{
			Documents:  stats.Documents,
			Chunks:     stats.Chunks,
			ByType:     stats.ByType,
			DurationMS: stats.Duration.Milliseconds(),
		}, nil
	}
}

// makeAskHandler creates the ask_assistant tool handler.
func makeAskHandler(a *assistant.Assistant) func(
	context.Context, *mcp.CallToolRequest, AskAssistantInput,
) (*mcp.CallToolResult, AskAssistantOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskAssistantInput) (
		*mcp.CallToolResult, AskAssistantOutput, error,
	) {
		answer, err := a.Process(ctx, input.Query)
		if err != nil {
			return nil, AskAssistantOutput{}, err
		}
		return nil, AskAssistantOutput{Answer: answer}, nil
	}
}

// makeEnhancedContextHandler creates the enhanced_context tool handler.
func makeEnhancedContextHandler(svc *retrieval.Service) func(
	context.Context, *mcp.CallToolRequest, EnhancedContextInput,
) (*mcp.CallToolResult, ContextTextOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input EnhancedContextInput) (
		*mcp.CallToolResult, ContextTextOutput, error,
	) {
		if input.ContentType != "" && !validContentType(input.ContentType) {
			return nil, ContextTextOutput{}, fmt.Errorf("unknown content_type %q", input.ContentType)
		}
		text, err := svc.GetEnhancedContext(ctx, input.Query, input.ContentType)
		if err != nil {
			return nil, ContextTextOutput{}, fmt.Errorf("enhanced context failed: %w", err)
		}
		return nil, ContextTextOutput{Context: text}, nil
	}
}

// makeWritingContextHandler creates the writing_context tool handler.
func makeWritingContextHandler(a *assistant.Assistant) func(
	context.Context, *mcp.CallToolRequest, WritingContextInput,
) (*mcp.CallToolResult, ContextTextOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input WritingContextInput) (
		*mcp.CallToolResult, ContextTextOutput, error,
	) {
		contextType := input.ContextType
		if contextType == "" {
			contextType = "general"
		}
		text, err := a.GetContextForWriting(ctx, input.Text, contextType)
		if err != nil {
			return nil, ContextTextOutput{}, fmt.Errorf("writing context failed: %w", err)
		}
		return nil, ContextTextOutput{Context: text}, nil
	}
}

// makeStatusHandler creates the index_status tool handler. A failing
// backend is reported in the output rather than as a tool error.
func makeStatusHandler(svc *retrieval.Service) func(
	context.Context, *mcp.CallToolRequest, IndexStatusInput,
) (*mcp.CallToolResult, IndexStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IndexStatusInput) (
		*mcp.CallToolResult, IndexStatusOutput, error,
	) {
		out := IndexStatusOutput{Backend: svc.Backend().Name(), Counts: map[string]int{}}
		if err := svc.Health(ctx); err != nil {
			out.Error = err.Error()
			return nil, out, nil
		}
		stats, err := svc.Stats(ctx)
		if err != nil {
			out.Error = err.Error()
			return nil, out, nil
		}
		out.Healthy = true
		out.Counts = stats.Counts
		out.Total = stats.Total
		return nil, out, nil
	}
}
