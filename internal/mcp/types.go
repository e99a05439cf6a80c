// Package mcp exposes the narrative knowledge index over the Model Context Protocol.
package mcp

// SearchContentInput defines the input parameters for the search_content tool.
type SearchContentInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"the semantic search query"`
	// K is the maximum number of results to return.
	K int `json:"k,omitempty" jsonschema:"maximum number of results (default 5)"`
	// ContentType restricts results to one content type.
	ContentType string `json:"content_type,omitempty" jsonschema:"optional filter: story, character, world_element, script or chapter"`
}

// SearchContentOutput contains the search results.
type SearchContentOutput struct {
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching content found").
	Message string `json:"message,omitempty"`
}

// SearchResult represents a single chunk match.
type SearchResult struct {
	ContentID   string  `json:"content_id"`
	ContentType string  `json:"content_type"`
	Title       string  `json:"title"`
	Collection  string  `json:"collection,omitempty"`
	ChunkIndex  int     `json:"chunk_index"`
	ChunkCount  int     `json:"chunk_count"`
	Score       float64 `json:"score"`
	Content     string  `json:"content"`
}

// GetContextInput defines the input parameters for the get_context tool.
type GetContextInput struct {
	// ContentID is the item the context is for; its own chunks are excluded.
	ContentID string `json:"content_id" jsonschema:"id of the content being written"`
	Query     string `json:"query" jsonschema:"text to find related material for"`
	K         int    `json:"k,omitempty" jsonschema:"maximum number of results (default 3)"`
}

// EnhancedContextInput defines the input parameters for the enhanced_context tool.
type EnhancedContextInput struct {
	Query       string `json:"query" jsonschema:"text to gather background for"`
	ContentType string `json:"content_type,omitempty" jsonschema:"optional filter: story, character, world_element, script or chapter"`
}

// WritingContextInput defines the input parameters for the writing_context tool.
type WritingContextInput struct {
	Text        string `json:"text" jsonschema:"the passage being written"`
	ContextType string `json:"context_type,omitempty" jsonschema:"dialogue, description, plot or general (default general)"`
}

// ContextTextOutput carries context rendered as plain text.
type ContextTextOutput struct {
	Context string `json:"context"`
}

// AddContentInput defines the input parameters for the add_content tool.
type AddContentInput struct {
	ContentID   string `json:"content_id" jsonschema:"stable id of the content item"`
	ContentType string `json:"content_type" jsonschema:"story, character, world_element, script or chapter"`
	Title       string `json:"title" jsonschema:"display title"`
	Text        string `json:"text" jsonschema:"full text; replaces any earlier version"`
}

// AddContentOutput reports the outcome of add_content.
type AddContentOutput struct {
	ContentID string `json:"content_id"`
	Indexed   bool   `json:"indexed"`
	Message   string `json:"message,omitempty"`
}

// RemoveContentInput defines the input parameters for the remove_content tool.
type RemoveContentInput struct {
	ContentID string `json:"content_id" jsonschema:"id of the content item to remove"`
}

// RemoveContentOutput reports the outcome of remove_content.
type RemoveContentOutput struct {
	ContentID string `json:"content_id"`
	Removed   bool   `json:"removed"`
}

// RebuildIndexInput takes no parameters.
type RebuildIndexInput struct{}

// RebuildIndexOutput summarises a rebuild.
type RebuildIndexOutput struct {
	Documents  int            `json:"documents"`
	Chunks     int            `json:"chunks"`
	ByType     map[string]int `json:"by_type"`
	DurationMS int64          `json:"duration_ms"`
}

// AskAssistantInput defines the input parameters for the ask_assistant tool.
type AskAssistantInput struct {
	Query string `json:"query" jsonschema:"a question, or a command such as !characters Aria"`
}

// AskAssistantOutput carries the assistant's plain-text answer.
type AskAssistantOutput struct {
	Answer string `json:"answer"`
}

// IndexStatusInput takes no parameters.
type IndexStatusInput struct{}

// IndexStatusOutput describes the active backend and what it holds.
type IndexStatusOutput struct {
	Backend string         `json:"backend"`
	Healthy bool           `json:"healthy"`
	Counts  map[string]int `json:"counts"`
	Total   int            `json:"total"`
	Error   string         `json:"error,omitempty"`
}
