package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/narrative-knowledge/internal/retrieval"
	"github.com/bull/narrative-knowledge/internal/storage"
)

type searchCall struct {
	query       string
	k           int
	contentType string
}

type stubRetriever struct {
	results map[string][]storage.Result
	err     error
	calls   []searchCall
	rebuilt bool
}

func (s *stubRetriever) Search(ctx context.Context, query string, k int, contentType string) ([]storage.Result, error) {
	s.calls = append(s.calls, searchCall{query, k, contentType})
	if s.err != nil {
		return nil, s.err
	}
	return s.results[contentType], nil
}

func (s *stubRetriever) RebuildIndexFromProjects(ctx context.Context) (*retrieval.RebuildStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.rebuilt = true
	return &retrieval.RebuildStats{
		Documents: 3,
		Chunks:    7,
		ByType:    map[string]int{"story": 4, "character": 3},
		Duration:  1500 * time.Millisecond,
	}, nil
}

func result(contentType, title, content string, score float64) storage.Result {
	return storage.Result{
		Content:  content,
		Metadata: storage.Metadata{ContentType: contentType, ContentID: title, Title: title},
		Score:    score,
	}
}

func TestProcess_Routing(t *testing.T) {
	tests := []struct {
		input    string
		wantType string
		wantK    int
		wantQ    string
	}{
		{input: "who is Aria", wantType: "", wantK: 5, wantQ: "who is Aria"},
		{input: "!search Aria", wantType: "", wantK: 5, wantQ: "Aria"},
		{input: "!characters Aria", wantType: "character", wantK: 5, wantQ: "Aria"},
		{input: "!STORIES journey", wantType: "story", wantK: 5, wantQ: "journey"},
		{input: "!world   the marsh ", wantType: "world_element", wantK: 5, wantQ: "the marsh"},
		{input: "!consistency Aria laughs", wantType: "character", wantK: 3, wantQ: "Aria laughs"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			stub := &stubRetriever{}
			_, err := New(stub, nil).Process(context.Background(), tt.input)
			require.NoError(t, err)
			require.Len(t, stub.calls, 1)
			assert.Equal(t, searchCall{tt.wantQ, tt.wantK, tt.wantType}, stub.calls[0])
		})
	}
}

func TestProcess_SpecialInputs(t *testing.T) {
	ctx := context.Background()
	stub := &stubRetriever{}
	a := New(stub, nil)

	out, err := a.Process(ctx, "   ")
	require.NoError(t, err)
	assert.Equal(t, "Please provide a query.", out)

	out, err = a.Process(ctx, "!dance now")
	require.NoError(t, err)
	assert.Equal(t, Help(), out)
	for _, cmd := range []string{"!search", "!characters", "!stories", "!world", "!analyze", "!suggest", "!consistency", "!rebuild"} {
		assert.Contains(t, out, cmd)
	}

	out, err = a.Process(ctx, "!characters")
	require.NoError(t, err)
	assert.Equal(t, "Usage: !characters <query>", out)
	assert.Empty(t, stub.calls)
}

func TestProcess_Rebuild(t *testing.T) {
	stub := &stubRetriever{}
	out, err := New(stub, nil).Process(context.Background(), "!rebuild")
	require.NoError(t, err)
	assert.True(t, stub.rebuilt)
	assert.Equal(t, "Rebuilt knowledge index: 3 documents, 7 chunks in 1.5s\n  character: 3\n  story: 4", out)
}

func TestProcess_PropagatesErrors(t *testing.T) {
	stub := &stubRetriever{err: storage.ErrBackendUnavailable}
	_, err := New(stub, nil).Process(context.Background(), "anything")
	assert.ErrorIs(t, err, storage.ErrBackendUnavailable)

	_, err = New(stub, nil).Process(context.Background(), "!rebuild")
	assert.ErrorIs(t, err, storage.ErrBackendUnavailable)
}

func TestFormatResults(t *testing.T) {
	remote := result("character", "Aria", "Aria the warrior", 0.912)
	remote.Metadata.Collection = "characters"
	untitled := result("world_element", "", strings.Repeat("x", 250), 0.5)

	out := FormatResults("Aria", []storage.Result{remote, untitled})

	want := "Knowledge search results for: 'Aria'\n\n" +
		"1. [Characters] Aria (Relevance: 0.91)\n" +
		"   Aria the warrior\n\n" +
		"2. [World Element] Untitled (Relevance: 0.50)\n" +
		"   " + strings.Repeat("x", 200) + "..."
	assert.Equal(t, want, out)

	assert.Equal(t, "No relevant information found for: 'dragons'", FormatResults("dragons", nil))
}

func TestRelevantContext_RespectsBudget(t *testing.T) {
	stub := &stubRetriever{results: map[string][]storage.Result{
		"": {
			result("story", "First", strings.Repeat("a", 40), 0.9),
			result("world_element", "Second", strings.Repeat("b", 40), 0.8),
			result("character", "Third", strings.Repeat("c", 40), 0.7),
		},
	}}
	a := New(stub, nil)

	out, err := a.RelevantContext(context.Background(), "passage", 140)
	require.NoError(t, err)
	assert.Contains(t, out, "--- Story: First ---")
	assert.Contains(t, out, "--- World Element: Second ---")
	assert.NotContains(t, out, "Third")

	out, err = a.RelevantContext(context.Background(), "passage", 10)
	require.NoError(t, err)
	assert.Equal(t, retrieval.NoContextMessage, out)
}

func TestSuggestStoryElements(t *testing.T) {
	stub := &stubRetriever{results: map[string][]storage.Result{
		"story":         {result("story", "Glass Orchard", "apples", 0.8)},
		"world_element": {result("world_element", "Saltmarsh", "floods", 0.7)},
	}}
	out, err := New(stub, nil).SuggestStoryElements(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "STORY ELEMENT SUGGESTIONS:\n\nRelated Stories:\n- Glass Orchard\n\nRelevant World Elements:\n- Saltmarsh (world_element)", out)
	assert.Equal(t, 2, stub.calls[0].k)

	out, err = New(&stubRetriever{}, nil).SuggestStoryElements(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "STORY ELEMENT SUGGESTIONS:\n\nNo relevant story elements found.", out)
}

func TestCharacterConsistency(t *testing.T) {
	stub := &stubRetriever{results: map[string][]storage.Result{
		"character": {result("character", "Tomas", "Tomas the clockmaker", 0.8)},
	}}
	out, err := New(stub, nil).CharacterConsistency(context.Background(), "Tomas winds the clock")
	require.NoError(t, err)
	assert.Equal(t, "CHARACTER CONSISTENCY ANALYSIS:\n\n- Tomas: Found in knowledge base\n  Context: Tomas the clockmaker", out)

	out, err = New(&stubRetriever{}, nil).CharacterConsistency(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "No character information found in knowledge base.", out)
}

func TestGetContextForWriting(t *testing.T) {
	tests := []struct {
		contextType string
		wantType    string
	}{
		{"dialogue", "character"},
		{"description", "world_element"},
		{"plot", "story"},
		{"general", "story"},
		{"poetry", "story"},
	}
	for _, tt := range tests {
		t.Run(tt.contextType, func(t *testing.T) {
			stub := &stubRetriever{results: map[string][]storage.Result{
				tt.wantType: {result(tt.wantType, "Hit", "supporting text", 0.6)},
			}}
			out, err := New(stub, nil).GetContextForWriting(context.Background(), "draft", tt.contextType)
			require.NoError(t, err)
			assert.Equal(t, "Relevant context from your knowledge base:\n\n- Hit: supporting text", out)
			assert.Equal(t, 3, stub.calls[0].k)
		})
	}

	out, err := New(&stubRetriever{}, nil).GetContextForWriting(context.Background(), "draft", "plot")
	require.NoError(t, err)
	assert.Equal(t, retrieval.NoContextMessage, out)
	assert.Equal(t, []string{"description", "dialogue", "general", "plot"}, WritingContextTypes())
}

func TestProcess_ErrorsAreNotSwallowed(t *testing.T) {
	stub := &stubRetriever{err: errors.New("boom")}
	_, err := New(stub, nil).Process(context.Background(), "!suggest something")
	assert.EqualError(t, err, "boom")
}
