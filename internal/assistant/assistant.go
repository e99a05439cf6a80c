// Package assistant routes free-text and "!command" queries to the
// retrieval service and renders the answers as plain text.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bull/narrative-knowledge/internal/retrieval"
	"github.com/bull/narrative-knowledge/internal/storage"
)

const (
	searchK        = 5
	suggestK       = 2
	consistencyK   = 3
	writingK       = 3
	analyzeK       = 5
	analyzeMaxLen  = 1000
	resultExcerpt  = 200
	contextExcerpt = 100

	emptyQuery = "Please provide a query."
)

// Retriever is the part of retrieval.Service the assistant needs.
type Retriever interface {
	Search(ctx context.Context, query string, k int, contentType string) ([]storage.Result, error)
	RebuildIndexFromProjects(ctx context.Context) (*retrieval.RebuildStats, error)
}

var _ Retriever = (*retrieval.Service)(nil)

type command struct {
	name  string
	usage string
	help  string
	run   func(a *Assistant, ctx context.Context, arg string) (string, error)
}

var commands = []command{
	{"search", "!search <query>", "search all content", func(a *Assistant, ctx context.Context, arg string) (string, error) {
		return a.Search(ctx, arg, "")
	}},
	{"characters", "!characters <query>", "search characters", func(a *Assistant, ctx context.Context, arg string) (string, error) {
		return a.Search(ctx, arg, storage.TypeCharacter)
	}},
	{"stories", "!stories <query>", "search stories", func(a *Assistant, ctx context.Context, arg string) (string, error) {
		return a.Search(ctx, arg, storage.TypeStory)
	}},
	{"world", "!world <query>", "search world elements", func(a *Assistant, ctx context.Context, arg string) (string, error) {
		return a.Search(ctx, arg, storage.TypeWorldElement)
	}},
	{"analyze", "!analyze <text>", "gather context relevant to a passage", func(a *Assistant, ctx context.Context, arg string) (string, error) {
		return a.RelevantContext(ctx, arg, analyzeMaxLen)
	}},
	{"suggest", "!suggest <text>", "suggest related stories and world elements", func(a *Assistant, ctx context.Context, arg string) (string, error) {
		return a.SuggestStoryElements(ctx, arg)
	}},
	{"consistency", "!consistency <text>", "check a passage against known characters", func(a *Assistant, ctx context.Context, arg string) (string, error) {
		return a.CharacterConsistency(ctx, arg)
	}},
	{"rebuild", "!rebuild", "rebuild the index from the project store", func(a *Assistant, ctx context.Context, _ string) (string, error) {
		return a.Rebuild(ctx)
	}},
}

// Assistant answers knowledge queries. It holds no state besides the retriever.
type Assistant struct {
	retriever Retriever
	logger    *slog.Logger
}

func New(retriever Retriever, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{retriever: retriever, logger: logger}
}

// Process answers one query. Input starting with "!" is a command; anything
// else searches all content. Unknown commands return the command list.
// Errors come only from the retrieval service.
func (a *Assistant) Process(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return emptyQuery, nil
	}
	if !strings.HasPrefix(input, "!") {
		return a.Search(ctx, input, "")
	}

	name, arg, _ := strings.Cut(input[1:], " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)

	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if arg == "" && cmd.name != "rebuild" {
			return "Usage: " + cmd.usage, nil
		}
		a.logger.Debug("Assistant command", "command", cmd.name)
		return cmd.run(a, ctx, arg)
	}
	return Help(), nil
}

// Help lists the available commands.
func Help() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(&b, "  %-22s %s\n", cmd.usage, cmd.help)
	}
	b.WriteString("Anything else is searched across all content.")
	return b.String()
}

// Search runs a knowledge search and formats the results.
func (a *Assistant) Search(ctx context.Context, query, contentType string) (string, error) {
	results, err := a.retriever.Search(ctx, query, searchK, contentType)
	if err != nil {
		return "", err
	}
	return FormatResults(query, results), nil
}

// FormatResults renders numbered results with their category label,
// relevance and an excerpt.
func FormatResults(query string, results []storage.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No relevant information found for: '%s'", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge search results for: '%s'\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s] %s (Relevance: %.2f)\n", i+1, r.Label(), titleOr(r, "Untitled"), r.Score)
		fmt.Fprintf(&b, "   %s\n\n", retrieval.Excerpt(r.Content, resultExcerpt))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RelevantContext collects whole results as "--- Type: Title ---" sections
// until adding the next one would exceed maxLen characters.
func (a *Assistant) RelevantContext(ctx context.Context, text string, maxLen int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return retrieval.NoContextMessage, nil
	}
	results, err := a.retriever.Search(ctx, text, analyzeK, "")
	if err != nil {
		return "", err
	}

	var parts []string
	used := 0
	for _, r := range results {
		kind := "Content"
		if r.Metadata.ContentType != "" {
			kind = storage.TypeLabel(r.Metadata.ContentType)
		}
		entry := fmt.Sprintf("\n--- %s: %s ---\n%s\n", kind, titleOr(r, "Unknown"), r.Content)
		n := utf8.RuneCountInString(entry)
		if used+n > maxLen {
			break
		}
		parts = append(parts, entry)
		used += n
	}
	if len(parts) == 0 {
		return retrieval.NoContextMessage, nil
	}
	return strings.Join(parts, "\n"), nil
}

// SuggestStoryElements lists stories and world elements related to text.
func (a *Assistant) SuggestStoryElements(ctx context.Context, text string) (string, error) {
	stories, err := a.retriever.Search(ctx, text, suggestK, storage.TypeStory)
	if err != nil {
		return "", err
	}
	world, err := a.retriever.Search(ctx, text, suggestK, storage.TypeWorldElement)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("STORY ELEMENT SUGGESTIONS:\n\n")
	if len(stories) > 0 {
		b.WriteString("Related Stories:\n")
		for _, r := range stories {
			fmt.Fprintf(&b, "- %s\n", titleOr(r, "Unknown"))
		}
	}
	if len(world) > 0 {
		if len(stories) > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Relevant World Elements:\n")
		for _, r := range world {
			fmt.Fprintf(&b, "- %s (%s)\n", titleOr(r, "Unknown"), r.Metadata.ContentType)
		}
	}
	if len(stories) == 0 && len(world) == 0 {
		b.WriteString("No relevant story elements found.")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// CharacterConsistency reports which known characters a passage touches.
func (a *Assistant) CharacterConsistency(ctx context.Context, text string) (string, error) {
	results, err := a.retriever.Search(ctx, text, consistencyK, storage.TypeCharacter)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No character information found in knowledge base.", nil
	}

	var b strings.Builder
	b.WriteString("CHARACTER CONSISTENCY ANALYSIS:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: Found in knowledge base\n", titleOr(r, "Unknown Character"))
		fmt.Fprintf(&b, "  Context: %s\n\n", retrieval.Excerpt(r.Content, contextExcerpt))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// writingContextTypes maps a writing situation to the content type that
// best supports it.
var writingContextTypes = map[string]string{
	"dialogue":    storage.TypeCharacter,
	"description": storage.TypeWorldElement,
	"plot":        storage.TypeStory,
	"general":     storage.TypeStory,
}

// WritingContextTypes lists the context types GetContextForWriting understands.
func WritingContextTypes() []string {
	return slices.Sorted(maps.Keys(writingContextTypes))
}

// GetContextForWriting returns short excerpts that support writing text in
// the given situation. Unknown situations fall back to stories.
func (a *Assistant) GetContextForWriting(ctx context.Context, text, contextType string) (string, error) {
	contentType, ok := writingContextTypes[contextType]
	if !ok {
		contentType = storage.TypeStory
	}
	results, err := a.retriever.Search(ctx, text, writingK, contentType)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return retrieval.NoContextMessage, nil
	}

	var b strings.Builder
	b.WriteString("Relevant context from your knowledge base:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s\n", titleOr(r, "Untitled"), retrieval.Excerpt(r.Content, contextExcerpt))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Rebuild re-derives the index from the project store and summarises it.
func (a *Assistant) Rebuild(ctx context.Context) (string, error) {
	stats, err := a.retriever.RebuildIndexFromProjects(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rebuilt knowledge index: %d documents, %d chunks in %s",
		stats.Documents, stats.Chunks, stats.Duration.Round(time.Millisecond))
	for _, t := range slices.Sorted(maps.Keys(stats.ByType)) {
		fmt.Fprintf(&b, "\n  %s: %d", t, stats.ByType[t])
	}
	return b.String(), nil
}

func titleOr(r storage.Result, fallback string) string {
	if r.Metadata.Title == "" {
		return fallback
	}
	return r.Metadata.Title
}
