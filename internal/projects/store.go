// Package projects reads the application's project store, a single JSON
// file holding scripts, stories, characters, world elements and chapters.
// The store is read-only here; the writing application owns it.
package projects

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/bull/narrative-knowledge/internal/markdown"
	"github.com/bull/narrative-knowledge/internal/retrieval"
	"github.com/bull/narrative-knowledge/internal/storage"
)

// Script is a voice script project.
type Script struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	Notes     string `json:"notes"`
	CreatedAt string `json:"created_at,omitempty"`
	WordCount int    `json:"word_count,omitempty"`
}

type Story struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

type Character struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Traits      []string `json:"traits,omitempty"`
	Notes       string   `json:"notes"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

type WorldElement struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Notes       string   `json:"notes"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

// Chapter belongs to a story and is positioned by act, block and number.
type Chapter struct {
	ID            string   `json:"id"`
	StoryID       string   `json:"story_id"`
	ActNumber     int      `json:"act_number"`
	BlockNumber   int      `json:"block_number"`
	ChapterNumber int      `json:"chapter_number"`
	Title         string   `json:"title"`
	Outline       string   `json:"outline"`
	Content       string   `json:"content"`
	Characters    []string `json:"characters,omitempty"`
	Location      string   `json:"location"`
	Status        string   `json:"status"`
	Notes         string   `json:"notes"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

// Data is the decoded project store. Unknown top-level keys are ignored.
type Data struct {
	Projects      map[string]Script       `json:"projects"`
	Stories       map[string]Story        `json:"stories"`
	Characters    map[string]Character    `json:"characters"`
	WorldElements map[string]WorldElement `json:"world_elements"`
	Chapters      map[string]Chapter      `json:"chapters"`
}

// StoryTitle returns the title of storyID, or "" when the story is unknown.
func (d *Data) StoryTitle(storyID string) string {
	return d.Stories[storyID].Title
}

// SortedChapters returns every chapter ordered by story, act, block and number.
func (d *Data) SortedChapters() []Chapter {
	chapters := slices.Collect(maps.Values(d.Chapters))
	slices.SortFunc(chapters, func(a, b Chapter) int {
		return cmp.Or(
			cmp.Compare(a.StoryID, b.StoryID),
			cmp.Compare(a.ActNumber, b.ActNumber),
			cmp.Compare(a.BlockNumber, b.BlockNumber),
			cmp.Compare(a.ChapterNumber, b.ChapterNumber),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return chapters
}

// Store reads projects from a JSON file on every call, so it always sees
// the writer's latest save.
type Store struct {
	path      string
	flattener *markdown.Flattener
}

var _ retrieval.ProjectSource = (*Store)(nil)

func NewStore(path string) *Store {
	return &Store{path: path, flattener: markdown.NewFlattener()}
}

// Path returns the location of the projects file.
func (s *Store) Path() string { return s.path }

// Load reads and decodes the projects file. A missing or unreadable file is
// an error wrapping storage.ErrProjectStore.
func (s *Store) Load(ctx context.Context) (*Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrProjectStore, err)
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", storage.ErrProjectStore, s.path, err)
	}
	return &data, nil
}

// Documents flattens every content item into one retrieval document, in a
// stable order: scripts, stories, characters, world elements, chapters,
// each sorted by id.
func (s *Store) Documents(ctx context.Context) ([]retrieval.Document, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return s.Flatten(data), nil
}

// Flatten converts decoded project data into retrieval documents. Scripts
// without content are skipped.
func (s *Store) Flatten(data *Data) []retrieval.Document {
	var docs []retrieval.Document

	for _, id := range slices.Sorted(maps.Keys(data.Projects)) {
		if doc, ok := s.ScriptDocument(id, data.Projects[id]); ok {
			docs = append(docs, doc)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(data.Stories)) {
		docs = append(docs, s.StoryDocument(id, data.Stories[id]))
	}
	for _, id := range slices.Sorted(maps.Keys(data.Characters)) {
		docs = append(docs, CharacterDocument(id, data.Characters[id]))
	}
	for _, id := range slices.Sorted(maps.Keys(data.WorldElements)) {
		docs = append(docs, WorldElementDocument(id, data.WorldElements[id]))
	}
	for _, id := range slices.Sorted(maps.Keys(data.Chapters)) {
		ch := data.Chapters[id]
		docs = append(docs, ChapterDocument(id, ch, data.StoryTitle(ch.StoryID)))
	}
	return docs
}

// ScriptDocument reports false for scripts with no content.
func (s *Store) ScriptDocument(id string, p Script) (retrieval.Document, bool) {
	if strings.TrimSpace(p.Content) == "" {
		return retrieval.Document{}, false
	}
	body := []byte(p.Content)
	doc := retrieval.Document{
		ContentType: storage.TypeScript,
		ContentID:   id,
		Title:       p.Name,
		Text:        fmt.Sprintf("%s\n\n%s\n\nNotes: %s", p.Name, s.flattener.Flatten(body), p.Notes),
	}
	if outline, err := s.flattener.Outline(body, 2); err == nil && len(outline) > 0 {
		doc.Extra = map[string]any{"sections": outline}
	}
	return doc, true
}

func (s *Store) StoryDocument(id string, st Story) retrieval.Document {
	body := []byte(st.Content)
	extra := map[string]any{"tags": nonNil(st.Tags)}
	if outline, err := s.flattener.Outline(body, 2); err == nil && len(outline) > 0 {
		extra["sections"] = outline
	}
	return retrieval.Document{
		ContentType: storage.TypeStory,
		ContentID:   id,
		Title:       st.Title,
		Text:        fmt.Sprintf("%s\n\n%s\n\n%s", st.Title, st.Description, s.flattener.Flatten(body)),
		Extra:       extra,
	}
}

func CharacterDocument(id string, c Character) retrieval.Document {
	return retrieval.Document{
		ContentType: storage.TypeCharacter,
		ContentID:   id,
		Title:       c.Name,
		Text:        fmt.Sprintf("%s\n\n%s\n\nTraits: %s\n\n%s", c.Name, c.Description, strings.Join(c.Traits, ", "), c.Notes),
		Extra:       map[string]any{"traits": nonNil(c.Traits)},
	}
}

func WorldElementDocument(id string, e WorldElement) retrieval.Document {
	return retrieval.Document{
		ContentType: storage.TypeWorldElement,
		ContentID:   id,
		Title:       e.Name,
		Text:        fmt.Sprintf("%s (%s)\n\n%s\n\nTags: %s\n\n%s", e.Name, e.Type, e.Description, strings.Join(e.Tags, ", "), e.Notes),
		Extra:       map[string]any{"element_type": e.Type, "tags": nonNil(e.Tags)},
	}
}

// ChapterDocument needs the owning story's title, which may be empty.
func ChapterDocument(id string, ch Chapter, storyTitle string) retrieval.Document {
	text := fmt.Sprintf("Chapter %d: %s\n\nStory: %s\nAct %d, Block %d\n\nOutline: %s\n\nLocation: %s\nCharacters: %s\n\nNotes: %s",
		ch.ChapterNumber, ch.Title,
		storyTitle,
		ch.ActNumber, ch.BlockNumber,
		ch.Outline,
		ch.Location,
		strings.Join(ch.Characters, ", "),
		ch.Notes,
	)
	return retrieval.Document{
		ContentType: storage.TypeChapter,
		ContentID:   id,
		Title:       fmt.Sprintf("%s - Chapter %d: %s", storyTitle, ch.ChapterNumber, ch.Title),
		Text:        text,
		Extra: map[string]any{
			"story_id":     ch.StoryID,
			"act_number":   ch.ActNumber,
			"block_number": ch.BlockNumber,
			"status":       ch.Status,
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
