package storage

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Content types accepted by the index.
const (
	TypeStory        = "story"
	TypeCharacter    = "character"
	TypeWorldElement = "world_element"
	TypeScript       = "script"
	TypeChapter      = "chapter"
)

// ContentTypes lists every known content type.
var ContentTypes = []string{TypeStory, TypeCharacter, TypeWorldElement, TypeScript, TypeChapter}

// Remote collection names, one per content category.
const (
	CollectionStories       = "stories"
	CollectionCharacters    = "characters"
	CollectionWorldElements = "world_elements"
	CollectionScripts       = "scripts"
)

// Collections lists every remote collection in fan-out order.
var Collections = []string{
	CollectionStories,
	CollectionCharacters,
	CollectionWorldElements,
	CollectionScripts,
}

// CollectionFor maps a content type to its collection. Unknown types land in stories.
func CollectionFor(contentType string) string {
	switch contentType {
	case TypeStory:
		return CollectionStories
	case TypeCharacter:
		return CollectionCharacters
	case TypeWorldElement:
		return CollectionWorldElements
	case TypeScript, TypeChapter:
		return CollectionScripts
	default:
		return CollectionStories
	}
}

// Metadata travels with every stored chunk and every search result.
type Metadata struct {
	ContentType string `json:"content_type,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
	Title       string `json:"title,omitempty"`
	ChunkIndex  int    `json:"chunk_index"`
	ChunkCount  int    `json:"chunk_count"`

	// Collection is only set on results from the remote backend.
	Collection string `json:"collection,omitempty"`
}

// Result is a single search hit. Higher scores are more similar.
type Result struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Score    float64  `json:"score"`
}

// Label returns a display label for the result's category: the collection
// name when known, otherwise the content type.
func (r Result) Label() string {
	label := r.Metadata.Collection
	if label == "" {
		label = r.Metadata.ContentType
	}
	if label == "" {
		return "Unknown"
	}
	return TypeLabel(label)
}

// TypeLabel turns a type or collection name such as "world_element" into
// "World Element".
func TypeLabel(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
