package collections

import (
	"encoding/json"
	"strings"

	"github.com/bull/narrative-knowledge/internal/storage"
)

// The collections API has no metadata field, so metadata rides in the
// document name as "<title> | <compact json>".
const nameSeparator = " | "

// EncodeName builds a document name from a title and its metadata.
// Separators inside the title are softened so the name decodes unambiguously.
func EncodeName(title string, metadata map[string]any) (string, error) {
	title = strings.ReplaceAll(title, nameSeparator, " / ")
	if len(metadata) == 0 {
		return title, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return title + nameSeparator + string(raw), nil
}

// DecodeName splits a document name into its title and metadata. A missing
// or malformed suffix yields nil metadata; the title is always returned.
func DecodeName(name string) (string, map[string]any) {
	title, suffix, found := strings.Cut(name, nameSeparator)
	if !found {
		return name, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(suffix), &metadata); err != nil {
		return title, nil
	}
	return title, metadata
}

// toMetadata projects decoded name metadata onto storage.Metadata. Fields of
// the wrong type are ignored.
func toMetadata(title, collection string, m map[string]any) storage.Metadata {
	meta := storage.Metadata{
		Title:      title,
		Collection: collection,
	}
	if s, ok := m["content_type"].(string); ok {
		meta.ContentType = s
	}
	if s, ok := m["content_id"].(string); ok {
		meta.ContentID = s
	}
	if s, ok := m["title"].(string); ok && s != "" {
		meta.Title = s
	}
	if n, ok := m["chunk_index"].(float64); ok {
		meta.ChunkIndex = int(n)
	}
	if n, ok := m["chunk_count"].(float64); ok {
		meta.ChunkCount = int(n)
	}
	return meta
}
