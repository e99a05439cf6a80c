// Package retrieval is the single entry point for indexing and searching
// narrative content. A Service holds exactly one Backend, chosen at startup.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/bull/narrative-knowledge/internal/storage"
)

// Backend names.
const (
	BackendAuto   = "auto"
	BackendLocal  = "local"
	BackendRemote = "remote"
	BackendQdrant = "qdrant"
)

// Document is one content item in flattened form.
type Document struct {
	ContentType string
	ContentID   string
	Title       string
	Text        string

	// Extra is stored alongside the document where the backend supports
	// free-form metadata (tags, traits and the like).
	Extra map[string]any
}

// ProjectSource yields the full set of documents a rebuild should index.
type ProjectSource interface {
	Documents(ctx context.Context) ([]Document, error)
}

// RebuildStats summarises a completed rebuild.
type RebuildStats struct {
	Documents int            `json:"documents"`
	Chunks    int            `json:"chunks"`
	Removed   int            `json:"removed"`
	ByType    map[string]int `json:"by_type"`
	Duration  time.Duration  `json:"duration"`
}

// Stats describes what a backend currently holds. Counts are chunks for the
// embedding backends and documents for the remote backend.
type Stats struct {
	Backend string         `json:"backend"`
	Counts  map[string]int `json:"counts"`
	Total   int            `json:"total"`
}

// Backend stores and searches content. Add supersedes any earlier version of
// the same content id. Remove of an unknown id is a no-op. Rebuild replaces
// everything and must leave the previous contents searchable if it fails.
type Backend interface {
	Name() string
	Add(ctx context.Context, doc Document) (int, error)
	Remove(ctx context.Context, contentID string) error
	Search(ctx context.Context, query string, k int, contentType string) ([]storage.Result, error)
	Rebuild(ctx context.Context, docs []Document) (*RebuildStats, error)
	Stats(ctx context.Context) (*Stats, error)
	Health(ctx context.Context) error
}

// Select resolves the requested backend name. "auto" picks the remote
// backend when it is available and the local one otherwise. Requesting the
// remote backend explicitly without credentials is storage.ErrNotConfigured.
func Select(requested string, remoteAvailable bool) (string, error) {
	switch requested {
	case "", BackendAuto:
		if remoteAvailable {
			return BackendRemote, nil
		}
		return BackendLocal, nil
	case BackendRemote:
		if !remoteAvailable {
			return "", fmt.Errorf("%w: remote backend requested without credentials", storage.ErrNotConfigured)
		}
		return BackendRemote, nil
	case BackendLocal, BackendQdrant:
		return requested, nil
	default:
		return "", fmt.Errorf("unknown backend %q", requested)
	}
}

func countTotal(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
