// Package indexer keeps the retrieval index in step with the project store.
// Sync applies only the differences since the last run; Watch re-syncs
// whenever the projects file changes.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/bull/narrative-knowledge/internal/retrieval"
	"github.com/bull/narrative-knowledge/internal/storage"
)

// StateFile is the name of the fingerprint file kept next to the index.
const StateFile = "sync_state.json"

// Index is the part of retrieval.Service the pipeline drives.
type Index interface {
	AddDocument(ctx context.Context, doc retrieval.Document) error
	RemoveContent(ctx context.Context, contentID string) error
	Rebuild(ctx context.Context, docs []retrieval.Document) (*retrieval.RebuildStats, error)
}

var _ Index = (*retrieval.Service)(nil)

// SyncResult contains statistics about a sync run.
type SyncResult struct {
	Total      int
	Added      int
	Updated    int
	Removed    int
	Unchanged  int
	FailedDocs []FailedDoc
	Duration   time.Duration
}

// Changed reports whether the run touched the index.
func (r *SyncResult) Changed() bool {
	return r.Added+r.Updated+r.Removed > 0
}

// FailedDoc represents a content item that failed to sync.
type FailedDoc struct {
	ContentID string
	Reason    string
}

type syncState struct {
	Version      int               `json:"version"`
	SyncedAt     time.Time         `json:"synced_at"`
	Fingerprints map[string]string `json:"fingerprints"`
}

// Pipeline diffs the project source against the fingerprints of what it
// last indexed. Sync and Rebuild run one at a time.
type Pipeline struct {
	source    retrieval.ProjectSource
	index     Index
	statePath string
	logger    *slog.Logger

	mu sync.Mutex
}

// NewPipeline creates a pipeline that keeps its state in stateDir.
func NewPipeline(source retrieval.ProjectSource, index Index, stateDir string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:    source,
		index:     index,
		statePath: filepath.Join(stateDir, StateFile),
		logger:    logger,
	}
}

// Fingerprint identifies the indexed form of a document. Extra metadata
// takes part because the remote backend stores it.
func Fingerprint(doc retrieval.Document) string {
	h := xxhash.New()
	for _, part := range []string{doc.ContentType, doc.Title, doc.Text} {
		_, _ = h.WriteString(part)
		_, _ = h.Write([]byte{0})
	}
	if len(doc.Extra) > 0 {
		if raw, err := json.Marshal(doc.Extra); err == nil {
			_, _ = h.Write(raw)
		}
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Sync adds new and changed documents and removes vanished ones. A document
// that fails is reported and retried on the next run; the rest still sync.
// Only a failure to read the project source is returned as an error.
func (p *Pipeline) Sync(ctx context.Context) (*SyncResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	result := &SyncResult{}

	// 1. Load current documents and the previous state
	docs, err := p.source.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	result.Total = len(docs)

	state := p.loadState()
	next := make(map[string]string, len(docs))
	present := make(map[string]bool, len(docs))
	for _, doc := range docs {
		present[doc.ContentID] = true
	}

	// 2. Add or update what changed
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fp := Fingerprint(doc)
		old, known := state.Fingerprints[doc.ContentID]
		if known && old == fp {
			next[doc.ContentID] = fp
			result.Unchanged++
			continue
		}

		if err := p.index.AddDocument(ctx, doc); err != nil {
			p.logger.Warn("Failed to sync document", "content_id", doc.ContentID, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{ContentID: doc.ContentID, Reason: err.Error()})
			if known {
				next[doc.ContentID] = old
			}
			continue
		}
		next[doc.ContentID] = fp
		if known {
			result.Updated++
		} else {
			result.Added++
		}
	}

	// 3. Remove what disappeared from the source
	for id, fp := range state.Fingerprints {
		if present[id] {
			continue
		}
		if err := p.index.RemoveContent(ctx, id); err != nil {
			p.logger.Warn("Failed to remove document", "content_id", id, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{ContentID: id, Reason: err.Error()})
			next[id] = fp
			continue
		}
		result.Removed++
	}

	// 4. Persist the new state
	if err := p.saveState(next); err != nil {
		return nil, fmt.Errorf("save sync state: %w", err)
	}

	result.Duration = time.Since(start)
	p.logger.Info("Sync complete",
		"added", result.Added,
		"updated", result.Updated,
		"removed", result.Removed,
		"unchanged", result.Unchanged,
		"failed", len(result.FailedDocs),
		"duration", result.Duration,
	)
	return result, nil
}

// Rebuild rebuilds the whole index from one read of the project source and
// records exactly the documents it indexed as synced.
func (p *Pipeline) Rebuild(ctx context.Context) (*retrieval.RebuildStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 1. Load documents once; the same slice is indexed and fingerprinted
	docs, err := p.source.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrProjectStore, err)
	}

	// 2. Rebuild the index
	stats, err := p.index.Rebuild(ctx, docs)
	if err != nil {
		return nil, err
	}

	// 3. Record the new state
	fingerprints := make(map[string]string, len(docs))
	for _, doc := range docs {
		fingerprints[doc.ContentID] = Fingerprint(doc)
	}
	if err := p.saveState(fingerprints); err != nil {
		return nil, fmt.Errorf("save sync state: %w", err)
	}
	return stats, nil
}

// loadState treats a missing or unreadable state file as "nothing synced",
// which makes the next Sync re-add everything.
func (p *Pipeline) loadState() syncState {
	empty := syncState{Fingerprints: map[string]string{}}
	raw, err := os.ReadFile(p.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return empty
	}
	if err != nil {
		p.logger.Warn("Cannot read sync state, starting fresh", "path", p.statePath, "error", err)
		return empty
	}
	var state syncState
	if err := json.Unmarshal(raw, &state); err != nil || state.Fingerprints == nil {
		p.logger.Warn("Corrupt sync state, starting fresh", "path", p.statePath, "error", err)
		return empty
	}
	return state
}

func (p *Pipeline) saveState(fingerprints map[string]string) error {
	raw, err := json.MarshalIndent(syncState{
		Version:      1,
		SyncedAt:     time.Now().UTC(),
		Fingerprints: fingerprints,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.statePath), 0o755); err != nil {
		return err
	}
	tmp := p.statePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.statePath)
}
