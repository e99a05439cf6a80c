package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// Record is one embedded chunk ready for storage.
type Record struct {
	Vector   []float32
	Content  string
	Metadata Metadata

	// Extra is the document's free-form metadata. QdrantStore keeps it in
	// the point payload; FlatIndex does not persist it.
	Extra map[string]any
}

// indexState holds the three positionally aligned columns of the index.
// A state is never mutated after it has been installed.
type indexState struct {
	vectors   [][]float32
	documents []string
	metadata  []Metadata
}

func (s *indexState) len() int { return len(s.vectors) }

// FlatIndex is an exact inner-product index over L2-normalised vectors,
// persisted to two files in dir after every mutation.
//
// There is no in-place delete: removing content builds a fresh state from
// the surviving records. That is O(n) per removal, which is fine for a single
// writing project and not meant for large corpora.
type FlatIndex struct {
	dir       string
	dimension int
	model     string
	logger    *slog.Logger

	mu    sync.RWMutex
	state *indexState
}

// OpenFlatIndex loads the index from dir, or starts empty when no files exist.
// Corrupt files are logged and replaced by an empty index on the next write.
// A persisted dimension different from dimension is returned as ErrDimensionMismatch.
func OpenFlatIndex(dir string, dimension int, model string, logger *slog.Logger) (*FlatIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid index dimension %d", dimension)
	}

	idx := &FlatIndex{
		dir:       dir,
		dimension: dimension,
		model:     model,
		logger:    logger,
		state:     &indexState{},
	}

	loaded, err := readIndexFiles(dir)
	switch {
	case err == nil:
		if loaded.dimension != dimension {
			return nil, fmt.Errorf("%w: index on disk has %d dimensions, embedder produces %d",
				ErrDimensionMismatch, loaded.dimension, dimension)
		}
		if loaded.model != "" && model != "" && loaded.model != model {
			logger.Warn("Index was built with a different embedding model",
				"index_model", loaded.model, "model", model)
		}
		idx.state = loaded.state
		logger.Info("Loaded vector index", "dir", dir, "chunks", loaded.state.len())
	case errors.Is(err, errNoIndexFiles):
		logger.Debug("No vector index on disk, starting empty", "dir", dir)
	default:
		logger.Warn("Vector index unreadable, starting empty", "dir", dir, "error", err)
	}

	return idx, nil
}

func (x *FlatIndex) Dimension() int { return x.dimension }

// Len returns the number of stored chunks.
func (x *FlatIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.len()
}

// CountByType returns chunk counts per content type.
func (x *FlatIndex) CountByType() map[string]int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	counts := make(map[string]int)
	for _, m := range x.state.metadata {
		counts[m.ContentType]++
	}
	return counts
}

// Add replaces every chunk of contentID with records in one mutation.
func (x *FlatIndex) Add(ctx context.Context, contentID string, records []Record) error {
	prepared, err := x.prepare(records)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	next := x.without(contentID)
	for _, r := range prepared {
		next.vectors = append(next.vectors, r.Vector)
		next.documents = append(next.documents, r.Content)
		next.metadata = append(next.metadata, r.Metadata)
	}
	return x.install(next)
}

// Remove deletes every chunk of contentID and returns how many were removed.
// Unknown ids are a no-op and leave the files untouched.
func (x *FlatIndex) Remove(ctx context.Context, contentID string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	next := x.without(contentID)
	removed := x.state.len() - next.len()
	if removed == 0 {
		return 0, nil
	}
	if err := x.install(next); err != nil {
		return 0, err
	}
	return removed, nil
}

// Replace swaps the whole index for records. The previous index stays in
// place, in memory and on disk, if anything fails.
func (x *FlatIndex) Replace(ctx context.Context, records []Record) error {
	prepared, err := x.prepare(records)
	if err != nil {
		return err
	}

	next := &indexState{
		vectors:   make([][]float32, 0, len(prepared)),
		documents: make([]string, 0, len(prepared)),
		metadata:  make([]Metadata, 0, len(prepared)),
	}
	for _, r := range prepared {
		next.vectors = append(next.vectors, r.Vector)
		next.documents = append(next.documents, r.Content)
		next.metadata = append(next.metadata, r.Metadata)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	return x.install(next)
}

// Search returns up to k results ordered by descending cosine similarity.
// The top min(2k, n) candidates are filtered by contentType when it is set.
func (x *FlatIndex) Search(ctx context.Context, query []float32, k int, contentType string) ([]Result, error) {
	if len(query) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), x.dimension)
	}
	if k <= 0 {
		return []Result{}, nil
	}

	q := slices.Clone(query)
	Normalize(q)

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := x.state.len()
	if n == 0 {
		return []Result{}, nil
	}

	scores := make([]float64, n)
	order := make([]int, n)
	for i, v := range x.state.vectors {
		scores[i] = Dot(q, v)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	candidates := order[:min(2*k, n)]
	results := make([]Result, 0, k)
	for _, i := range candidates {
		meta := x.state.metadata[i]
		if contentType != "" && meta.ContentType != contentType {
			continue
		}
		results = append(results, Result{
			Content:  x.state.documents[i],
			Metadata: meta,
			Score:    scores[i],
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// without copies the current state minus the chunks of contentID.
// Must be called with mu held.
func (x *FlatIndex) without(contentID string) *indexState {
	cur := x.state
	next := &indexState{
		vectors:   make([][]float32, 0, cur.len()),
		documents: make([]string, 0, cur.len()),
		metadata:  make([]Metadata, 0, cur.len()),
	}
	for i, m := range cur.metadata {
		if m.ContentID == contentID {
			continue
		}
		next.vectors = append(next.vectors, cur.vectors[i])
		next.documents = append(next.documents, cur.documents[i])
		next.metadata = append(next.metadata, m)
	}
	return next
}

// install persists next and makes it current. Must be called with mu held.
func (x *FlatIndex) install(next *indexState) error {
	if err := writeIndexFiles(x.dir, x.dimension, x.model, next); err != nil {
		x.logger.Error("Failed to persist vector index", "dir", x.dir, "error", err)
		return fmt.Errorf("persist index: %w", err)
	}
	x.state = next
	return nil
}

// prepare validates dimensions and returns normalised copies.
func (x *FlatIndex) prepare(records []Record) ([]Record, error) {
	out := make([]Record, len(records))
	for i, r := range records {
		if len(r.Vector) != x.dimension {
			return nil, fmt.Errorf("%w: record %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(r.Vector), x.dimension)
		}
		vector := slices.Clone(r.Vector)
		Normalize(vector)
		out[i] = Record{Vector: vector, Content: r.Content, Metadata: r.Metadata}
	}
	return out, nil
}
