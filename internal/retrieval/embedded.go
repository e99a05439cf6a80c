package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bull/narrative-knowledge/internal/chunking"
	"github.com/bull/narrative-knowledge/internal/embedding"
	"github.com/bull/narrative-knowledge/internal/storage"
)

// VectorStore is the storage half of a backend that chunks and embeds locally.
type VectorStore interface {
	Add(ctx context.Context, contentID string, records []storage.Record) error
	Remove(ctx context.Context, contentID string) (int, error)
	Replace(ctx context.Context, records []storage.Record) error
	Search(ctx context.Context, query []float32, k int, contentType string) ([]storage.Result, error)
}

// embeddedBackend chunks and embeds documents itself and keeps the vectors in
// a VectorStore. LocalBackend and QdrantBackend differ only in the store.
type embeddedBackend struct {
	chunker  *chunking.Chunker
	provider embedding.Provider
	store    VectorStore
	logger   *slog.Logger
}

func (b *embeddedBackend) records(ctx context.Context, doc Document) ([]storage.Record, error) {
	chunks := b.chunker.Chunk(doc.Text, doc.ContentType, doc.ContentID, doc.Title)
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := b.provider.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", doc.ContentID, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embed %s: got %d vectors for %d chunks", doc.ContentID, len(vectors), len(chunks))
	}

	records := make([]storage.Record, len(chunks))
	for i, c := range chunks {
		records[i] = storage.Record{Vector: vectors[i], Content: c.Text, Metadata: c.Metadata, Extra: doc.Extra}
	}
	return records, nil
}

func (b *embeddedBackend) Add(ctx context.Context, doc Document) (int, error) {
	records, err := b.records(ctx, doc)
	if err != nil {
		return 0, err
	}
	if err := b.store.Add(ctx, doc.ContentID, records); err != nil {
		return 0, err
	}
	b.logger.Debug("Indexed content", "content_id", doc.ContentID, "type", doc.ContentType, "chunks", len(records))
	return len(records), nil
}

func (b *embeddedBackend) Remove(ctx context.Context, contentID string) error {
	n, err := b.store.Remove(ctx, contentID)
	if err != nil {
		return err
	}
	if n > 0 {
		b.logger.Debug("Removed content", "content_id", contentID, "chunks", n)
	}
	return nil
}

func (b *embeddedBackend) Search(ctx context.Context, query string, k int, contentType string) ([]storage.Result, error) {
	vectors, err := b.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return b.store.Search(ctx, vectors[0], k, contentType)
}

// Rebuild embeds every document before touching the store, then swaps the
// store contents in one Replace.
func (b *embeddedBackend) Rebuild(ctx context.Context, docs []Document) (*RebuildStats, error) {
	start := time.Now()
	stats := &RebuildStats{ByType: make(map[string]int)}

	var all []storage.Record
	for _, doc := range docs {
		records, err := b.records(ctx, doc)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
		stats.Documents++
		stats.ByType[doc.ContentType] += len(records)
	}

	if err := b.store.Replace(ctx, all); err != nil {
		return nil, fmt.Errorf("replace index: %w", err)
	}
	stats.Chunks = len(all)
	stats.Duration = time.Since(start)
	return stats, nil
}

// LocalBackend keeps vectors in a FlatIndex on local disk.
type LocalBackend struct {
	embeddedBackend
	index *storage.FlatIndex
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend fails with storage.ErrDimensionMismatch when the provider
// and the index disagree on vector size.
func NewLocalBackend(chunker *chunking.Chunker, provider embedding.Provider, index *storage.FlatIndex, logger *slog.Logger) (*LocalBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if provider.Dimension() != index.Dimension() {
		return nil, fmt.Errorf("%w: provider %s produces %d dimensions, index holds %d",
			storage.ErrDimensionMismatch, provider.Model(), provider.Dimension(), index.Dimension())
	}
	return &LocalBackend{
		embeddedBackend: embeddedBackend{chunker: chunker, provider: provider, store: index, logger: logger},
		index:           index,
	}, nil
}

func (b *LocalBackend) Name() string { return BackendLocal }

func (b *LocalBackend) Stats(ctx context.Context) (*Stats, error) {
	counts := b.index.CountByType()
	return &Stats{Backend: BackendLocal, Counts: counts, Total: countTotal(counts)}, nil
}

// Health always succeeds; load problems surface when the index is opened.
func (b *LocalBackend) Health(ctx context.Context) error { return nil }

// QdrantBackend keeps vectors in a Qdrant collection.
type QdrantBackend struct {
	embeddedBackend
	qdrant *storage.QdrantStore
}

var _ Backend = (*QdrantBackend)(nil)

func NewQdrantBackend(chunker *chunking.Chunker, provider embedding.Provider, store *storage.QdrantStore, logger *slog.Logger) *QdrantBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &QdrantBackend{
		embeddedBackend: embeddedBackend{chunker: chunker, provider: provider, store: store, logger: logger},
		qdrant:          store,
	}
}

func (b *QdrantBackend) Name() string { return BackendQdrant }

func (b *QdrantBackend) Stats(ctx context.Context) (*Stats, error) {
	counts, err := b.qdrant.CountByType(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Backend: BackendQdrant, Counts: counts, Total: countTotal(counts)}, nil
}

func (b *QdrantBackend) Health(ctx context.Context) error {
	return b.qdrant.Health(ctx)
}
