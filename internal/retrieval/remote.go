package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bull/narrative-knowledge/internal/collections"
	"github.com/bull/narrative-knowledge/internal/storage"
)

// CollectionStore is the subset of the collections client the remote backend uses.
type CollectionStore interface {
	Available() bool
	GetOrCreateCollection(ctx context.Context, name string) (string, error)
	ListCollections(ctx context.Context) ([]collections.CollectionInfo, error)
	AddDocument(ctx context.Context, collection, content, title string, metadata map[string]any) error
	ListDocuments(ctx context.Context, collection string) ([]collections.DocumentInfo, error)
	DeleteDocument(ctx context.Context, collection, docID string) error
	Query(ctx context.Context, collection, query string, limit int) ([]storage.Result, error)
}

// RemoteBackend stores whole documents in hosted collections, one per content
// category. Chunking and embedding happen server side.
type RemoteBackend struct {
	store  CollectionStore
	logger *slog.Logger
}

var _ Backend = (*RemoteBackend)(nil)

func NewRemoteBackend(store CollectionStore, logger *slog.Logger) (*RemoteBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !store.Available() {
		return nil, fmt.Errorf("%w: collections client has no token", storage.ErrNotConfigured)
	}
	return &RemoteBackend{store: store, logger: logger}, nil
}

func (b *RemoteBackend) Name() string { return BackendRemote }

// EnsureCollections resolves or creates every collection up front.
func (b *RemoteBackend) EnsureCollections(ctx context.Context) error {
	for _, name := range storage.Collections {
		if _, err := b.store.GetOrCreateCollection(ctx, name); err != nil {
			return fmt.Errorf("ensure collection %s: %w", name, err)
		}
	}
	return nil
}

type docRef struct {
	collection string
	id         string
	contentID  string
}

// listAll returns every document of every collection, including documents
// whose name carries no content id.
func (b *RemoteBackend) listAll(ctx context.Context) ([]docRef, error) {
	var refs []docRef
	for _, name := range storage.Collections {
		docs, err := b.store.ListDocuments(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", name, err)
		}
		for _, d := range docs {
			refs = append(refs, docRef{collection: name, id: d.ID, contentID: d.ContentID()})
		}
	}
	return refs, nil
}

// locate groups document ids by content id.
func (b *RemoteBackend) locate(ctx context.Context) (map[string][]docRef, error) {
	all, err := b.listAll(ctx)
	if err != nil {
		return nil, err
	}
	refs := make(map[string][]docRef)
	for _, r := range all {
		if r.contentID != "" {
			refs[r.contentID] = append(refs[r.contentID], r)
		}
	}
	return refs, nil
}

// sharedCollection reports whether more than one content type maps to name.
func sharedCollection(name string) bool {
	n := 0
	for _, t := range storage.ContentTypes {
		if storage.CollectionFor(t) == name {
			n++
		}
	}
	return n > 1
}

func (b *RemoteBackend) deleteRefs(ctx context.Context, refs []docRef) error {
	for _, r := range refs {
		if err := b.store.DeleteDocument(ctx, r.collection, r.id); err != nil {
			return fmt.Errorf("delete %s/%s: %w", r.collection, r.id, err)
		}
	}
	return nil
}

func metadataFor(doc Document) map[string]any {
	meta := make(map[string]any, len(doc.Extra)+3)
	for k, v := range doc.Extra {
		meta[k] = v
	}
	meta["content_type"] = doc.ContentType
	meta["content_id"] = doc.ContentID
	meta["title"] = doc.Title
	return meta
}

func (b *RemoteBackend) upload(ctx context.Context, doc Document) error {
	return b.store.AddDocument(ctx, storage.CollectionFor(doc.ContentType), doc.Text, doc.Title, metadataFor(doc))
}

// Add uploads the new version before deleting older ones, so the content
// stays searchable throughout.
func (b *RemoteBackend) Add(ctx context.Context, doc Document) (int, error) {
	refs, err := b.locate(ctx)
	if err != nil {
		return 0, err
	}
	if err := b.upload(ctx, doc); err != nil {
		return 0, err
	}
	if err := b.deleteRefs(ctx, refs[doc.ContentID]); err != nil {
		return 1, fmt.Errorf("remove superseded versions of %s: %w", doc.ContentID, err)
	}
	return 1, nil
}

func (b *RemoteBackend) Remove(ctx context.Context, contentID string) error {
	refs, err := b.locate(ctx)
	if err != nil {
		return err
	}
	return b.deleteRefs(ctx, refs[contentID])
}

// Search queries the collection for contentType, or fans out across all
// collections asking each for ceil(k/n)+1 results and keeps the best k.
// Results of a shared collection are narrowed to contentType when their
// metadata names a different type; such collections are asked for 2k.
func (b *RemoteBackend) Search(ctx context.Context, query string, k int, contentType string) ([]storage.Result, error) {
	if contentType != "" {
		collection := storage.CollectionFor(contentType)
		limit := k
		if sharedCollection(collection) {
			limit = 2 * k
		}
		results, err := b.store.Query(ctx, collection, query, limit)
		if err != nil {
			return nil, err
		}
		filtered := results[:0]
		for _, r := range results {
			if r.Metadata.ContentType == "" || r.Metadata.ContentType == contentType {
				filtered = append(filtered, r)
			}
			if len(filtered) == k {
				break
			}
		}
		return filtered, nil
	}

	n := len(storage.Collections)
	perCollection := (k+n-1)/n + 1

	perResults := make([][]storage.Result, n)
	perErrors := make([]error, n)
	var g errgroup.Group
	for i, name := range storage.Collections {
		g.Go(func() error {
			perResults[i], perErrors[i] = b.store.Query(ctx, name, query, perCollection)
			return nil
		})
	}
	_ = g.Wait()

	var merged []storage.Result
	failed := 0
	for i, err := range perErrors {
		if err != nil {
			failed++
			b.logger.Warn("Collection query failed", "collection", storage.Collections[i], "error", err)
			continue
		}
		merged = append(merged, perResults[i]...)
	}
	if failed == n {
		return nil, fmt.Errorf("search all collections: %w", perErrors[0])
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}
	if merged == nil {
		merged = []storage.Result{}
	}
	return merged, nil
}

// Rebuild uploads every document, then deletes every document that existed
// before, including ones not written by this backend. A failed upload leaves
// all previous documents in place.
func (b *RemoteBackend) Rebuild(ctx context.Context, docs []Document) (*RebuildStats, error) {
	start := time.Now()
	previous, err := b.listAll(ctx)
	if err != nil {
		return nil, err
	}

	stats := &RebuildStats{ByType: make(map[string]int)}
	for _, doc := range docs {
		if err := b.upload(ctx, doc); err != nil {
			return nil, fmt.Errorf("upload %s: %w", doc.ContentID, err)
		}
		stats.Documents++
		stats.Chunks++
		stats.ByType[doc.ContentType]++
	}

	if err := b.deleteRefs(ctx, previous); err != nil {
		return nil, err
	}
	stats.Removed = len(previous)
	stats.Duration = time.Since(start)
	return stats, nil
}

func (b *RemoteBackend) Stats(ctx context.Context) (*Stats, error) {
	infos, err := b.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, info := range infos {
		for _, name := range storage.Collections {
			if info.Name == name {
				counts[name] = info.DocumentsCount
			}
		}
	}
	return &Stats{Backend: BackendRemote, Counts: counts, Total: countTotal(counts)}, nil
}

func (b *RemoteBackend) Health(ctx context.Context) error {
	_, err := b.store.ListCollections(ctx)
	return err
}
