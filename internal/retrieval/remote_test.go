package retrieval_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/narrative-knowledge/internal/collections"
	"github.com/bull/narrative-knowledge/internal/retrieval"
	"github.com/bull/narrative-knowledge/internal/storage"
)

type fakeDoc struct {
	id       string
	title    string
	content  string
	metadata map[string]any
}

// fakeCollections scores documents by the fraction of query words they contain.
type fakeCollections struct {
	token string

	mu     sync.Mutex
	nextID int
	docs   map[string][]fakeDoc
	fail   map[string]error
	limits map[string]int
}

func newFakeCollections() *fakeCollections {
	return &fakeCollections{
		token:  "secret",
		docs:   make(map[string][]fakeDoc),
		fail:   make(map[string]error),
		limits: make(map[string]int),
	}
}

func (f *fakeCollections) Available() bool { return f.token != "" }

func (f *fakeCollections) GetOrCreateCollection(ctx context.Context, name string) (string, error) {
	return "id-" + name, nil
}

func (f *fakeCollections) ListCollections(ctx context.Context) ([]collections.CollectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []collections.CollectionInfo
	for name, docs := range f.docs {
		infos = append(infos, collections.CollectionInfo{ID: "id-" + name, Name: name, DocumentsCount: len(docs)})
	}
	return infos, nil
}

func (f *fakeCollections) AddDocument(ctx context.Context, collection, content, title string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[collection]; err != nil {
		return err
	}
	f.nextID++
	f.docs[collection] = append(f.docs[collection], fakeDoc{
		id:       fmt.Sprintf("doc-%d", f.nextID),
		title:    title,
		content:  content,
		metadata: metadata,
	})
	return nil
}

func (f *fakeCollections) ListDocuments(ctx context.Context, collection string) ([]collections.DocumentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []collections.DocumentInfo
	for _, d := range f.docs[collection] {
		out = append(out, collections.DocumentInfo{ID: d.id, Title: d.title, Metadata: d.metadata})
	}
	return out, nil
}

func (f *fakeCollections) DeleteDocument(ctx context.Context, collection, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := f.docs[collection]
	for i, d := range docs {
		if d.id == docID {
			f.docs[collection] = append(docs[:i], docs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeCollections) Query(ctx context.Context, collection, query string, limit int) ([]storage.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits[collection] = limit
	if err := f.fail[collection]; err != nil {
		return nil, err
	}

	words := strings.Fields(strings.ToLower(query))
	var results []storage.Result
	for _, d := range f.docs[collection] {
		matched := 0
		for _, w := range words {
			if strings.Contains(strings.ToLower(d.content), w) {
				matched++
			}
		}
		meta := storage.Metadata{Title: d.title, Collection: collection}
		meta.ContentType, _ = d.metadata["content_type"].(string)
		meta.ContentID, _ = d.metadata["content_id"].(string)
		results = append(results, storage.Result{
			Content:  d.content,
			Metadata: meta,
			Score:    float64(matched) / float64(len(words)),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *fakeCollections) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs[collection])
}

func newRemote(t *testing.T, fake *fakeCollections) *retrieval.RemoteBackend {
	t.Helper()
	backend, err := retrieval.NewRemoteBackend(fake, nil)
	require.NoError(t, err)
	return backend
}

func TestRemoteBackend_RequiresCredentials(t *testing.T) {
	fake := newFakeCollections()
	fake.token = ""
	_, err := retrieval.NewRemoteBackend(fake, nil)
	assert.ErrorIs(t, err, storage.ErrNotConfigured)
}

func TestRemoteBackend_AddRoutesAndSupersedes(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCollections()
	backend := newRemote(t, fake)

	_, err := backend.Add(ctx, retrieval.Document{
		ContentType: "character", ContentID: "c1", Title: "Aria", Text: "Aria the warrior",
		Extra: map[string]any{"traits": "brave"},
	})
	require.NoError(t, err)
	_, err = backend.Add(ctx, retrieval.Document{ContentType: "character", ContentID: "c1", Title: "Aria", Text: "Aria the healer"})
	require.NoError(t, err)
	_, err = backend.Add(ctx, retrieval.Document{ContentType: "chapter", ContentID: "ch1", Title: "Chapter 1", Text: "Opening"})
	require.NoError(t, err)
	_, err = backend.Add(ctx, retrieval.Document{ContentType: "mystery", ContentID: "m1", Title: "Odd", Text: "Unknown type"})
	require.NoError(t, err)

	assert.Equal(t, 1, fake.count(storage.CollectionCharacters))
	assert.Equal(t, 1, fake.count(storage.CollectionScripts))
	assert.Equal(t, 1, fake.count(storage.CollectionStories))

	docs, err := fake.ListDocuments(ctx, storage.CollectionCharacters)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "c1", docs[0].ContentID())
	assert.Equal(t, "character", docs[0].Metadata["content_type"])
	assert.Nil(t, docs[0].Metadata["traits"])

	results, err := backend.Search(ctx, "healer", 5, "character")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Aria the healer", results[0].Content)
}

func TestRemoteBackend_Remove(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCollections()
	backend := newRemote(t, fake)

	_, err := backend.Add(ctx, retrieval.Document{ContentType: "story", ContentID: "s1", Title: "One", Text: "first"})
	require.NoError(t, err)
	_, err = backend.Add(ctx, retrieval.Document{ContentType: "story", ContentID: "s2", Title: "Two", Text: "second"})
	require.NoError(t, err)

	require.NoError(t, backend.Remove(ctx, "s1"))
	require.NoError(t, backend.Remove(ctx, "s1"))
	require.NoError(t, backend.Remove(ctx, "missing"))

	docs, err := fake.ListDocuments(ctx, storage.CollectionStories)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "s2", docs[0].ContentID())
}

func seedFanOut(t *testing.T, backend *retrieval.RemoteBackend) {
	t.Helper()
	ctx := context.Background()
	types := []string{"story", "character", "world_element", "script"}
	for _, ct := range types {
		for i := 0; i < 4; i++ {
			text := "river"
			if i%2 == 0 {
				text = "river stone"
			}
			_, err := backend.Add(ctx, retrieval.Document{
				ContentType: ct,
				ContentID:   fmt.Sprintf("%s-%d", ct, i),
				Title:       fmt.Sprintf("%s %d", ct, i),
				Text:        text,
			})
			require.NoError(t, err)
		}
	}
}

func TestRemoteBackend_FanOutSearch(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCollections()
	backend := newRemote(t, fake)
	seedFanOut(t, backend)

	results, err := backend.Search(ctx, "river stone", 5, "")
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.True(t, sort.SliceIsSorted(results, func(i, j int) bool { return results[i].Score > results[j].Score }))
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)

	for _, name := range storage.Collections {
		assert.Equal(t, 3, fake.limits[name], name)
	}
}

func TestRemoteBackend_FanOutPartialFailure(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCollections()
	backend := newRemote(t, fake)
	seedFanOut(t, backend)

	fake.mu.Lock()
	fake.fail[storage.CollectionCharacters] = fmt.Errorf("%w: timeout", storage.ErrBackendUnavailable)
	fake.mu.Unlock()

	results, err := backend.Search(ctx, "river", 8, "")
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	for _, r := range results {
		assert.NotEqual(t, storage.CollectionCharacters, r.Metadata.Collection)
	}

	fake.mu.Lock()
	for _, name := range storage.Collections {
		fake.fail[name] = fmt.Errorf("%w: timeout", storage.ErrBackendUnavailable)
	}
	fake.mu.Unlock()

	_, err = backend.Search(ctx, "river", 8, "")
	assert.ErrorIs(t, err, storage.ErrBackendUnavailable)
}

func TestRemoteBackend_SharedCollectionFilter(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCollections()
	backend := newRemote(t, fake)

	_, err := backend.Add(ctx, retrieval.Document{ContentType: "script", ContentID: "p1", Title: "Script", Text: "the harbour at night"})
	require.NoError(t, err)
	_, err = backend.Add(ctx, retrieval.Document{ContentType: "chapter", ContentID: "ch1", Title: "Chapter 1", Text: "the harbour at dawn"})
	require.NoError(t, err)

	results, err := backend.Search(ctx, "harbour", 5, "chapter")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ch1", results[0].Metadata.ContentID)
}

func TestRemoteBackend_SharedCollectionFillsK(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCollections()
	backend := newRemote(t, fake)

	for i, text := range []string{"harbour lights", "lights over the harbour", "quiet fields"} {
		_, err := backend.Add(ctx, retrieval.Document{ContentType: "script", ContentID: fmt.Sprintf("p%d", i), Title: "Script", Text: text})
		require.NoError(t, err)
	}
	for i, text := range []string{"harbour at dawn", "harbour at dusk"} {
		_, err := backend.Add(ctx, retrieval.Document{ContentType: "chapter", ContentID: fmt.Sprintf("ch%d", i), Title: "Chapter", Text: text})
		require.NoError(t, err)
	}

	// Both scripts outrank the chapters, so asking for only k would leave nothing.
	results, err := backend.Search(ctx, "harbour lights", 2, "chapter")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ElementsMatch(t, []string{"ch0", "ch1"}, []string{results[0].Metadata.ContentID, results[1].Metadata.ContentID})

	fake.mu.Lock()
	assert.Equal(t, 4, fake.limits[storage.CollectionScripts])
	fake.mu.Unlock()

	_, err = backend.Search(ctx, "harbour", 2, "character")
	require.NoError(t, err)
	fake.mu.Lock()
	assert.Equal(t, 2, fake.limits[storage.CollectionCharacters])
	fake.mu.Unlock()
}

func TestRemoteBackend_RebuildRemovesForeignDocuments(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCollections()
	backend := newRemote(t, fake)

	require.NoError(t, fake.AddDocument(ctx, storage.CollectionStories, "uploaded by hand", "Notes", nil))
	require.NoError(t, fake.AddDocument(ctx, storage.CollectionScripts, "stray upload", "Stray", map[string]any{"title": "Stray"}))

	stats, err := backend.Rebuild(ctx, []retrieval.Document{
		{ContentType: "story", ContentID: "s1", Title: "New", Text: "fresh story"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Removed)
	assert.Equal(t, 1, fake.count(storage.CollectionStories))
	assert.Zero(t, fake.count(storage.CollectionScripts))
}

func TestRemoteBackend_Rebuild(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCollections()
	backend := newRemote(t, fake)

	_, err := backend.Add(ctx, retrieval.Document{ContentType: "story", ContentID: "old", Title: "Old", Text: "outdated"})
	require.NoError(t, err)

	stats, err := backend.Rebuild(ctx, []retrieval.Document{
		{ContentType: "story", ContentID: "s1", Title: "New", Text: "fresh story"},
		{ContentType: "character", ContentID: "c1", Title: "Hero", Text: "fresh hero"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 1, stats.Removed)

	s, err := backend.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Counts[storage.CollectionStories])

	docs, err := fake.ListDocuments(ctx, storage.CollectionStories)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "s1", docs[0].ContentID())
}

func TestRemoteBackend_RebuildFailureKeepsOldDocuments(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCollections()
	backend := newRemote(t, fake)

	_, err := backend.Add(ctx, retrieval.Document{ContentType: "story", ContentID: "old", Title: "Old", Text: "kept"})
	require.NoError(t, err)

	fake.mu.Lock()
	fake.fail[storage.CollectionCharacters] = errors.New("bad request")
	fake.mu.Unlock()

	_, err = backend.Rebuild(ctx, []retrieval.Document{
		{ContentType: "character", ContentID: "c1", Title: "Hero", Text: "never stored"},
	})
	require.Error(t, err)

	docs, err := fake.ListDocuments(ctx, storage.CollectionStories)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "old", docs[0].ContentID())
}
