//go:build integration
// +build integration

package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const qdrantTestDim = 8

// setupTestStore creates a store on a throwaway collection.
// Skips test if Qdrant is not running.
func setupTestStore(t *testing.T) *QdrantStore {
	ctx := context.Background()
	store, err := NewQdrantStore(ctx, "localhost", 6334, "test_"+uuid.NewString()[:8], qdrantTestDim, nil)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	require.NoError(t, store.EnsureCollection(ctx), "Failed to ensure collection")
	t.Cleanup(func() {
		_ = store.client.DeleteCollection(context.Background(), store.collection)
		store.Close()
	})
	return store
}

func unitVector(hot int) []float32 {
	v := make([]float32, qdrantTestDim)
	v[hot] = 1
	return v
}

func qdrantRecord(hot int, contentType, contentID, text string) Record {
	return Record{
		Vector:  unitVector(hot),
		Content: text,
		Metadata: Metadata{
			ContentType: contentType,
			ContentID:   contentID,
			Title:       contentID,
			ChunkCount:  1,
		},
	}
}

func TestQdrantStore_SearchRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "char-1", []Record{qdrantRecord(0, TypeCharacter, "char-1", "Aria the warrior")}))
	require.NoError(t, store.Add(ctx, "story-1", []Record{qdrantRecord(1, TypeStory, "story-1", "Aria's Journey begins")}))

	results, err := store.Search(ctx, unitVector(0), 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Aria the warrior", results[0].Content)
	assert.Equal(t, "char-1", results[0].Metadata.ContentID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)

	results, err = store.Search(ctx, unitVector(0), 5, TypeStory)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, TypeStory, results[0].Metadata.ContentType)
}

func TestQdrantStore_AddSupersedes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "a", []Record{
		qdrantRecord(0, TypeStory, "a", "old one"),
		qdrantRecord(1, TypeStory, "a", "old two"),
	}))
	require.NoError(t, store.Add(ctx, "a", []Record{qdrantRecord(2, TypeStory, "a", "new")}))

	counts, err := store.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{TypeStory: 1}, counts)
}

func TestQdrantStore_RemoveAndReplace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "a", []Record{qdrantRecord(0, TypeStory, "a", "a")}))

	n, err := store.Remove(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Remove(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, store.Add(ctx, "b", []Record{qdrantRecord(0, TypeStory, "b", "b")}))
	require.NoError(t, store.Replace(ctx, []Record{
		qdrantRecord(1, TypeCharacter, "c", "c"),
		qdrantRecord(2, TypeWorldElement, "d", "d"),
	}))

	counts, err := store.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{TypeCharacter: 1, TypeWorldElement: 1}, counts)
}

func TestQdrantStore_DimensionValidation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Add(ctx, "x", []Record{{Vector: make([]float32, 3), Content: "x"}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = store.Search(ctx, make([]float32, 3), 5, "")
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	other, err := NewQdrantStore(ctx, "localhost", 6334, store.collection, qdrantTestDim*2, nil)
	require.NoError(t, err)
	defer other.Close()
	assert.ErrorIs(t, other.EnsureCollection(ctx), ErrDimensionMismatch)
}
