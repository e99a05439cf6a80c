package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestChunkPayload_CarriesExtra(t *testing.T) {
	r := Record{
		Content: "Tomas repairs bells",
		Metadata: Metadata{
			ContentType: TypeCharacter,
			ContentID:   "c1",
			Title:       "Tomas",
			ChunkIndex:  0,
			ChunkCount:  1,
		},
		Extra: map[string]any{
			"traits":     []string{"patient", "curious"},
			"act_number": 2,
			"title":      "must not override",
		},
	}

	payload, err := chunkPayload(r, "gen-1")
	require.NoError(t, err)

	assert.Equal(t, []any{"patient", "curious"}, payload["traits"])
	assert.Equal(t, float64(2), payload["act_number"])
	assert.Equal(t, "Tomas", payload["title"])
	assert.Equal(t, "c1", payload["content_id"])
	assert.Equal(t, "gen-1", payload["generation"])
	assert.Equal(t, "Tomas repairs bells", payload["content"])
}

func TestChunkPayload_NoExtra(t *testing.T) {
	payload, err := chunkPayload(Record{Metadata: Metadata{ContentID: "s1"}}, "g")
	require.NoError(t, err)
	assert.Len(t, payload, 7)
}

func TestRetryTransient(t *testing.T) {
	ctx := context.Background()

	t.Run("permanent status is not retried", func(t *testing.T) {
		calls := 0
		err := retryTransient(ctx, func() error {
			calls++
			return status.Error(codes.InvalidArgument, "wrong vector size")
		})
		require.Error(t, err)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("plain error is not retried", func(t *testing.T) {
		calls := 0
		err := retryTransient(ctx, func() error {
			calls++
			return errors.New("bad payload")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("unavailable is retried", func(t *testing.T) {
		calls := 0
		err := retryTransient(ctx, func() error {
			calls++
			if calls < 2 {
				return status.Error(codes.Unavailable, "connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}
