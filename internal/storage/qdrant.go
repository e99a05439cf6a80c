package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultQdrantCollection is the single collection holding every content type.
const DefaultQdrantCollection = "narrative_chunks"

const (
	vectorName      = "content"
	upsertBatchSize = 100
)

// QdrantStore keeps chunks of all content types in one Qdrant collection and
// filters on the content_type payload field.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *slog.Logger
}

// NewQdrantStore connects to Qdrant and waits for it to become healthy.
// It fails fast with ErrBackendUnavailable if Qdrant stays unreachable.
func NewQdrantStore(ctx context.Context, host string, port int, collection string, dimension int, logger *slog.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if collection == "" {
		collection = DefaultQdrantCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: collection,
		dimension:  dimension,
		logger:     logger,
	}

	if err := s.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: qdrant at %s:%d: %v", ErrBackendUnavailable, host, port, err)
	}
	return s, nil
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(b, ctx)
}

func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return s.Health(ctx) }, newRetryBackoff(ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

func (s *QdrantStore) Collection() string { return s.collection }

// EnsureCollection creates the collection and its payload indexes if missing.
// An existing collection with a different vector size is ErrDimensionMismatch.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, name := range collections {
		if name == s.collection {
			return s.checkDimension(ctx)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := s.createPayloadIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}
	s.logger.Info("Created Qdrant collection", "collection", s.collection, "dimension", s.dimension)
	return nil
}

func (s *QdrantStore) checkDimension(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParamsMap().GetMap()[vectorName]
	if params != nil && params.GetSize() != uint64(s.dimension) {
		return fmt.Errorf("%w: collection %s has %d dimensions, embedder produces %d",
			ErrDimensionMismatch, s.collection, params.GetSize(), s.dimension)
	}
	return nil
}

func (s *QdrantStore) createPayloadIndexes(ctx context.Context) error {
	fields := []string{
		"content_type",
		"content_id",
		"generation",
	}

	for _, field := range fields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	return retryTransient(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// retryTransient retries operation with backoff while it fails with a
// transient gRPC status. Any other error is returned at once.
func retryTransient(ctx context.Context, operation func() error) error {
	return backoff.Retry(func() error {
		err := operation()
		if err != nil && !transientStatus(err) {
			return backoff.Permanent(err)
		}
		return err
	}, newRetryBackoff(ctx))
}

func transientStatus(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// chunkPayload builds the point payload for r. Extra metadata is stored
// under its own keys and the chunk fields win on a clash. Extra goes through
// JSON first so slices and numbers reach qdrant.NewValueMap as []any and
// float64.
func chunkPayload(r Record, generation string) (map[string]any, error) {
	payload := make(map[string]any, len(r.Extra)+7)
	if len(r.Extra) > 0 {
		raw, err := json.Marshal(r.Extra)
		if err != nil {
			return nil, fmt.Errorf("encode metadata of %s: %w", r.Metadata.ContentID, err)
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.Metadata.ContentID, err)
		}
	}
	payload["content_type"] = r.Metadata.ContentType
	payload["content_id"] = r.Metadata.ContentID
	payload["title"] = r.Metadata.Title
	payload["chunk_index"] = r.Metadata.ChunkIndex
	payload["chunk_count"] = r.Metadata.ChunkCount
	payload["content"] = r.Content
	payload["generation"] = generation
	return payload, nil
}

func (s *QdrantStore) deleteWhere(ctx context.Context, filter *qdrant.Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

func (s *QdrantStore) countWhere(ctx context.Context, filter *qdrant.Filter) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// upsertRecords writes records tagged with generation in batches of 100.
func (s *QdrantStore) upsertRecords(ctx context.Context, records []Record, generation string) error {
	for i, r := range records {
		if len(r.Vector) != s.dimension {
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(r.Vector), s.dimension)
		}
	}

	for i := 0; i < len(records); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(records))
		batch := records[i:end]
		points := make([]*qdrant.PointStruct, len(batch))

		for j, r := range batch {
			payload, err := chunkPayload(r, generation)
			if err != nil {
				return err
			}
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(uuid.NewString()),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(r.Vector...),
				}),
				Payload: qdrant.NewValueMap(payload),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// Add writes the chunks of contentID under a fresh generation, then deletes
// the content's older points. Readers see either the old or the new chunks
// plus, briefly, both.
func (s *QdrantStore) Add(ctx context.Context, contentID string, records []Record) error {
	generation := uuid.NewString()
	if err := s.upsertRecords(ctx, records, generation); err != nil {
		return err
	}

	err := s.deleteWhere(ctx, &qdrant.Filter{
		Must:    []*qdrant.Condition{qdrant.NewMatch("content_id", contentID)},
		MustNot: []*qdrant.Condition{qdrant.NewMatch("generation", generation)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete superseded chunks of %s: %w", contentID, err)
	}
	return nil
}

// Remove deletes every chunk of contentID and returns how many there were.
func (s *QdrantStore) Remove(ctx context.Context, contentID string) (int, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("content_id", contentID)},
	}
	n, err := s.countWhere(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks of %s: %w", contentID, err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.deleteWhere(ctx, filter); err != nil {
		return 0, fmt.Errorf("failed to delete chunks of %s: %w", contentID, err)
	}
	return n, nil
}

// Replace swaps the whole collection for records. The new generation is
// written completely before any old point is deleted, so a failure leaves the
// previous contents searchable.
func (s *QdrantStore) Replace(ctx context.Context, records []Record) error {
	generation := uuid.NewString()
	if err := s.upsertRecords(ctx, records, generation); err != nil {
		cleanupErr := s.deleteWhere(ctx, &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("generation", generation)},
		})
		if cleanupErr != nil {
			s.logger.Warn("Failed to clean up partial generation", "generation", generation, "error", cleanupErr)
		}
		return err
	}

	err := s.deleteWhere(ctx, &qdrant.Filter{
		MustNot: []*qdrant.Condition{qdrant.NewMatch("generation", generation)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete previous generation: %w", err)
	}
	return nil
}

// Search returns the k nearest chunks, optionally restricted to contentType.
func (s *QdrantStore) Search(ctx context.Context, query []float32, k int, contentType string) ([]Result, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), s.dimension)
	}
	if k <= 0 {
		return []Result{}, nil
	}

	var filter *qdrant.Filter
	if contentType != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("content_type", contentType)},
		}
	}

	using := vectorName
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Using:          &using,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		payload := p.Payload
		results = append(results, Result{
			Content: payload["content"].GetStringValue(),
			Metadata: Metadata{
				ContentType: payload["content_type"].GetStringValue(),
				ContentID:   payload["content_id"].GetStringValue(),
				Title:       payload["title"].GetStringValue(),
				ChunkIndex:  int(payload["chunk_index"].GetIntegerValue()),
				ChunkCount:  int(payload["chunk_count"].GetIntegerValue()),
			},
			Score: float64(p.Score),
		})
	}
	return results, nil
}

// CountByType returns the number of stored chunks per content type.
func (s *QdrantStore) CountByType(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, t := range ContentTypes {
		n, err := s.countWhere(ctx, &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("content_type", t)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to count %s chunks: %w", t, err)
		}
		if n > 0 {
			counts[t] = n
		}
	}
	return counts, nil
}
