package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bull/narrative-knowledge/internal/metrics"
	"github.com/bull/narrative-knowledge/internal/storage"
)

const (
	DefaultSearchK  = 5
	DefaultContextK = 3

	// ExcerptLength is the rune count kept by Excerpt before the ellipsis.
	ExcerptLength = 200

	NoContextMessage = "No relevant context found."
)

// ErrNoProjectSource is returned by RebuildIndexFromProjects when the
// service was built without a ProjectSource.
var ErrNoProjectSource = errors.New("no project source configured")

// Service is the entry point the rest of the application talks to. The
// backend is fixed for the lifetime of the Service.
//
// Adds, removes and rebuilds run one at a time under writeMu, so a rebuild
// never swaps out content added while it was embedding. Searches do not take
// the lock.
type Service struct {
	backend Backend
	source  ProjectSource
	metrics *metrics.Metrics
	logger  *slog.Logger

	writeMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

func WithProjectSource(source ProjectSource) Option {
	return func(s *Service) { s.source = source }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates a ready Service around backend.
func New(backend Backend, opts ...Option) *Service {
	s := &Service{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger.Info("Retrieval service ready", "backend", backend.Name())
	return s
}

// Backend returns the active backend.
func (s *Service) Backend() Backend { return s.backend }

func (s *Service) observe(operation string, start time.Time, err error) {
	s.metrics.ObserveOperation(operation, s.backend.Name(), err, time.Since(start))
}

// AddContent indexes text under contentID, superseding any earlier version.
// Blank text is ignored.
func (s *Service) AddContent(ctx context.Context, text, contentType, contentID, title string) error {
	return s.AddDocument(ctx, Document{
		ContentType: contentType,
		ContentID:   contentID,
		Title:       title,
		Text:        text,
	})
}

// AddDocument is AddContent for a Document carrying extra metadata.
func (s *Service) AddDocument(ctx context.Context, doc Document) (err error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}
	if doc.ContentID == "" {
		return errors.New("content id is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	defer func() { s.observe("add", start, err) }()

	n, err := s.backend.Add(ctx, doc)
	if err != nil {
		s.logger.Error("Failed to add content", "content_id", doc.ContentID, "error", err)
		return fmt.Errorf("add %s: %w", doc.ContentID, err)
	}
	s.logger.Info("Added content", "content_id", doc.ContentID, "type", doc.ContentType, "units", n)
	return nil
}

// RemoveContent deletes every chunk of contentID. Unknown ids are a no-op.
func (s *Service) RemoveContent(ctx context.Context, contentID string) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	defer func() { s.observe("remove", start, err) }()

	if err := s.backend.Remove(ctx, contentID); err != nil {
		s.logger.Error("Failed to remove content", "content_id", contentID, "error", err)
		return fmt.Errorf("remove %s: %w", contentID, err)
	}
	return nil
}

// Search returns up to k results ordered by descending score. k <= 0 selects
// DefaultSearchK; an empty contentType searches everything.
func (s *Service) Search(ctx context.Context, query string, k int, contentType string) (results []storage.Result, err error) {
	if k <= 0 {
		k = DefaultSearchK
	}
	if strings.TrimSpace(query) == "" {
		return []storage.Result{}, nil
	}

	start := time.Now()
	defer func() { s.observe("search", start, err) }()

	results, err = s.backend.Search(ctx, query, k, contentType)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if results == nil {
		results = []storage.Result{}
	}
	s.metrics.ObserveSearchResults(s.backend.Name(), len(results))
	return results, nil
}

// GetContextForContent finds material related to query, excluding chunks of
// contentID itself.
func (s *Service) GetContextForContent(ctx context.Context, contentID, query string, k int) ([]storage.Result, error) {
	if k <= 0 {
		k = DefaultContextK
	}
	// The content usually matches itself best, so ask for extra.
	results, err := s.Search(ctx, query, 2*k, "")
	if err != nil {
		return nil, err
	}
	filtered := make([]storage.Result, 0, k)
	for _, r := range results {
		if r.Metadata.ContentID == contentID {
			continue
		}
		filtered = append(filtered, r)
		if len(filtered) == k {
			break
		}
	}
	return filtered, nil
}

// RebuildIndexFromProjects re-derives the whole index from the project
// source. If loading the projects fails the index is left as it was.
func (s *Service) RebuildIndexFromProjects(ctx context.Context) (*RebuildStats, error) {
	if s.source == nil {
		return nil, ErrNoProjectSource
	}
	docs, err := s.source.Documents(ctx)
	if err != nil {
		s.observe("rebuild", time.Now(), err)
		return nil, fmt.Errorf("%w: %w", storage.ErrProjectStore, err)
	}
	return s.Rebuild(ctx, docs)
}

// Rebuild replaces the index with docs. Documents with blank text are
// skipped. On failure the previous index stays searchable.
func (s *Service) Rebuild(ctx context.Context, docs []Document) (stats *RebuildStats, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	defer func() { s.observe("rebuild", start, err) }()

	indexable := docs[:0:0]
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) != "" {
			indexable = append(indexable, doc)
		}
	}

	stats, err = s.backend.Rebuild(ctx, indexable)
	if err != nil {
		s.logger.Error("Rebuild failed, previous index kept", "error", err)
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	s.logger.Info("Rebuilt index",
		"backend", s.backend.Name(),
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"duration", stats.Duration,
	)
	return stats, nil
}

// GetEnhancedContext renders the top results for query as
// "[title]: excerpt" paragraphs.
func (s *Service) GetEnhancedContext(ctx context.Context, query, contentType string) (string, error) {
	results, err := s.Search(ctx, query, DefaultContextK, contentType)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return NoContextMessage, nil
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		title := r.Metadata.Title
		if title == "" {
			title = "Untitled"
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", title, Excerpt(r.Content, ExcerptLength)))
	}
	return strings.Join(parts, "\n\n"), nil
}

// Stats reports what the backend holds and refreshes the chunk gauges.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.backend.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetIndexedChunks(s.backend.Name(), stats.Counts)
	return stats, nil
}

func (s *Service) Health(ctx context.Context) error {
	return s.backend.Health(ctx)
}

// Excerpt shortens text to n runes followed by "..." when it is longer.
func Excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}
