package projects

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bull/narrative-knowledge/internal/storage"
)

// DefaultChapterStatus is reported for chapters with no status set.
const DefaultChapterStatus = "Not Started"

const (
	unknownStory     = "Unknown Story"
	semanticChapterK = 10
)

// Searcher is the semantic search half of SearchChapters.
type Searcher interface {
	Search(ctx context.Context, query string, k int, contentType string) ([]storage.Result, error)
}

// SearchChapters combines semantic chapter hits with a case-insensitive text
// match on title, outline, notes and location. Semantic hits come first, in
// chapter order. When semantic search fails only the text matches are
// returned. searcher may be nil.
func (s *Store) SearchChapters(ctx context.Context, query string, searcher Searcher, logger *slog.Logger) ([]Chapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	chapters := data.SortedChapters()

	needle := strings.ToLower(query)
	var textMatches []Chapter
	for _, ch := range chapters {
		if matchesChapter(ch, needle) {
			textMatches = append(textMatches, ch)
		}
	}
	if searcher == nil {
		return textMatches, nil
	}

	results, err := searcher.Search(ctx, query, semanticChapterK, storage.TypeChapter)
	if err != nil {
		logger.Warn("Semantic chapter search failed, using text matches only", "error", err)
		return textMatches, nil
	}
	semantic := make(map[string]bool, len(results))
	for _, r := range results {
		if r.Metadata.ContentID != "" {
			semantic[r.Metadata.ContentID] = true
		}
	}

	combined := make([]Chapter, 0, len(chapters))
	added := make(map[string]bool)
	for _, ch := range chapters {
		if semantic[ch.ID] && !added[ch.ID] {
			combined = append(combined, ch)
			added[ch.ID] = true
		}
	}
	for _, ch := range textMatches {
		if !added[ch.ID] {
			combined = append(combined, ch)
			added[ch.ID] = true
		}
	}
	return combined, nil
}

func matchesChapter(ch Chapter, needle string) bool {
	for _, field := range []string{ch.Title, ch.Outline, ch.Notes, ch.Location} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// ChapterStats counts chapters by status, story title and act.
type ChapterStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByStory  map[string]int `json:"by_story"`
	ByAct    map[string]int `json:"by_act"`
}

func (s *Store) ChapterStatistics(ctx context.Context) (*ChapterStats, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	stats := &ChapterStats{
		Total:    len(data.Chapters),
		ByStatus: make(map[string]int),
		ByStory:  make(map[string]int),
		ByAct:    make(map[string]int),
	}
	for _, ch := range data.Chapters {
		status := ch.Status
		if status == "" {
			status = DefaultChapterStatus
		}
		stats.ByStatus[status]++

		story := unknownStory
		if st, ok := data.Stories[ch.StoryID]; ok {
			story = st.Title
		}
		stats.ByStory[story]++

		stats.ByAct[fmt.Sprintf("Act %d", ch.ActNumber)]++
	}
	return stats, nil
}
