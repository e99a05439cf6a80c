// Package chunking splits narrative text into overlapping windows for embedding.
package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/bull/narrative-knowledge/internal/storage"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Separators are tried in order: paragraph, line, sentence end, word.
var Separators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Chunk is a window of the source text. Start and End are byte offsets into
// the text passed to Chunk, so Text == text[Start:End].
type Chunk struct {
	Text     string
	Start    int
	End      int
	Metadata storage.Metadata
}

// Chunker performs recursive character splitting with overlap.
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) { c.size = size }
}

// WithChunkOverlap sets the minimum overlap between consecutive chunks.
func WithChunkOverlap(overlap int) Option {
	return func(c *Chunker) { c.overlap = overlap }
}

// New creates a Chunker. Invalid settings are corrected rather than rejected.
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		c.size = DefaultChunkSize
	}
	if c.overlap < 0 {
		c.overlap = 0
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured chunk overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// span is a half-open byte range with its length in runes.
type span struct {
	start, end int
	runes      int
}

// Chunk splits text and attaches positional metadata. Empty text yields nil.
func (c *Chunker) Chunk(text, contentType, contentID, title string) []Chunk {
	if text == "" {
		return nil
	}

	pieces := c.split(text, 0, Separators)
	windows := c.merge(pieces)

	chunks := make([]Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = Chunk{
			Text:  text[w.start:w.end],
			Start: w.start,
			End:   w.end,
			Metadata: storage.Metadata{
				ContentType: contentType,
				ContentID:   contentID,
				Title:       title,
				ChunkIndex:  i,
				ChunkCount:  len(windows),
			},
		}
	}
	return chunks
}

// split breaks text (located at offset in the original) into pieces no longer
// than the chunk size, preferring earlier separators. A piece without any
// remaining separator is returned whole.
func (c *Chunker) split(text string, offset int, seps []string) []span {
	n := utf8.RuneCountInString(text)
	if n <= c.size {
		return []span{{start: offset, end: offset + len(text), runes: n}}
	}

	sep, rest := "", seps
	for i, s := range seps {
		if strings.Contains(text, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}
	if sep == "" {
		return []span{{start: offset, end: offset + len(text), runes: n}}
	}

	var out []span
	pos := 0
	for pos < len(text) {
		idx := strings.Index(text[pos:], sep)
		end := len(text)
		if idx >= 0 {
			end = pos + idx + len(sep)
		}
		part := text[pos:end]
		if r := utf8.RuneCountInString(part); r <= c.size {
			out = append(out, span{start: offset + pos, end: offset + end, runes: r})
		} else {
			out = append(out, c.split(part, offset+pos, rest)...)
		}
		pos = end
	}
	return out
}

// merge packs consecutive pieces into windows of at most size runes. Each new
// window re-uses the shortest run of trailing pieces covering the overlap.
func (c *Chunker) merge(pieces []span) []span {
	var windows []span
	var cur []span
	total := 0

	emit := func() {
		windows = append(windows, span{start: cur[0].start, end: cur[len(cur)-1].end, runes: total})
	}

	for _, p := range pieces {
		if len(cur) > 0 && total+p.runes > c.size {
			emit()
			cur, total = c.carry(cur, p.runes)
		}
		cur = append(cur, p)
		total += p.runes
	}
	if len(cur) > 0 {
		emit()
	}
	return windows
}

// carry picks the trailing pieces of an emitted window that seed the next one.
func (c *Chunker) carry(window []span, next int) ([]span, int) {
	if c.overlap == 0 || len(window) < 2 {
		return nil, 0
	}

	// Shortest suffix reaching the overlap, never the whole window.
	from := len(window) - 1
	kept := window[from].runes
	for from > 1 && kept < c.overlap {
		from--
		kept += window[from].runes
	}

	for from < len(window) && kept+next > c.size {
		kept -= window[from].runes
		from++
	}

	carried := make([]span, len(window)-from)
	copy(carried, window[from:])
	return carried, kept
}
