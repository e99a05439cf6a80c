package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconstruct(text string, chunks []Chunk) string {
	var sb strings.Builder
	prevEnd := 0
	for _, ch := range chunks {
		sb.WriteString(text[prevEnd:ch.End])
		prevEnd = ch.End
	}
	return sb.String()
}

func TestChunk_EmptyText(t *testing.T) {
	c := New()
	assert.Nil(t, c.Chunk("", "story", "s1", "Empty"))
}

func TestChunk_ShortTextSingleChunk(t *testing.T) {
	c := New()
	chunks := c.Chunk("Aria the warrior", "character", "c1", "Aria")

	require.Len(t, chunks, 1)
	assert.Equal(t, "Aria the warrior", chunks[0].Text)
	assert.Equal(t, "character", chunks[0].Metadata.ContentType)
	assert.Equal(t, "c1", chunks[0].Metadata.ContentID)
	assert.Equal(t, "Aria", chunks[0].Metadata.Title)
	assert.Equal(t, 0, chunks[0].Metadata.ChunkIndex)
	assert.Equal(t, 1, chunks[0].Metadata.ChunkCount)
}

func TestChunk_QuickBrownFox(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog"
	c := New(WithChunkSize(20), WithChunkOverlap(5))

	chunks := c.Chunk(text, "story", "s1", "Fox")
	require.GreaterOrEqual(t, len(chunks), 2)

	for i, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 20, "chunk %d too long: %q", i, ch.Text)
		assert.Equal(t, text[ch.Start:ch.End], ch.Text)
		assert.Equal(t, i, ch.Metadata.ChunkIndex)
		assert.Equal(t, len(chunks), ch.Metadata.ChunkCount)
		if i > 0 {
			assert.LessOrEqual(t, ch.Start, chunks[i-1].End-5, "chunk %d does not overlap enough", i)
		}
	}
	assert.Equal(t, text, reconstruct(text, chunks))
}

func TestChunk_CoverageAcrossInputs(t *testing.T) {
	inputs := []string{
		strings.Repeat("Mira crossed the salt flats at dawn. ", 40),
		"First paragraph about the city of Vell.\n\nSecond paragraph about its harbour.\nA new line! Is it? Yes.",
		strings.Repeat("Long line without sentence breaks but with words ", 30) + "\n\n" + strings.Repeat("ß漢字 ", 200),
		"Tiny",
	}

	for _, size := range []int{20, 64, 500} {
		c := New(WithChunkSize(size), WithChunkOverlap(size/5))
		for _, text := range inputs {
			chunks := c.Chunk(text, "story", "s1", "T")
			require.NotEmpty(t, chunks)
			assert.Equal(t, text, reconstruct(text, chunks), "size %d", size)
			assert.Equal(t, 0, chunks[0].Start)
			assert.Equal(t, len(text), chunks[len(chunks)-1].End)
			for i, ch := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), size)
				if i > 0 {
					assert.LessOrEqual(t, ch.Start, chunks[i-1].End)
					assert.Greater(t, ch.End, chunks[i-1].End)
				}
			}
		}
	}
}

func TestChunk_PrefersParagraphBoundaries(t *testing.T) {
	first := "The lighthouse keeper kept a journal.\n\n"
	second := "Every entry ended with the same word."
	c := New(WithChunkSize(50), WithChunkOverlap(10))

	chunks := c.Chunk(first+second, "story", "s1", "Keeper")

	require.Len(t, chunks, 2)
	assert.Equal(t, first, chunks[0].Text)
	assert.Equal(t, second, chunks[1].Text)
}

func TestChunk_UnsplittableToken(t *testing.T) {
	token := strings.Repeat("x", 30)
	c := New(WithChunkSize(10), WithChunkOverlap(2))

	chunks := c.Chunk("ab "+token+" cd", "script", "p1", "Token")

	var found bool
	for _, ch := range chunks {
		if strings.Contains(ch.Text, token) {
			found = true
			assert.Equal(t, token+" ", ch.Text)
		} else {
			assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 10)
		}
	}
	assert.True(t, found)
	assert.Equal(t, "ab "+token+" cd", reconstruct("ab "+token+" cd", chunks))
}

func TestChunk_Deterministic(t *testing.T) {
	text := strings.Repeat("Sentences repeat here. And again! Why? ", 50)
	c := New(WithChunkSize(80), WithChunkOverlap(15))
	assert.Equal(t, c.Chunk(text, "story", "a", "A"), c.Chunk(text, "story", "a", "A"))
}

func TestNew_CorrectsSettings(t *testing.T) {
	tests := []struct {
		name        string
		opts        []Option
		wantSize    int
		wantOverlap int
	}{
		{"defaults", nil, 500, 50},
		{"zero size", []Option{WithChunkSize(0)}, 500, 50},
		{"negative overlap", []Option{WithChunkSize(100), WithChunkOverlap(-1)}, 100, 0},
		{"overlap too large", []Option{WithChunkSize(100), WithChunkOverlap(200)}, 100, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.opts...)
			assert.Equal(t, tt.wantSize, c.Size())
			assert.Equal(t, tt.wantOverlap, c.Overlap())
		})
	}
}
