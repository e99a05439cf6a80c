package embedding

import (
	"context"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/bull/narrative-knowledge/internal/storage"
)

// HashingModel identifies vectors produced by HashingEmbedder.
const HashingModel = "feature-hashing-v1"

var tokenPattern = regexp.MustCompile(`\p{L}+|\p{N}+`)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "been", "it", "its", "this", "that",
		"from", "into", "s",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// HashingEmbedder is a deterministic bag-of-words embedder. Each token is
// hashed into one of dim buckets with a hash-derived sign, so no vocabulary
// has to be trained or stored. Vectors are L2-normalised.
type HashingEmbedder struct {
	dimension int
}

var _ Provider = (*HashingEmbedder)(nil)

// NewHashingEmbedder creates an embedder with the given dimension (DefaultDimension if <= 0).
func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashingEmbedder{dimension: dimension}
}

func (h *HashingEmbedder) Dimension() int { return h.dimension }

func (h *HashingEmbedder) Model() string { return HashingModel }

// Embed never fails; ctx is honoured between texts.
func (h *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *HashingEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dimension)
	for _, tok := range tokenize(text) {
		sum := xxhash.Sum64String(tok)
		idx := sum % uint64(h.dimension)
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	storage.Normalize(vec)
	return vec
}

func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}
