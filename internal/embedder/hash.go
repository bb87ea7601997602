package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/54b3r/paperrag/internal/rag"
)

// defaultHashDimensions is the vector size of the hash backend.
const defaultHashDimensions = 512

// HashEmbedder is an offline embedder using signed feature hashing over
// lower-cased word unigrams and bigrams, L2-normalised. It needs no network
// and is deterministic, which makes it usable for air-gapped indexing and
// smoke tests. Quality is far below a trained embedding model.
type HashEmbedder struct {
	// dims is the output vector length.
	dims int
}

// NewHashEmbedder returns a HashEmbedder producing dims-dimensional vectors
// (default 512 when dims <= 0).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the output vector length.
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed hashes every text. A text without a single letter or digit has no
// features and is rejected with a ValidationError rather than stored as a
// zero vector that matches nothing.
func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		tokens := tokenize(t)
		if len(tokens) == 0 {
			return nil, &rag.ValidationError{Field: "text", Reason: fmt.Sprintf("input %d has no letters or digits to embed", i)}
		}
		out[i] = h.vector(tokens)
	}
	return out, nil
}

func (h *HashEmbedder) vector(tokens []string) []float32 {
	v := make([]float32, h.dims)
	for i, tok := range tokens {
		h.add(v, tok, 1)
		if i > 0 {
			h.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// add folds feature into v; one hash bit picks the sign so collisions
// cancel on average instead of piling up.
func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// tokenize lower-cases text and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
