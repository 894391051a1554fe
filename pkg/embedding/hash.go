package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// DefaultHashDimensions matches text-embedding-ada-002 so a store can switch
// between offline and OpenAI embeddings without re-creating its index.
const DefaultHashDimensions = 1536

// Hash is a deterministic embedder for offline play and tests. Equal texts
// map to equal unit vectors; it carries no semantic similarity.
type Hash struct {
	dimensions int
}

// NewHash creates a hash embedder producing vectors of dims dimensions.
// Non-positive dims selects DefaultHashDimensions.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &Hash{dimensions: dims}
}

// Dimensions returns the embedding size.
func (h *Hash) Dimensions() int {
	return h.dimensions
}

// Embed implements memory.Embedder.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.New("cannot embed empty text")
	}
	return HashVector(text, h.dimensions), nil
}

// HashVector seeds an LCG with the FNV-1a hash of text and returns a
// normalized vector of the given size.
func HashVector(text string, dims int) []float32 {
	f := fnv.New64a()
	_, _ = f.Write([]byte(text))
	seed := f.Sum64()

	vec := make([]float32, dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return Normalize(vec)
}

// Normalize returns vec scaled to unit length. A zero vector is returned as is.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
