package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// defaultHashDimensions is the vector length of the hash embedder.
const defaultHashDimensions = 384

// tokenPattern matches runs of letters or digits.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// HashEmbedder is a deterministic, dependency-free embedder based on feature
// hashing of lower-cased word unigrams and bigrams. It needs no model server
// and is meant for offline use, demos and tests. Texts sharing vocabulary get
// a positive cosine similarity; it carries no semantic knowledge beyond that.
type HashEmbedder struct {
	// dimensions is the output vector length.
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given
// length. Non-positive dimensions select 384.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = defaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Dimensions returns the output vector length.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// Embed implements rag.Embedder. Each vector is L2-normalised; text without
// any word characters maps to the zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(t)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float64, e.dimensions)
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, e.dimensions)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

// add hashes feature into a bucket. One hash bit picks the sign so
// collisions tend to cancel rather than accumulate.
func (e *HashEmbedder) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
