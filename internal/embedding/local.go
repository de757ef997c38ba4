package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Local is a deterministic, dependency-free embedder: tokens (and adjacent
// token bigrams) are hashed into buckets and the resulting vector is
// L2-normalized. Retrieval quality is far below a learned model, but related
// texts still share buckets, which keeps semantic search functional when no
// embedding endpoint is configured and makes tests reproducible.
type Local struct {
	dims int
}

// NewLocal creates a local embedder. dims <= 0 selects DefaultDims.
func NewLocal(dims int) *Local {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &Local{dims: dims}
}

func (l *Local) Dims() int { return l.dims }

// Embed hashes the text into a normalized vector. Never fails.
func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dims)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return vec, nil
	}

	for i, tok := range tokens {
		l.addFeature(vec, tok)
		if i > 0 {
			l.addFeature(vec, tokens[i-1]+" "+tok)
		}
	}

	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (l *Local) addFeature(vec []float32, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(l.dims))
	// Use one hash bit as the sign so collisions cancel instead of piling up.
	if sum&(1<<63) != 0 {
		vec[bucket] -= 1
	} else {
		vec[bucket] += 1
	}
}
