package storage

import (
	"math"
	"sort"
)

// vectorIndex is a brute-force cosine-distance index over one table's vector
// column. Access is guarded by the engine mutex. At the record counts this
// server handles (thousands, not millions) a linear scan outperforms an ANN
// structure and is exact.
type vectorIndex struct {
	dims    int
	vectors map[string][]float32
	// norms caches the L2 norm of each vector.
	norms map[string]float64
}

func newVectorIndex(dims int) *vectorIndex {
	return &vectorIndex{
		dims:    dims,
		vectors: make(map[string][]float32),
		norms:   make(map[string]float64),
	}
}

func (ix *vectorIndex) put(id string, vec []float32) {
	if len(vec) == 0 {
		ix.remove(id)
		return
	}
	ix.vectors[id] = vec
	ix.norms[id] = l2norm(vec)
}

func (ix *vectorIndex) get(id string) []float32 {
	return ix.vectors[id]
}

func (ix *vectorIndex) remove(id string) {
	delete(ix.vectors, id)
	delete(ix.norms, id)
}

// hit is one nearest-neighbor result. Distance is cosine distance in [0, 2].
type hit struct {
	id       string
	distance float64
}

func (ix *vectorIndex) search(query []float32, limit int) []hit {
	if len(query) == 0 || len(ix.vectors) == 0 {
		return nil
	}
	qnorm := l2norm(query)
	if qnorm == 0 {
		return nil
	}

	hits := make([]hit, 0, len(ix.vectors))
	for id, vec := range ix.vectors {
		norm := ix.norms[id]
		if norm == 0 {
			continue
		}
		var dot float64
		n := len(vec)
		if len(query) < n {
			n = len(query)
		}
		for i := 0; i < n; i++ {
			dot += float64(vec[i]) * float64(query[i])
		}
		hits = append(hits, hit{id: id, distance: 1 - dot/(norm*qnorm)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance != hits[j].distance {
			return hits[i].distance < hits[j].distance
		}
		return hits[i].id < hits[j].id
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func l2norm(vec []float32) float64 {
	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}
