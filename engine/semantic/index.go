// Package semantic provides exact nearest-neighbor retrieval over chunk
// embeddings: an in-process flat index with a binary on-disk format, and an
// optional Qdrant mirror for operational search across documents.
package semantic

import (
	"fmt"
	"math"
	"sort"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
)

// Metric selects the similarity function. Fixed at build time and recorded
// in the artifact.
type Metric uint8

const (
	// MetricCosine normalizes vectors at build time; scores are cosine
	// similarity in [-1, 1].
	MetricCosine Metric = iota + 1
	// MetricDot scores raw inner products; magnitude matters.
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dot"
	}
	return fmt.Sprintf("metric(%d)", uint8(m))
}

// Hit is one nearest-neighbor result.
type Hit struct {
	ChunkID uint32
	Score   float32
}

// Index is a flat exact-similarity index. Read-only after Build, so it is
// safe for concurrent Search.
type Index struct {
	metric Metric
	dims   int
	ids    []uint32
	flat   []float32 // len(ids) * dims, row-major
}

// Build indexes the given records. Every vector must share one
// dimensionality; cosine vectors are normalized in place of their copies.
func Build(records []domain.VectorRecord, metric Metric) (*Index, error) {
	if metric != MetricCosine && metric != MetricDot {
		return nil, fmt.Errorf("semantic: unknown metric %d", metric)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("semantic: build: %w", domain.ErrEmptyCorpus)
	}
	dims := len(records[0].Vector)
	if dims == 0 {
		return nil, fmt.Errorf("semantic: build: %w: zero-length vector", domain.ErrDimensionMismatch)
	}

	idx := &Index{
		metric: metric,
		dims:   dims,
		ids:    make([]uint32, len(records)),
		flat:   make([]float32, len(records)*dims),
	}
	for i, r := range records {
		if len(r.Vector) != dims {
			return nil, fmt.Errorf("semantic: build: %w: record %d has %d dims, want %d",
				domain.ErrDimensionMismatch, i, len(r.Vector), dims)
		}
		idx.ids[i] = r.ChunkID
		row := idx.flat[i*dims : (i+1)*dims]
		copy(row, r.Vector)
		if metric == MetricCosine {
			normalize(row)
		}
	}
	return idx, nil
}

// Metric reports the similarity function fixed at build time.
func (x *Index) Metric() Metric { return x.metric }

// Dims reports the vector dimensionality.
func (x *Index) Dims() int { return x.dims }

// Len reports the number of indexed vectors.
func (x *Index) Len() int { return len(x.ids) }

// Rows calls fn for each stored vector in insertion order. For a cosine
// index the rows are normalized. The slice is a view into index storage;
// callers must not retain or modify it.
func (x *Index) Rows(fn func(id uint32, vec []float32)) {
	for i, id := range x.ids {
		fn(id, x.flat[i*x.dims:(i+1)*x.dims])
	}
}

// Search returns the k most similar chunks, ordered by non-increasing score
// with ties broken by lower chunk id. k is clamped to the corpus size. A
// query of the wrong dimensionality finds nothing.
func (x *Index) Search(query []float32, k int) []Hit {
	if k <= 0 || len(query) != x.dims {
		return nil
	}
	if k > len(x.ids) {
		k = len(x.ids)
	}

	q := query
	if x.metric == MetricCosine {
		q = make([]float32, x.dims)
		copy(q, query)
		normalize(q)
	}

	hits := make([]Hit, len(x.ids))
	for i, id := range x.ids {
		hits[i] = Hit{ChunkID: id, Score: dot(x.flat[i*x.dims:(i+1)*x.dims], q)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	return hits[:k]
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// normalize scales v to unit length. Zero vectors stay zero and score zero
// against everything.
func normalize(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
