package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/semidx/semidx/internal/model"
	errs "github.com/semidx/semidx/internal/pkg/errors"
)

// DefaultTopK is the result count when the caller passes no limit.
const DefaultTopK = 25

// MemoryIndex ranks stored vectors against a query vector by brute-force
// cosine similarity. Generations are swapped copy-on-write: the lock is
// held only during the swap and the snapshot grab, never during scoring,
// so concurrent readers see either the old complete generation or the new
// one.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs []model.Document
	vecs [][]float32
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// Swap atomically replaces the served generation.
func (x *MemoryIndex) Swap(docs []model.Document, vecs [][]float32) error {
	if len(docs) != len(vecs) {
		return fmt.Errorf("%w: %d documents, %d vectors", errs.ErrValidation, len(docs), len(vecs))
	}
	dims := 0
	for i, v := range vecs {
		if v == nil {
			continue
		}
		if dims == 0 {
			dims = len(v)
		} else if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, index has %d", errs.ErrValidation, i, len(v), dims)
		}
	}
	newDocs := make([]model.Document, len(docs))
	copy(newDocs, docs)
	newVecs := make([][]float32, len(vecs))
	copy(newVecs, vecs)

	x.mu.Lock()
	x.docs = newDocs
	x.vecs = newVecs
	x.mu.Unlock()
	return nil
}

// Search returns the top limit documents by descending cosine similarity
// to query. Ties keep corpus order, making the ranking deterministic.
// Scores are rounded to 4 decimal places. Positions without a computed
// vector are skipped.
func (x *MemoryIndex) Search(_ context.Context, query []float32, limit int) ([]model.SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", errs.ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultTopK
	}
	x.mu.RLock()
	docs, vecs := x.docs, x.vecs
	x.mu.RUnlock()

	type scored struct {
		pos   int
		score float64
	}
	hits := make([]scored, 0, len(vecs))
	for i, v := range vecs {
		if v == nil {
			continue
		}
		if len(v) != len(query) {
			return nil, fmt.Errorf("%w: corpus vector %d has %d dimensions, query has %d",
				errs.ErrValidation, i, len(v), len(query))
		}
		hits = append(hits, scored{pos: i, score: cosine(query, v)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	if limit < len(hits) {
		hits = hits[:limit]
	}
	results := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, model.SearchResult{
			ID:    docs[h.pos].ID,
			Text:  docs[h.pos].Text,
			Score: round4(h.score),
		})
	}
	return results, nil
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
