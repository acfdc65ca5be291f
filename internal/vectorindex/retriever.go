package vectorindex

import (
	"context"
	"math"
	"sort"

	"newsdigest/internal/model"
)

// Retriever answers nearest-neighbor queries against the Semantic Index by
// brute-force cosine similarity — a full scan is cheap at this scale and
// avoids a dedicated vector-db dependency.
type Retriever struct {
	store *Store
}

func NewRetriever(store *Store) *Retriever {
	return &Retriever{store: store}
}

// Query returns the k nearest non-duplicate neighbors to queryVec, ordered
// by score desc, then published_at desc, then record_id as a deterministic
// tie-break.
func (r *Retriever) Query(ctx context.Context, queryVec []float32, k int) ([]model.NeighborResult, error) {
	records, err := r.store.All(ctx, true)
	if err != nil {
		return nil, err
	}

	results := make([]model.NeighborResult, 0, len(records))
	for _, rec := range records {
		results = append(results, model.NeighborResult{
			RecordID:    rec.RecordID,
			Score:       cosineSimilarity(queryVec, rec.Embedding),
			Title:       rec.Title,
			URL:         rec.URL,
			Category:    rec.Category,
			SourceName:  rec.SourceName,
			PublishedAt: rec.PublishedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].PublishedAt.Equal(results[j].PublishedAt) {
			return results[i].PublishedAt.After(results[j].PublishedAt)
		}
		return results[i].RecordID < results[j].RecordID
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// QueryFiltered is Query narrowed to records of category, when category is
// non-empty — the filter search() exposes.
func (r *Retriever) QueryFiltered(ctx context.Context, queryVec []float32, k int, category model.Category) ([]model.NeighborResult, error) {
	if category == "" {
		return r.Query(ctx, queryVec, k)
	}
	all, err := r.Query(ctx, queryVec, 0)
	if err != nil {
		return nil, err
	}
	out := make([]model.NeighborResult, 0, k)
	for _, n := range all {
		if n.Category != category {
			continue
		}
		out = append(out, n)
		if k > 0 && len(out) == k {
			break
		}
	}
	return out, nil
}

// NearestDuplicate returns the best-matching existing record for vec if its
// similarity is at or above theta, the duplicate-suppression threshold.
// Called before a new record is written.
func (r *Retriever) NearestDuplicate(ctx context.Context, vec []float32, theta float64) (model.NeighborResult, bool, error) {
	neighbors, err := r.Query(ctx, vec, 1)
	if err != nil {
		return model.NeighborResult{}, false, err
	}
	if len(neighbors) == 0 || neighbors[0].Score < theta {
		return model.NeighborResult{}, false, nil
	}
	return neighbors[0], true, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
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
