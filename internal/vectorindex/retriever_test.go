package vectorindex

import (
	"context"
	"testing"
	"time"

	"newsdigest/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"mismatched length", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cosineSimilarity(tc.a, tc.b)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("cosineSimilarity(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestRetrieverQueryOrdering(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []model.VectorRecord{
		{RecordID: "video:a", Embedding: []float32{1, 0, 0}, Title: "A", PublishedAt: now},
		{RecordID: "video:b", Embedding: []float32{1, 0, 0}, Title: "B", PublishedAt: now.Add(-time.Hour)},
		{RecordID: "web:c", Embedding: []float32{0, 1, 0}, Title: "C", PublishedAt: now},
	}
	for _, r := range records {
		if err := store.Put(ctx, r); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	r := NewRetriever(store)
	results, err := r.Query(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	// a and b tie on score (both identical to the query, score 1.0); a is newer so comes first.
	if results[0].RecordID != "video:a" || results[1].RecordID != "video:b" {
		t.Fatalf("unexpected order: %+v", results)
	}
	if results[2].RecordID != "web:c" {
		t.Fatalf("expected lowest-similarity record last, got %+v", results[2])
	}
}

func TestRetrieverQueryLimitAndExcludesDuplicates(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for _, id := range []string{"video:a", "video:b", "video:c"} {
		if err := store.Put(ctx, model.VectorRecord{RecordID: id, Embedding: []float32{1, 0, 0}, PublishedAt: time.Now()}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := store.MarkDuplicate(ctx, "video:b", "video:a"); err != nil {
		t.Fatalf("MarkDuplicate: %v", err)
	}

	r := NewRetriever(store)
	results, err := r.Query(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (limit)", len(results))
	}
	for _, res := range results {
		if res.RecordID == "video:b" {
			t.Fatalf("duplicate record video:b should be excluded from results")
		}
	}
}

func TestNearestDuplicateThreshold(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Put(ctx, model.VectorRecord{RecordID: "video:a", Embedding: []float32{1, 0, 0}, PublishedAt: time.Now()}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r := NewRetriever(store)

	if _, found, err := r.NearestDuplicate(ctx, []float32{0, 1, 0}, 0.95); err != nil {
		t.Fatalf("NearestDuplicate: %v", err)
	} else if found {
		t.Fatalf("orthogonal vector should not be flagged a duplicate")
	}

	neighbor, found, err := r.NearestDuplicate(ctx, []float32{1, 0, 0}, 0.95)
	if err != nil {
		t.Fatalf("NearestDuplicate: %v", err)
	}
	if !found || neighbor.RecordID != "video:a" {
		t.Fatalf("identical vector should be flagged a duplicate of video:a, got found=%v neighbor=%+v", found, neighbor)
	}
}
