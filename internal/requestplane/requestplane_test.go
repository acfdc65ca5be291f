package requestplane

import (
	"context"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"

	"newsdigest/internal/adapters"
	"newsdigest/internal/fetch"
	"newsdigest/internal/mailer"
	"newsdigest/internal/model"
	"newsdigest/internal/orchestrator"
	"newsdigest/internal/ranker"
	"newsdigest/internal/store"
	"newsdigest/internal/summary"
	"newsdigest/internal/vectorindex"
)

type fixtureAdapter struct {
	name  string
	items []adapters.Item
}

func (f *fixtureAdapter) Name() string { return f.name }

func (f *fixtureAdapter) Fetch(ctx context.Context, since, now time.Time) ([]adapters.Item, error) {
	return f.items, nil
}

type stubCompleter struct{ reply string }

func (s *stubCompleter) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	return s.reply, nil
}

type fakeEmbedAPI struct{}

func (fakeEmbedAPI) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	embeddings := make([]*genai.ContentEmbedding, len(contents))
	for i, c := range contents {
		embeddings[i] = &genai.ContentEmbedding{Values: textVector(c.Parts[0].Text)}
	}
	return &genai.EmbedContentResponse{Embeddings: embeddings}, nil
}

func textVector(text string) []float32 {
	var sum int
	for _, r := range text {
		sum += int(r)
	}
	return []float32{float32(sum%97) + 1, float32(len(text)%31) + 1, 1}
}

// testRig wires a Plane end to end against in-memory stores, a single
// fixture web item, and fake LLM/embedding completers.
type testRig struct {
	plane *Plane
	st    *store.Store
}

func buildTestRig(t *testing.T, deliverable bool) testRig {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	vecStore, err := vectorindex.Open(":memory:", 3)
	if err != nil {
		t.Fatalf("vectorindex.Open: %v", err)
	}
	t.Cleanup(func() { vecStore.Close() })

	now := time.Now().UTC()
	webItems := []adapters.Item{
		{Web: &model.WebItem{GUID: "w1", SourceName: "Example Feed", Title: "Quantum Widgets", URL: "https://example.com/1",
			Description: "desc one", PublishedAt: now.Add(-time.Hour), Category: model.CategoryResearch}},
	}
	coordinator := fetch.New([]adapters.Adapter{&fixtureAdapter{name: "example", items: webItems}}, fetch.Config{Concurrency: 2}, nil)

	summarizer := summary.NewWithCompleter(&stubCompleter{reply: `{"title": "Quantum Widgets Digest", "summary": "A summary about quantum widgets."}`},
		summary.Config{Temperature: 0.7, RParse: 2, SummaryChars: 6000})

	embedder := vectorindex.NewEmbedderWithAPI(&fakeEmbedAPI{}, "text-embedding-004", 3)
	indexer := vectorindex.NewIndexer(embedder, vecStore, 0.95)

	rk := ranker.NewWithCompleter(&stubCompleter{reply: `{"score": 8, "reasoning": "relevant"}`}, embedder, indexer.Retriever(), ranker.Config{Temperature: 0.3, KCtx: 3})

	smtp := mailer.SMTPConfig{Server: "127.0.0.1", Port: 1, FromEmail: "digest@example.com", ToEmail: "reader@example.com", Subject: "Daily digest"}
	ml := mailer.NewWithCompleter(&stubCompleter{reply: "A friendly intro."}, mailer.Config{Temperature: 0.7, SkipEmail: !deliverable, SMTP: smtp})

	profile := model.UserProfile{Name: "Reader", Interests: []string{"hardware"}}
	orch := orchestrator.New(st, coordinator, summarizer, indexer, rk, ml, nil, profile, 2, nil)

	return testRig{plane: New(orch, st, embedder, indexer.Retriever()), st: st}
}

func TestScrapeRunsOnlyFetchAndProcess(t *testing.T) {
	rig := buildTestRig(t, false)

	rec, err := rig.plane.Scrape(context.Background(), 24)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if rec.State != model.RunDone {
		t.Fatalf("got state %v, want Done: %+v", rec.State, rec)
	}
	if rec.Counters.Scraped != 1 {
		t.Fatalf("got Scraped %d, want 1", rec.Counters.Scraped)
	}
	if rec.Counters.Summarized != 0 {
		t.Fatalf("got Summarized %d, want 0 (scrape-only must not digest)", rec.Counters.Summarized)
	}
}

func TestRunEndToEndThenReadBack(t *testing.T) {
	rig := buildTestRig(t, false)
	ctx := context.Background()

	rec, err := rig.plane.Run(ctx, 24, 5, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.State != model.RunDone {
		t.Fatalf("got state %v, want Done: %+v", rec.State, rec)
	}
	if rec.Counters.Indexed != 1 {
		t.Fatalf("got Indexed %d, want 1", rec.Counters.Indexed)
	}

	page, err := rig.plane.ListSummaries(ctx, 24, 1, 10)
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if page.Total != 1 || len(page.Summaries) != 1 {
		t.Fatalf("got page %+v, want 1 summary", page)
	}
	if !strings.Contains(page.Summaries[0].Title, "Quantum Widgets") {
		t.Fatalf("got title %q", page.Summaries[0].Title)
	}

	stats, err := rig.plane.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Counts.WebItems != 1 || stats.Counts.Summaries != 1 {
		t.Fatalf("got counts %+v", stats.Counts)
	}
	if stats.LastRun == nil || stats.LastRun.RunID != rec.RunID {
		t.Fatalf("got LastRun %+v, want run %d", stats.LastRun, rec.RunID)
	}
	if stats.Counts.ByCategory[string(model.CategoryResearch)] != 1 {
		t.Fatalf("got ByCategory %+v, want research=1", stats.Counts.ByCategory)
	}
	if stats.Counts.BySource["Example Feed"] != 1 {
		t.Fatalf("got BySource %+v, want \"Example Feed\"=1", stats.Counts.BySource)
	}

	items, err := rig.plane.GetItems(ctx, model.KindWeb, 10)
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	if len(items) != 1 || items[0].Web == nil || items[0].Web.GUID != "w1" {
		t.Fatalf("got items %+v", items)
	}

	hits, err := rig.plane.Search(ctx, "quantum widgets", 5, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || !strings.Contains(hits[0].Summary.Title, "Quantum Widgets") {
		t.Fatalf("got hits %+v", hits)
	}

	matched, err := rig.plane.Search(ctx, "quantum widgets", 5, model.CategoryResearch)
	if err != nil {
		t.Fatalf("Search with matching category: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("expected 1 hit for the item's own category, got %+v", matched)
	}

	mismatched, err := rig.plane.Search(ctx, "quantum widgets", 5, model.CategoryNews)
	if err != nil {
		t.Fatalf("Search with mismatched category: %v", err)
	}
	if len(mismatched) != 0 {
		t.Fatalf("expected no hits for mismatched category, got %+v", mismatched)
	}
}

func TestSendDigestSurfacesTransportFailure(t *testing.T) {
	rig := buildTestRig(t, true) // SkipEmail=false, unreachable SMTP target

	_, err := rig.plane.SendDigest(context.Background(), 24, 5, "", "")
	if err == nil {
		t.Fatal("expected an error from an unreachable SMTP target")
	}
}

func TestGetItemsRejectsUnknownKind(t *testing.T) {
	rig := buildTestRig(t, false)

	if _, err := rig.plane.GetItems(context.Background(), model.ArticleKind("podcast"), 10); err == nil {
		t.Fatal("expected an error for an unrecognized kind")
	}
}
