package httpapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
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
	"newsdigest/internal/requestplane"
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

func buildTestServer(t *testing.T) *Server {
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
	ml := mailer.NewWithCompleter(&stubCompleter{reply: "A friendly intro."}, mailer.Config{Temperature: 0.7, SkipEmail: true, SMTP: smtp})

	profile := model.UserProfile{Name: "Reader", Interests: []string{"hardware"}}
	orch := orchestrator.New(st, coordinator, summarizer, indexer, rk, ml, nil, profile, 2, nil)
	plane := requestplane.New(orch, st, embedder, indexer.Retriever())

	return New(plane, nil)
}

func TestHandleRunAndListSummaries(t *testing.T) {
	s := buildTestServer(t)

	runReq := httptest.NewRequest("POST", "/runs/full", strings.NewReader(`{"window_hours": 24, "top_n": 5, "skip_email": true}`))
	runRec := httptest.NewRecorder()
	s.router.ServeHTTP(runRec, runReq)
	if runRec.Code != 200 {
		t.Fatalf("POST /runs/full: got %d, body %s", runRec.Code, runRec.Body.String())
	}

	listReq := httptest.NewRequest("GET", "/summaries?window_hours=24&page=1&page_size=10", nil)
	listRec := httptest.NewRecorder()
	s.router.ServeHTTP(listRec, listReq)
	if listRec.Code != 200 {
		t.Fatalf("GET /summaries: got %d, body %s", listRec.Code, listRec.Body.String())
	}

	var page model.SummaryPage
	if err := json.Unmarshal(listRec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if page.Total != 1 || len(page.Summaries) != 1 {
		t.Fatalf("got page %+v, want 1 summary", page)
	}
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	s := buildTestServer(t)

	req := httptest.NewRequest("GET", "/search", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("GET /search with no q: got %d, want 400", rec.Code)
	}
}

func TestHandleGetItemsRejectsUnknownKind(t *testing.T) {
	s := buildTestServer(t)

	req := httptest.NewRequest("GET", "/items?kind=podcast", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("GET /items with unknown kind: got %d, want 400", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	s := buildTestServer(t)

	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("GET /stats: got %d, body %s", rec.Code, rec.Body.String())
	}

	var stats model.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Counts.WebItems != 0 {
		t.Fatalf("got counts %+v before any run, want zero", stats.Counts)
	}
}
