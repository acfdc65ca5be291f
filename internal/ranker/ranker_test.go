package ranker

import (
	"context"
	"errors"
	"testing"
	"time"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

type fakeRankCompleter struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeRankCompleter) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	i := f.calls
	f.calls++
	var resp string
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedText(ctx context.Context, title, summary string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeRetriever struct {
	neighbors []model.NeighborResult
}

func (f fakeRetriever) Query(ctx context.Context, vec []float32, k int) ([]model.NeighborResult, error) {
	if k < len(f.neighbors) {
		return f.neighbors[:k], nil
	}
	return f.neighbors, nil
}

func newTestRanker(c completer, cfg Config) *Ranker {
	return &Ranker{
		completer:   c,
		embedder:    fakeEmbedder{},
		retriever:   fakeRetriever{},
		temperature: cfg.Temperature,
		kCtx:        cfg.KCtx,
	}
}

func testCandidate(id string, score string) Candidate {
	return Candidate{
		Summary:     model.Summary{ArticleKind: model.KindWeb, ArticleID: id, Title: "T" + id, Text: score},
		PublishedAt: time.Now(),
	}
}

func TestRankOneValidReply(t *testing.T) {
	c := &fakeRankCompleter{responses: []string{
		`{"score": 8.5, "reasoning": "relevant", "sub_scores": {"relevance": 9, "depth": 7, "novelty": 8, "alignment": 9, "actionability": 6}}`,
	}}
	r := newTestRanker(c, Config{Temperature: 0.3, KCtx: 5})

	item, _, err := r.RankOne(context.Background(), model.UserProfile{}, testCandidate("a", "x"))
	if err != nil {
		t.Fatalf("RankOne: %v", err)
	}
	if item.Score != 8.5 || item.Degraded {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.SubScores.Relevance != 9 {
		t.Fatalf("sub-scores not parsed: %+v", item.SubScores)
	}
}

func TestRankOneRetriesOnceThenDegrades(t *testing.T) {
	c := &fakeRankCompleter{responses: []string{"garbage", "still garbage"}}
	r := newTestRanker(c, Config{KCtx: 5})

	item, retries, err := r.RankOne(context.Background(), model.UserProfile{}, testCandidate("a", "x"))
	if err != nil {
		t.Fatalf("RankOne: %v", err)
	}
	if !item.Degraded || item.Score != 5.0 || item.Reasoning != "" {
		t.Fatalf("expected degraded neutral score, got %+v", item)
	}
	if c.calls != 2 {
		t.Fatalf("got %d calls, want 2 (initial + one retry)", c.calls)
	}
	if retries != 1 {
		t.Fatalf("got %d retries, want 1", retries)
	}
}

func TestRankOneScoreClamped(t *testing.T) {
	c := &fakeRankCompleter{responses: []string{`{"score": 99, "reasoning": "too high"}`}}
	r := newTestRanker(c, Config{})

	item, _, err := r.RankOne(context.Background(), model.UserProfile{}, testCandidate("a", "x"))
	if err != nil {
		t.Fatalf("RankOne: %v", err)
	}
	if item.Score != 10 {
		t.Fatalf("expected score clamped to 10, got %v", item.Score)
	}
}

func TestRankOneRetriableCallErrorRetried(t *testing.T) {
	c := &fakeRankCompleter{
		responses: []string{"", `{"score": 6}`},
		errs:      []error{errors.New("429: RESOURCE_EXHAUSTED"), nil},
	}
	r := newTestRanker(c, Config{})

	item, retries, err := r.RankOne(context.Background(), model.UserProfile{}, testCandidate("a", "x"))
	if err != nil {
		t.Fatalf("RankOne: %v", err)
	}
	if item.Score != 6 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if retries != 1 {
		t.Fatalf("got %d retries, want 1", retries)
	}
}

// TestRankOneNonRetriableCallErrorDegrades asserts that a permanent model
// call error degrades this one candidate instead of failing the whole run —
// only a retriever/embedder failure is fatal here.
func TestRankOneNonRetriableCallErrorDegrades(t *testing.T) {
	permanent := &apperror.ModelError{Kind: apperror.ModelPermanent, Err: errors.New("blocked by safety filter")}
	c := &fakeRankCompleter{errs: []error{permanent}}
	r := newTestRanker(c, Config{})

	item, retries, err := r.RankOne(context.Background(), model.UserProfile{}, testCandidate("a", "x"))
	if err != nil {
		t.Fatalf("RankOne: %v", err)
	}
	if !item.Degraded || item.Score != 5.0 {
		t.Fatalf("expected degraded neutral score, got %+v", item)
	}
	if retries != 0 {
		t.Fatalf("got %d retries, want 0 (non-retriable, no wait)", retries)
	}
}

// TestRankOneRateLimitHonorsRetryAfter asserts a RateLimited retry actually
// waits rather than looping immediately: two provider-supplied
// RetryAfter=1s hints must cost at least 2s of wall time.
func TestRankOneRateLimitHonorsRetryAfter(t *testing.T) {
	rateLimited := &apperror.ModelError{Kind: apperror.ModelRateLimited, RetryAfter: 1}
	c := &fakeRankCompleter{
		responses: []string{"", "", `{"score": 6}`},
		errs:      []error{rateLimited, rateLimited, nil},
	}
	r := newTestRanker(c, Config{})

	start := time.Now()
	item, retries, err := r.RankOne(context.Background(), model.UserProfile{}, testCandidate("a", "x"))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("RankOne: %v", err)
	}
	if item.Score != 6 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if retries != 2 {
		t.Fatalf("got %d retries, want 2", retries)
	}
	if elapsed < 2*time.Second {
		t.Fatalf("got elapsed %v, want at least 2s (two RetryAfter=1s waits honored)", elapsed)
	}
}

func TestRankExcludesDuplicatesAndOrdersByScore(t *testing.T) {
	c := &fakeRankCompleter{}
	r := newTestRanker(c, Config{})
	// Override completer per-call by wrapping: score based on candidate title suffix.
	r.completer = scoreByTitleCompleter{}

	candidates := []Candidate{
		{Summary: model.Summary{ArticleKind: model.KindWeb, ArticleID: "low", Title: "low-3"}, PublishedAt: time.Now()},
		{Summary: model.Summary{ArticleKind: model.KindWeb, ArticleID: "high", Title: "high-9"}, PublishedAt: time.Now()},
		{Summary: model.Summary{ArticleKind: model.KindWeb, ArticleID: "dup", Title: "dup-7", DuplicateOf: "web:low"}, PublishedAt: time.Now()},
	}

	ranked, _, err := r.Rank(context.Background(), model.UserProfile{}, candidates, 4)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("got %d ranked items, want 2 (duplicate excluded)", len(ranked))
	}
	if ranked[0].Summary.ArticleID != "high" || ranked[1].Summary.ArticleID != "low" {
		t.Fatalf("unexpected order: %+v", ranked)
	}
}

// scoreByTitleCompleter returns a score parsed from the trailing "-N" in
// the prompt's candidate title, letting TestRankExcludesDuplicatesAndOrdersByScore
// assert a real ordering without coordinating call indices.
type scoreByTitleCompleter struct{}

func (scoreByTitleCompleter) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	for _, suffix := range []string{"-9", "-7", "-3"} {
		if containsStr(prompt, suffix) {
			return `{"score": ` + suffix[1:] + `}`, nil
		}
	}
	return `{"score": 0}`, nil
}

func TestRankOneTreatsMissingScoreFieldAsMalformed(t *testing.T) {
	c := &fakeRankCompleter{responses: []string{`{"reasoning": "no score here"}`, `{"reasoning": "still none"}`}}
	r := newTestRanker(c, Config{})

	item, _, err := r.RankOne(context.Background(), model.UserProfile{}, testCandidate("a", "x"))
	if err != nil {
		t.Fatalf("RankOne: %v", err)
	}
	if !item.Degraded || item.Score != 5.0 {
		t.Fatalf("expected degraded neutral score for a reply missing score, got %+v", item)
	}
	if c.calls != 2 {
		t.Fatalf("got %d calls, want 2 (initial + one retry)", c.calls)
	}
}

func containsStr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
