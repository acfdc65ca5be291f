package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

type fakeCompleter struct {
	calls     int
	responses []string
	errs      []error
	gotPrompt []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	f.gotPrompt = append(f.gotPrompt, prompt)
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

func newTestSummarizer(c completer, cfg Config) *Summarizer {
	return &Summarizer{
		completer:     c,
		temperature:   cfg.Temperature,
		rParse:        cfg.RParse,
		longVideoMins: cfg.LongVideoMins,
		summaryChars:  cfg.SummaryChars,
	}
}

func TestSummarizeValidReply(t *testing.T) {
	c := &fakeCompleter{responses: []string{`{"title": "A Title", "summary": "A short summary."}`}}
	s := newTestSummarizer(c, Config{Temperature: 0.7, RParse: 2, SummaryChars: 6000})

	sum, _, err := s.Summarize(context.Background(), Input{
		ArticleKind: model.KindWeb, ArticleID: "a1", URL: "https://x", Title: "X",
		Description: "desc", PublishedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Title != "A Title" || sum.Text != "A short summary." {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Degraded {
		t.Fatalf("valid first-try reply should not be degraded")
	}
	if c.calls != 1 {
		t.Fatalf("got %d completion calls, want 1", c.calls)
	}
}

func TestSummarizeRetriesOnMalformedJSONThenSucceeds(t *testing.T) {
	c := &fakeCompleter{responses: []string{
		"not json at all",
		`{"title": "Fixed", "summary": "Now valid."}`,
	}}
	s := newTestSummarizer(c, Config{RParse: 2})

	sum, _, err := s.Summarize(context.Background(), Input{ArticleKind: model.KindWeb, ArticleID: "a1", Description: "d"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Text != "Now valid." {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if c.calls != 2 {
		t.Fatalf("got %d calls, want 2 (one retry)", c.calls)
	}
}

func TestSummarizeExhaustsRetriesAndFails(t *testing.T) {
	c := &fakeCompleter{responses: []string{"bad", "still bad", "nope"}}
	s := newTestSummarizer(c, Config{RParse: 2})

	_, _, err := s.Summarize(context.Background(), Input{ArticleKind: model.KindWeb, ArticleID: "a1"})
	if err == nil {
		t.Fatal("expected error after exhausting parse retries")
	}
	var me *apperror.ModelError
	if !errors.As(err, &me) {
		t.Fatalf("expected *apperror.ModelError, got %T: %v", err, err)
	}
	if me.Kind != apperror.ModelInvalid {
		t.Fatalf("got kind %v, want ModelInvalid", me.Kind)
	}
	if c.calls != 3 {
		t.Fatalf("got %d calls, want 3 (initial + 2 retries)", c.calls)
	}
}

func TestSummarizeLongVideoUsesMetadataOnlyPrompt(t *testing.T) {
	c := &fakeCompleter{responses: []string{`{"title": "T", "summary": "S."}`}}
	s := newTestSummarizer(c, Config{LongVideoMins: 45})

	_, _, err := s.Summarize(context.Background(), Input{
		ArticleKind: model.KindVideo, ArticleID: "v1", DurationSec: 60 * 50, Description: "desc",
		Transcript: "this is a very long transcript that should be skipped",
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(c.gotPrompt) != 1 {
		t.Fatalf("expected exactly one prompt")
	}
	if !contains(c.gotPrompt[0], "metadata") {
		t.Fatalf("expected metadata-only note in prompt, got: %s", c.gotPrompt[0])
	}
}

func TestSummarizeFallsBackOnTokenLimitError(t *testing.T) {
	c := &fakeCompleter{
		responses: []string{"", `{"title": "T", "summary": "S."}`},
		errs:      []error{errors.New("INVALID_ARGUMENT: token count exceeds model limit"), nil},
	}
	s := newTestSummarizer(c, Config{RParse: 2})

	sum, _, err := s.Summarize(context.Background(), Input{
		ArticleKind: model.KindVideo, ArticleID: "v1", Description: "desc", Transcript: "long",
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !sum.Degraded {
		t.Fatalf("fallback summary should be marked degraded")
	}
	if c.calls != 2 {
		t.Fatalf("got %d calls, want 2 (failed full attempt + metadata-only retry)", c.calls)
	}
}

func TestSummarizeRateLimitIsRetried(t *testing.T) {
	c := &fakeCompleter{
		responses: []string{"", "", `{"title": "T", "summary": "S."}`},
		errs:      []error{errors.New("429: RESOURCE_EXHAUSTED"), errors.New("429: RESOURCE_EXHAUSTED"), nil},
	}
	s := newTestSummarizer(c, Config{RParse: 2})

	sum, retries, err := s.Summarize(context.Background(), Input{ArticleKind: model.KindWeb, ArticleID: "w1", Description: "d"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Text != "S." {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if c.calls != 3 {
		t.Fatalf("got %d calls, want 3", c.calls)
	}
	if retries != 2 {
		t.Fatalf("got %d retries, want 2", retries)
	}
}

// TestSummarizeRateLimitHonorsRetryAfter asserts that a RateLimited retry
// actually waits, rather than just looping immediately: two
// provider-supplied RetryAfter=1s hints must cost at least 2s of wall time.
func TestSummarizeRateLimitHonorsRetryAfter(t *testing.T) {
	rateLimited := &apperror.ModelError{Kind: apperror.ModelRateLimited, RetryAfter: 1}
	c := &fakeCompleter{
		responses: []string{"", "", `{"title": "T", "summary": "S."}`},
		errs:      []error{rateLimited, rateLimited, nil},
	}
	s := newTestSummarizer(c, Config{RParse: 2})

	start := time.Now()
	sum, retries, err := s.Summarize(context.Background(), Input{ArticleKind: model.KindWeb, ArticleID: "w1", Description: "d"})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Text != "S." {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if retries != 2 {
		t.Fatalf("got %d retries, want 2", retries)
	}
	if elapsed < 2*time.Second {
		t.Fatalf("got elapsed %v, want at least 2s (two RetryAfter=1s waits honored)", elapsed)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
