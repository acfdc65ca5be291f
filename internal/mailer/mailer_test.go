package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"newsdigest/internal/model"
)

type fakeMailCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeMailCompleter) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	f.calls++
	return f.reply, f.err
}

func newTestMailer(c completer, cfg Config) *Mailer {
	return &Mailer{
		completer:   c,
		temperature: cfg.Temperature,
		skipEmail:   cfg.SkipEmail,
		smtp:        cfg.SMTP,
		tmpl:        mustParseTemplate(),
	}
}

func rankedFixture() []model.RankedItem {
	return []model.RankedItem{
		{
			Summary:     model.Summary{ArticleKind: model.KindWeb, ArticleID: "a", Title: "Item A", Text: "Summary A", URL: "https://a"},
			Score:       8.5,
			PublishedAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
			Category:    model.CategoryNews,
			SourceName:  "Example Feed",
		},
		{
			Summary:     model.Summary{ArticleKind: model.KindVideo, ArticleID: "b", Title: "Item B", Text: "Summary B", URL: "https://b"},
			Score:       6.0,
			PublishedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
			Category:    model.CategoryResearch,
			SourceName:  "Channel",
			Degraded:    true,
		},
	}
}

func TestSendSkipEmailReturnsHTML(t *testing.T) {
	c := &fakeMailCompleter{reply: "A short friendly intro."}
	m := newTestMailer(c, Config{Temperature: 0.7, SkipEmail: true})

	res, err := m.Send(context.Background(), model.UserProfile{Name: "Ada"}, rankedFixture(), 24)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.SkipEmail || res.Sent {
		t.Fatalf("expected skip-email result, got %+v", res)
	}
	if res.ItemCount != 2 {
		t.Fatalf("got ItemCount %d, want 2", res.ItemCount)
	}
	if !strings.Contains(res.HTML, "Item A") || !strings.Contains(res.HTML, "Item B") {
		t.Fatalf("rendered HTML missing item titles: %s", res.HTML)
	}
	if !strings.Contains(res.HTML, "A short friendly intro.") {
		t.Fatalf("rendered HTML missing generated intro: %s", res.HTML)
	}
	if !strings.Contains(res.HTML, "(degraded)") {
		t.Fatalf("rendered HTML should flag the degraded item: %s", res.HTML)
	}
}

func TestSendEmptyRankedUsesNoIntroCall(t *testing.T) {
	c := &fakeMailCompleter{reply: "should not be used"}
	m := newTestMailer(c, Config{SkipEmail: true})

	res, err := m.Send(context.Background(), model.UserProfile{}, nil, 24)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if c.calls != 0 {
		t.Fatalf("expected no completion call for an empty digest, got %d", c.calls)
	}
	if !strings.Contains(res.HTML, "Nothing matched your profile") {
		t.Fatalf("expected empty-digest copy, got: %s", res.HTML)
	}
}

func TestSendFallsBackToDefaultIntroOnModelError(t *testing.T) {
	c := &fakeMailCompleter{err: errors.New("model unavailable")}
	m := newTestMailer(c, Config{SkipEmail: true})

	res, err := m.Send(context.Background(), model.UserProfile{}, rankedFixture(), 24)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(res.HTML, "items from your window") {
		t.Fatalf("expected fallback intro text, got: %s", res.HTML)
	}
}

func TestSendDeliveryFailureReturnsTransportErrorButKeepsHTML(t *testing.T) {
	c := &fakeMailCompleter{reply: "intro"}
	m := newTestMailer(c, Config{SMTP: SMTPConfig{Server: "127.0.0.1", Port: 1, ToEmail: "to@example.com", FromEmail: "from@example.com"}})

	res, err := m.Send(context.Background(), model.UserProfile{}, rankedFixture(), 24)
	if err == nil {
		t.Fatal("expected a transport error from an unreachable SMTP server")
	}
	if res.HTML == "" {
		t.Fatal("expected rendered HTML to survive a delivery failure")
	}
}
