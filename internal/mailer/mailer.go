// Package mailer is the Mailer: it composes a ranked digest
// into an HTML document — greeting, model-generated intro paragraph,
// per-item blocks — and hands it to an SMTP transport, or returns the
// rendered HTML directly in skip-email mode.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"google.golang.org/genai"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

// completer abstracts a single LLM text-completion call so tests can
// substitute a fake without a live API key.
type completer interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

type genaiCompleter struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func (c genaiCompleter) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser)}
	temp := float32(temperature)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{Temperature: &temp})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// SMTPConfig carries the transport settings read from EmailConfig.
type SMTPConfig struct {
	Server    string
	Port      int
	Username  string
	Password  string
	FromEmail string
	ToEmail   string
	Subject   string
}

// Config carries this component's tunables.
type Config struct {
	Temperature float64       // t_email, default 0.7
	SkipEmail   bool
	SMTP        SMTPConfig
	Timeout     time.Duration // t_llm, per-call deadline, default 60s
}

// Mailer composes and sends a ranked digest.
type Mailer struct {
	completer   completer
	temperature float64
	skipEmail   bool
	smtp        SMTPConfig
	tmpl        *template.Template
}

func New(client *genai.Client, modelName string, cfg Config) *Mailer {
	return &Mailer{
		completer:   genaiCompleter{client: client, model: modelName, timeout: cfg.Timeout},
		temperature: cfg.Temperature,
		skipEmail:   cfg.SkipEmail,
		smtp:        cfg.SMTP,
		tmpl:        mustParseTemplate(),
	}
}

// NewWithCompleter builds a Mailer against an already-narrowed completer,
// letting callers outside this package substitute a fake.
func NewWithCompleter(c completer, cfg Config) *Mailer {
	return &Mailer{
		completer:   c,
		temperature: cfg.Temperature,
		skipEmail:   cfg.SkipEmail,
		smtp:        cfg.SMTP,
		tmpl:        mustParseTemplate(),
	}
}

// Result reports what the Mailer did with the composed digest.
type Result struct {
	HTML      string
	Sent      bool
	SentAt    time.Time
	ItemCount int
	SkipEmail bool
}

// Send composes the digest HTML from ranked (already ordered top-N by the
// caller) and either mails it or, in skip-email mode, returns the HTML
// without attempting delivery.
func (m *Mailer) Send(ctx context.Context, profile model.UserProfile, ranked []model.RankedItem, windowHours int) (Result, error) {
	return m.sendVia(ctx, profile, ranked, windowHours, m.smtp)
}

// SendWithOverrides is Send with the recipient and/or subject replaced for
// this call only, leaving the Mailer's configured defaults untouched — the
// recipient?/subject? parameters of send_digest.
func (m *Mailer) SendWithOverrides(ctx context.Context, profile model.UserProfile, ranked []model.RankedItem, windowHours int, recipient, subject string) (Result, error) {
	smtp := m.smtp
	if recipient != "" {
		smtp.ToEmail = recipient
	}
	if subject != "" {
		smtp.Subject = subject
	}
	return m.sendVia(ctx, profile, ranked, windowHours, smtp)
}

func (m *Mailer) sendVia(ctx context.Context, profile model.UserProfile, ranked []model.RankedItem, windowHours int, smtp SMTPConfig) (Result, error) {
	intro, err := m.generateIntro(ctx, profile, ranked)
	if err != nil {
		intro = defaultIntro(len(ranked))
	}

	html, err := m.render(profile, ranked, intro, windowHours)
	if err != nil {
		return Result{}, fmt.Errorf("render digest: %w", err)
	}

	if m.skipEmail {
		return Result{HTML: html, ItemCount: len(ranked), SkipEmail: true}, nil
	}

	if err := deliver(smtp, html); err != nil {
		return Result{HTML: html, ItemCount: len(ranked)}, &apperror.TransportError{Err: err}
	}

	return Result{HTML: html, Sent: true, SentAt: time.Now().UTC(), ItemCount: len(ranked)}, nil
}

func (m *Mailer) generateIntro(ctx context.Context, profile model.UserProfile, ranked []model.RankedItem) (string, error) {
	if len(ranked) == 0 {
		return "", nil
	}
	prompt := buildIntroPrompt(profile, ranked)
	text, err := m.completer.Complete(ctx, prompt, m.temperature)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("empty intro reply")
	}
	return text, nil
}

func buildIntroPrompt(profile model.UserProfile, ranked []model.RankedItem) string {
	titles := ""
	for _, r := range ranked {
		titles += fmt.Sprintf("- %s\n", r.Summary.Title)
	}
	return fmt.Sprintf(`Write a warm two-sentence introduction for %s's personalized news
digest. Mention what kind of items are included without listing every
title verbatim. Reader background: %s.

Items in today's digest:
%s

Respond with plain text only, no markup, no greeting line (the greeting is
added separately).`, firstNonEmpty(profile.Name, "the reader"), profile.Background, titles)
}

func defaultIntro(count int) string {
	if count == 0 {
		return "Nothing new matched your profile this time."
	}
	return fmt.Sprintf("Here are the %d items from your window worth your time.", count)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type digestView struct {
	Name        string
	Intro       string
	WindowHours int
	Items       []itemView
	GeneratedAt string
}

type itemView struct {
	Title      string
	SourceName string
	Category   string
	Published  string
	Summary    string
	URL        string
	Score      float64
	Degraded   bool
}

func (m *Mailer) render(profile model.UserProfile, ranked []model.RankedItem, intro string, windowHours int) (string, error) {
	view := digestView{
		Name:        firstNonEmpty(profile.Name, "there"),
		Intro:       intro,
		WindowHours: windowHours,
		GeneratedAt: time.Now().UTC().Format("Jan 2, 2006"),
	}
	for _, r := range ranked {
		view.Items = append(view.Items, itemView{
			Title:      r.Summary.Title,
			SourceName: r.SourceName,
			Category:   string(r.Category),
			Published:  r.PublishedAt.Format("Jan 2, 2006 15:04"),
			Summary:    r.Summary.Text,
			URL:        r.Summary.URL,
			Score:      r.Score,
			Degraded:   r.Degraded,
		})
	}

	var buf bytes.Buffer
	if err := m.tmpl.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func deliver(cfg SMTPConfig, html string) error {
	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Server)
	to := []string{cfg.ToEmail}
	msg := []byte(fmt.Sprintf(`To: %s
From: %s
Subject: %s
MIME-Version: 1.0
Content-Type: text/html; charset=UTF-8

%s`, cfg.ToEmail, cfg.FromEmail, cfg.Subject, html))

	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
	return smtp.SendMail(addr, auth, cfg.FromEmail, to, msg)
}

const digestTemplateSrc = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>News Digest</title></head>
<body style="font-family: sans-serif; max-width: 640px; margin: 0 auto;">
  <h1>Hi {{.Name}},</h1>
  <p>{{.Intro}}</p>
  <p style="color: #666; font-size: 0.9em;">Window: last {{.WindowHours}}h &middot; {{.GeneratedAt}}</p>
  {{range .Items}}
  <div style="border-top: 1px solid #ddd; padding: 12px 0;">
    <h3><a href="{{.URL}}">{{.Title}}</a></h3>
    <p style="color: #666; font-size: 0.85em;">{{.SourceName}} &middot; {{.Category}} &middot; {{.Published}} &middot; score {{printf "%.1f" .Score}}{{if .Degraded}} (degraded){{end}}</p>
    <p>{{.Summary}}</p>
  </div>
  {{else}}
  <p>Nothing matched your profile this time.</p>
  {{end}}
</body>
</html>
`

func mustParseTemplate() *template.Template {
	tmpl, err := template.New("digest").Parse(digestTemplateSrc)
	if err != nil {
		panic(err)
	}
	return tmpl
}
