// Package summary is the Summary Service: it turns a single
// video or web item into a short model-produced Summary, retrying on
// malformed replies and falling back to a metadata-only prompt for
// long-form video.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
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

// Input is everything the Summarizer needs about one item. ArticleKind and
// ArticleID identify the Summary; the rest feeds the prompt.
type Input struct {
	ArticleKind   model.ArticleKind
	ArticleID     string
	URL           string
	Title         string
	ChannelOrSite string
	Description   string
	Transcript    string // video only
	Content       string // web only, optional markdown body
	DurationSec   int    // video only
	PublishedAt   time.Time
}

// Summarizer produces Summaries via a language-model completion call.
type Summarizer struct {
	completer     completer
	temperature   float64
	rParse        int
	longVideoMins int
	summaryChars  int
}

// Config carries this component's tunables.
type Config struct {
	Temperature   float64       // t_digest, default 0.7
	RParse        int           // default 2
	LongVideoMins int           // default 45
	SummaryChars  int           // default 6000
	Timeout       time.Duration // t_llm, per-call deadline, default 60s
}

func New(client *genai.Client, modelName string, cfg Config) *Summarizer {
	return &Summarizer{
		completer:     genaiCompleter{client: client, model: modelName, timeout: cfg.Timeout},
		temperature:   cfg.Temperature,
		rParse:        cfg.RParse,
		longVideoMins: cfg.LongVideoMins,
		summaryChars:  cfg.SummaryChars,
	}
}

// NewWithCompleter builds a Summarizer against an already-narrowed
// completer, letting callers outside this package substitute a fake.
func NewWithCompleter(c completer, cfg Config) *Summarizer {
	return &Summarizer{
		completer:     c,
		temperature:   cfg.Temperature,
		rParse:        cfg.RParse,
		longVideoMins: cfg.LongVideoMins,
		summaryChars:  cfg.SummaryChars,
	}
}

type structuredReply struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Summarize produces a Summary for in. Idempotency (skip if a Summary
// already exists) is the caller's responsibility — this package has no
// view of the record store; that lookup happens in the orchestrator
// before this is called. The returned int is the number of retries spent
// getting there, for the caller's retries_by_stage ledger.
func (s *Summarizer) Summarize(ctx context.Context, in Input) (model.Summary, int, error) {
	useMetadataOnly := in.ArticleKind == model.KindVideo &&
		s.longVideoMins > 0 && in.DurationSec > 0 && in.DurationSec/60 > s.longVideoMins

	prompt := s.buildPrompt(in, useMetadataOnly)

	reply, degraded, retries, err := s.completeWithRetry(ctx, prompt)
	if err != nil {
		if !useMetadataOnly && isTokenLimitErr(err) {
			prompt = s.buildPrompt(in, true)
			var fallbackRetries int
			reply, degraded, fallbackRetries, err = s.completeWithRetry(ctx, prompt)
			retries += fallbackRetries
			degraded = true
		}
		if err != nil {
			return model.Summary{}, retries, err
		}
	}

	return model.Summary{
		ArticleKind: in.ArticleKind,
		ArticleID:   in.ArticleID,
		URL:         in.URL,
		Title:       reply.Title,
		Text:        reply.Summary,
		CreatedAt:   time.Now().UTC(),
		Degraded:    degraded || useMetadataOnly,
	}, retries, nil
}

// completeWithRetry calls the model, parsing its reply into the structured
// shape. A malformed reply is retried up to rParse times before surfacing
// ModelError{Invalid}. A retriable ModelError (RateLimited, Transient)
// waits between attempts, honoring the provider's RetryAfter hint when one
// is set, the same backoff discipline fetchWithRetry uses for adapters.
func (s *Summarizer) completeWithRetry(ctx context.Context, prompt string) (structuredReply, bool, int, error) {
	var lastErr error
	attempts := s.rParse + 1
	retries := 0
	for attempt := 0; attempt < attempts; attempt++ {
		text, err := s.completeOnce(ctx, prompt)
		if err != nil {
			if me, ok := err.(*apperror.ModelError); ok && me.Retriable() {
				lastErr = err
				if attempt == attempts-1 {
					break
				}
				retries++
				wait := backoffWait(me.RetryAfter, attempt)
				select {
				case <-ctx.Done():
					return structuredReply{}, false, retries, ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
			return structuredReply{}, false, retries, err
		}

		reply, perr := parseReply(text)
		if perr == nil {
			return reply, false, retries, nil
		}
		lastErr = &apperror.ModelError{Kind: apperror.ModelInvalid, Err: perr}
		if attempt < attempts-1 {
			retries++
		}
	}
	return structuredReply{}, false, retries, lastErr
}

// backoffWait honors a provider-supplied retry-after hint when present,
// falling back to full-jitter exponential backoff otherwise.
func backoffWait(retryAfterSeconds int, attempt int) time.Duration {
	if retryAfterSeconds > 0 {
		return time.Duration(retryAfterSeconds) * time.Second
	}
	return fullJitterBackoff(500*time.Millisecond, attempt)
}

func fullJitterBackoff(base time.Duration, attempt int) time.Duration {
	max := base * (1 << uint(attempt))
	if max <= 0 {
		return base
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func (s *Summarizer) completeOnce(ctx context.Context, prompt string) (string, error) {
	text, err := s.completer.Complete(ctx, prompt, s.temperature)
	if err != nil {
		return "", classifyCompletionErr(err)
	}
	if text == "" {
		return "", &apperror.ModelError{Kind: apperror.ModelTransient, Err: fmt.Errorf("empty model reply")}
	}
	return text, nil
}

func parseReply(text string) (structuredReply, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return structuredReply{}, fmt.Errorf("no JSON object found in reply")
	}

	var reply structuredReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return structuredReply{}, fmt.Errorf("unmarshal reply: %w", err)
	}
	if reply.Summary == "" {
		return structuredReply{}, fmt.Errorf("reply summary is empty")
	}
	if reply.Title == "" {
		reply.Title = "Untitled"
	}
	if len(reply.Title) > 200 {
		reply.Title = reply.Title[:200]
	}
	return reply, nil
}

func (s *Summarizer) buildPrompt(in Input, metadataOnly bool) string {
	budget := s.summaryChars
	if budget <= 0 {
		budget = 6000
	}

	var body string
	switch {
	case metadataOnly:
		body = truncate(in.Description, 1500)
	case in.ArticleKind == model.KindVideo:
		body = truncate(firstNonEmpty(in.Transcript, in.Description), budget)
	default:
		body = truncate(firstNonEmpty(in.Content, in.Description), budget)
	}

	note := ""
	if metadataOnly {
		note = "\n\nNote: this analysis is based solely on metadata; the full content could not be processed due to length."
	}

	return fmt.Sprintf(`You summarize content for a personalized news digest.

ITEM
Kind: %s
Source: %s
Title: %s
Published: %s

CONTENT
%s
%s

Respond with a single JSON object of the form:
{"title": "a concise title, max 200 characters", "summary": "2-4 sentences summarizing the item"}`,
		in.ArticleKind, in.ChannelOrSite, in.Title, in.PublishedAt.Format("2006-01-02 15:04"), body, note)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// classifyCompletionErr maps a raw completion error into the ModelError
// taxonomy by matching the substrings a completion client's errors carry.
// An error already typed as *apperror.ModelError (e.g. one that carried a
// provider-supplied RetryAfter through from the completer) passes through
// unchanged; otherwise RetryAfter is left unset and backoffWait falls back
// to exponential jitter.
func classifyCompletionErr(err error) error {
	if me, ok := err.(*apperror.ModelError); ok {
		return me
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return &apperror.ModelError{Kind: apperror.ModelRateLimited, Err: err}
	case isTokenLimitErr(err):
		return &apperror.ModelError{Kind: apperror.ModelPermanent, Err: err}
	default:
		return &apperror.ModelError{Kind: apperror.ModelTransient, Err: err}
	}
}

func isTokenLimitErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "token count") || strings.Contains(msg, "INVALID_ARGUMENT")
}
