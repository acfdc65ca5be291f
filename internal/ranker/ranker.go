// Package ranker is the Ranker: it scores each candidate in
// the current window against a UserProfile plus retrieved neighbor
// context, and orders the window by descending score.
package ranker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
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

// Embedder computes the query vector for a candidate's neighbor lookup.
type Embedder interface {
	EmbedText(ctx context.Context, title, summary string) ([]float32, error)
}

// Retriever answers nearest-neighbor queries against the semantic index.
type Retriever interface {
	Query(ctx context.Context, queryVec []float32, k int) ([]model.NeighborResult, error)
}

// Candidate is one item in the ranking window: its Summary plus the item
// fields the Summary type doesn't carry (published_at, category, source).
type Candidate struct {
	Summary     model.Summary
	PublishedAt time.Time
	Category    model.Category
	SourceName  string
}

// Ranker scores Candidates via a language-model completion call informed
// by RAG context from the semantic index.
type Ranker struct {
	completer   completer
	embedder    Embedder
	retriever   Retriever
	temperature float64
	kCtx        int
}

// Config carries this component's tunables.
type Config struct {
	Temperature float64       // t_rank, default 0.3
	KCtx        int           // default 5
	Timeout     time.Duration // t_llm, per-call deadline, default 60s
}

func New(client *genai.Client, modelName string, embedder Embedder, retriever Retriever, cfg Config) *Ranker {
	return &Ranker{
		completer:   genaiCompleter{client: client, model: modelName, timeout: cfg.Timeout},
		embedder:    embedder,
		retriever:   retriever,
		temperature: cfg.Temperature,
		kCtx:        cfg.KCtx,
	}
}

// NewWithCompleter builds a Ranker against an already-narrowed completer,
// letting callers outside this package substitute a fake.
func NewWithCompleter(c completer, embedder Embedder, retriever Retriever, cfg Config) *Ranker {
	return &Ranker{
		completer:   c,
		embedder:    embedder,
		retriever:   retriever,
		temperature: cfg.Temperature,
		kCtx:        cfg.KCtx,
	}
}

// Rank scores every candidate — duplicate-marked Summaries are excluded
// from ranking — and returns them ordered by score desc, published_at
// desc, record_id asc, plus the total retries spent across every
// candidate, for the caller's retries_by_stage ledger.
// Up to concurrency candidates are scored at once; callers share this
// budget with the Summary Service's G_llm pool by sizing concurrency
// accordingly.
func (r *Ranker) Rank(ctx context.Context, profile model.UserProfile, candidates []Candidate, concurrency int) ([]model.RankedItem, int, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Summary.DuplicateOf == "" {
			eligible = append(eligible, c)
		}
	}

	results := make([]model.RankedItem, len(eligible))
	errs := make([]error, len(eligible))
	retries := make([]int, len(eligible))

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, c := range eligible {
		wg.Add(1)
		go func(i int, c Candidate) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()
			results[i], retries[i], errs[i] = r.RankOne(ctx, profile, c)
		}(i, c)
	}
	wg.Wait()

	totalRetries := 0
	for _, n := range retries {
		totalRetries += n
	}

	for _, err := range errs {
		if err != nil {
			return nil, totalRetries, err
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].PublishedAt.Equal(results[j].PublishedAt) {
			return results[i].PublishedAt.After(results[j].PublishedAt)
		}
		return results[i].Summary.RecordID() < results[j].Summary.RecordID()
	})
	return results, totalRetries, nil
}

type structuredScore struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
	SubScores struct {
		Relevance     float64 `json:"relevance"`
		Depth         float64 `json:"depth"`
		Novelty       float64 `json:"novelty"`
		Alignment     float64 `json:"alignment"`
		Actionability float64 `json:"actionability"`
	} `json:"sub_scores"`
}

// RankOne scores a single candidate. On a malformed reply it retries once;
// on the second failure it assigns a neutral score of 5.0 with empty
// reasoning and Degraded=true. A retriable call error (rate limit,
// transient) waits between attempts, honoring the provider's RetryAfter
// hint when one is set; a non-retriable or retry-exhausted call error
// degrades the same way a malformed reply does, rather than returning an
// error — one candidate's model failure never fails the run. Only a
// retriever/embedder failure while gathering neighbor context is returned
// as a fatal error. The returned int is the number of retries spent, for
// the caller's retries_by_stage ledger.
func (r *Ranker) RankOne(ctx context.Context, profile model.UserProfile, c Candidate) (model.RankedItem, int, error) {
	neighbors, err := r.neighbors(ctx, c)
	if err != nil {
		return model.RankedItem{}, 0, err
	}

	prompt := buildScoringPrompt(profile, c, neighbors)

	const maxParseRetries = 1 // retry once on malformed reply, then degrade
	const maxCallRetries = 3  // retriable transport/model errors (rate limit, transient)

	parseAttempts, callAttempts, retries := 0, 0, 0
	for {
		text, err := r.completer.Complete(ctx, prompt, r.temperature)
		if err != nil {
			me := classifyErr(err)
			callAttempts++
			if me.Retriable() && callAttempts <= maxCallRetries {
				retries++
				wait := backoffWait(me.RetryAfter, callAttempts-1)
				select {
				case <-ctx.Done():
					return model.RankedItem{}, retries, ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
			// A non-retriable or retry-exhausted model call error degrades
			// this one candidate rather than failing the whole run — only a
			// retriever/embedder failure in neighbors() above is fatal here.
			return model.RankedItem{
				Summary:     c.Summary,
				Score:       5.0,
				Reasoning:   "",
				PublishedAt: c.PublishedAt,
				Category:    c.Category,
				SourceName:  c.SourceName,
				Degraded:    true,
			}, retries, nil
		}

		score, perr := parseScore(text)
		if perr == nil {
			return model.RankedItem{
				Summary:     c.Summary,
				Score:       clamp(score.Score, 0, 10),
				SubScores:   score.SubScores2(),
				Reasoning:   score.Reasoning,
				PublishedAt: c.PublishedAt,
				Category:    c.Category,
				SourceName:  c.SourceName,
			}, retries, nil
		}

		parseAttempts++
		if parseAttempts > maxParseRetries {
			return model.RankedItem{
				Summary:     c.Summary,
				Score:       5.0,
				Reasoning:   "",
				PublishedAt: c.PublishedAt,
				Category:    c.Category,
				SourceName:  c.SourceName,
				Degraded:    true,
			}, retries, nil
		}
		retries++
	}
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

func (s structuredScore) SubScores2() model.SubScores {
	return model.SubScores{
		Relevance:     s.SubScores.Relevance,
		Depth:         s.SubScores.Depth,
		Novelty:       s.SubScores.Novelty,
		Alignment:     s.SubScores.Alignment,
		Actionability: s.SubScores.Actionability,
	}
}

func (r *Ranker) neighbors(ctx context.Context, c Candidate) ([]model.NeighborResult, error) {
	if r.embedder == nil || r.retriever == nil || r.kCtx <= 0 {
		return nil, nil
	}
	vec, err := r.embedder.EmbedText(ctx, c.Summary.Title, c.Summary.Text)
	if err != nil {
		return nil, err
	}
	neighbors, err := r.retriever.Query(ctx, vec, r.kCtx+1)
	if err != nil {
		return nil, err
	}

	recordID := c.Summary.RecordID()
	out := make([]model.NeighborResult, 0, len(neighbors))
	for _, n := range neighbors {
		if n.RecordID == recordID {
			continue
		}
		out = append(out, n)
		if len(out) == r.kCtx {
			break
		}
	}
	return out, nil
}

func buildScoringPrompt(profile model.UserProfile, c Candidate, neighbors []model.NeighborResult) string {
	var ctxLines strings.Builder
	for _, n := range neighbors {
		fmt.Fprintf(&ctxLines, "- %s (%s, %s)\n", n.Title, n.SourceName, n.PublishedAt.Format("2006-01-02"))
	}
	if ctxLines.Len() == 0 {
		ctxLines.WriteString("(no related historical items)\n")
	}

	return fmt.Sprintf(`You score one candidate item for inclusion in a personalized news digest.

READER PROFILE
Name: %s
Background: %s
Interests: %s
Expertise level: %s
Avoid: %s

CANDIDATE
Title: %s
Source: %s
Published: %s
Summary: %s

HISTORICAL CONTEXT (related items already seen)
%s

Score the candidate from 0 to 10 on how worth the reader's time it is, given
their profile and what they've already seen. Respond with a single JSON
object of the form:
{"score": number, "reasoning": "one or two sentences", "sub_scores": {"relevance": number, "depth": number, "novelty": number, "alignment": number, "actionability": number}}`,
		profile.Name, profile.Background, strings.Join(profile.Interests, ", "), profile.ExpertiseLevel, strings.Join(profile.Avoidances, ", "),
		c.Summary.Title, c.SourceName, c.PublishedAt.Format("2006-01-02 15:04"), c.Summary.Text,
		ctxLines.String())
}

func parseScore(text string) (structuredScore, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return structuredScore{}, fmt.Errorf("no JSON object found in reply")
	}
	raw := text[start : end+1]

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return structuredScore{}, fmt.Errorf("unmarshal score: %w", err)
	}
	if _, ok := probe["score"]; !ok {
		return structuredScore{}, fmt.Errorf("reply missing score field")
	}

	var score structuredScore
	if err := json.Unmarshal([]byte(raw), &score); err != nil {
		return structuredScore{}, fmt.Errorf("unmarshal score: %w", err)
	}
	return score, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// classifyErr maps a raw completion error into the ModelError taxonomy.
// An error already typed as *apperror.ModelError (e.g. one that carried a
// provider-supplied RetryAfter through from the completer) passes through
// unchanged; otherwise RetryAfter is left unset and backoffWait falls back
// to exponential jitter.
func classifyErr(err error) *apperror.ModelError {
	if me, ok := err.(*apperror.ModelError); ok {
		return me
	}
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return &apperror.ModelError{Kind: apperror.ModelRateLimited, Err: err}
	}
	return &apperror.ModelError{Kind: apperror.ModelTransient, Err: err}
}
