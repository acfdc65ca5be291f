// Package requestplane is the Request Plane: it exposes
// the pipeline's named operations as synchronous, transport-agnostic calls,
// driving the Orchestrator for long-running work and reading the Record
// Store / Semantic Retriever directly for queries that don't need a full
// pipeline run.
package requestplane

import (
	"context"
	"fmt"
	"time"

	"newsdigest/internal/adapters"
	"newsdigest/internal/model"
	"newsdigest/internal/orchestrator"
	"newsdigest/internal/store"
	"newsdigest/internal/vectorindex"
)

// Plane composes the components needed to answer every operation in
// without exposing their internals to a transport layer.
type Plane struct {
	orch      *orchestrator.Orchestrator
	store     *store.Store
	embedder  *vectorindex.Embedder
	retriever *vectorindex.Retriever
}

func New(orch *orchestrator.Orchestrator, st *store.Store, embedder *vectorindex.Embedder, retriever *vectorindex.Retriever) *Plane {
	return &Plane{orch: orch, store: st, embedder: embedder, retriever: retriever}
}

// Scrape runs only the Scrape and Process stages.
func (p *Plane) Scrape(ctx context.Context, windowHours int) (model.RunRecord, error) {
	return p.orch.ScrapeOnly(ctx, windowHours)
}

// Run drives the full pipeline end to end.
func (p *Plane) Run(ctx context.Context, windowHours, topN int, skipEmail bool) (model.RunRecord, error) {
	outcome, err := p.orch.Run(ctx, orchestrator.RunOptions{WindowHours: windowHours, TopN: topN, SkipEmail: skipEmail})
	return outcome.Record, err
}

// SendResult is send_digest's return shape.
type SendResult struct {
	SentAt time.Time
	Count  int
}

// SendDigest drives the full pipeline with delivery forced on, optionally
// overriding the recipient and/or subject for this send only.
func (p *Plane) SendDigest(ctx context.Context, windowHours, topN int, recipient, subject string) (SendResult, error) {
	outcome, err := p.orch.Run(ctx, orchestrator.RunOptions{
		WindowHours: windowHours, TopN: topN, SkipEmail: false,
		Recipient: recipient, Subject: subject,
	})
	if err != nil {
		return SendResult{}, err
	}
	if !outcome.Mail.Sent {
		return SendResult{}, fmt.Errorf("send_digest: run completed without sending: %s", outcome.Record.ErrorSummary)
	}
	return SendResult{SentAt: outcome.Mail.SentAt, Count: outcome.Mail.ItemCount}, nil
}

// Search embeds query and returns the k nearest Summaries, optionally
// narrowed to category.
func (p *Plane) Search(ctx context.Context, query string, k int, category model.Category) ([]model.SearchHit, error) {
	vec, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	neighbors, err := p.retriever.QueryFiltered(ctx, vec, k, category)
	if err != nil {
		return nil, err
	}

	hits := make([]model.SearchHit, 0, len(neighbors))
	for _, n := range neighbors {
		kind, id, ok := splitRecordID(n.RecordID)
		if !ok {
			continue
		}
		sum, err := p.store.SummaryByRecordID(ctx, kind, id)
		if err != nil {
			continue // index and store can disagree briefly around a crash; skip rather than fail the whole search
		}
		hits = append(hits, model.SearchHit{Summary: sum, Score: n.Score})
	}
	return hits, nil
}

// ListSummaries returns one page of Summaries in the trailing windowHours.
func (p *Plane) ListSummaries(ctx context.Context, windowHours, page, pageSize int) (model.SummaryPage, error) {
	now := time.Now().UTC()
	since := now.Add(-time.Duration(windowHours) * time.Hour)
	return p.store.SummariesPage(ctx, since, now, page, pageSize)
}

// Stats reports row counts, the last run, and per-stage queue depths.
// Queue depths are always zero: every stage here runs to completion inside
// a single synchronous Run call rather than against a persistent external
// queue, so there is nothing in flight to observe between calls.
func (p *Plane) Stats(ctx context.Context) (model.Stats, error) {
	counts, err := p.store.Counts(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	lastRun, err := p.store.LastRun(ctx)
	if err != nil && err != store.ErrNotFound {
		return model.Stats{}, err
	}

	return model.Stats{
		Counts:  counts,
		LastRun: lastRun,
		QueueDepths: map[string]int{
			"scrape": 0, "process": 0, "digest": 0, "index": 0, "rank": 0, "email": 0,
		},
	}, nil
}

// GetItems returns the most recent items of kind, newest first.
func (p *Plane) GetItems(ctx context.Context, kind model.ArticleKind, limit int) ([]adapters.Item, error) {
	switch kind {
	case model.KindVideo:
		videos, err := p.store.RecentVideoItems(ctx, limit)
		if err != nil {
			return nil, err
		}
		out := make([]adapters.Item, len(videos))
		for i, v := range videos {
			out[i] = adapters.Item{Video: v}
		}
		return out, nil
	case model.KindWeb:
		webs, err := p.store.RecentWebItems(ctx, limit)
		if err != nil {
			return nil, err
		}
		out := make([]adapters.Item, len(webs))
		for i, w := range webs {
			out[i] = adapters.Item{Web: w}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("get_items: unknown kind %q", kind)
	}
}

func splitRecordID(recordID string) (model.ArticleKind, string, bool) {
	for i := 0; i < len(recordID); i++ {
		if recordID[i] == ':' {
			return model.ArticleKind(recordID[:i]), recordID[i+1:], true
		}
	}
	return "", "", false
}
