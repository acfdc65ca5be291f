// Package orchestrator is the Pipeline Orchestrator: an
// explicit state machine over Scrape, Process, Digest, Index, Rank, Email,
// terminating in Done, Failed, or Cancelled. Each transition persists a
// RunRecord so a run's progress and outcome survive a process restart.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newsdigest/internal/adapters"
	"newsdigest/internal/apperror"
	"newsdigest/internal/fetch"
	"newsdigest/internal/mailer"
	"newsdigest/internal/model"
	"newsdigest/internal/ranker"
	"newsdigest/internal/store"
	"newsdigest/internal/summary"
	"newsdigest/internal/vectorindex"
)

// Orchestrator wires every pipeline component together and drives one run
// at a time through the state machine.
type Orchestrator struct {
	store              *store.Store
	coordinator        *fetch.Coordinator
	summarizer         *summary.Summarizer
	indexer            *vectorindex.Indexer
	ranker             *ranker.Ranker
	mailer             *mailer.Mailer
	transcriptFetchers []adapters.TranscriptFetcher
	profile            model.UserProfile
	concurrency        int // g_llm, shared between Digest and Rank
	logger             *slog.Logger
}

func New(
	st *store.Store,
	coordinator *fetch.Coordinator,
	summarizer *summary.Summarizer,
	indexer *vectorindex.Indexer,
	rk *ranker.Ranker,
	ml *mailer.Mailer,
	transcriptFetchers []adapters.TranscriptFetcher,
	profile model.UserProfile,
	concurrency int,
	logger *slog.Logger,
) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store: st, coordinator: coordinator, summarizer: summarizer, indexer: indexer,
		ranker: rk, mailer: ml, transcriptFetchers: transcriptFetchers, profile: profile,
		concurrency: concurrency, logger: logger,
	}
}

// RunOptions configures one pipeline invocation.
type RunOptions struct {
	WindowHours int
	TopN        int
	SkipEmail   bool
	// Recipient and Subject override the Mailer's configured defaults for
	// this run only, used by send_digest's optional parameters.
	Recipient string
	Subject   string
}

// RunOutcome is what the orchestrator returns to a caller once a run
// reaches a terminal state.
type RunOutcome struct {
	Record model.RunRecord
	Mail   mailer.Result
}

// Run drives one pipeline invocation end to end, persisting a RunRecord at
// every transition.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (RunOutcome, error) {
	now := time.Now().UTC()
	since := now.Add(-time.Duration(opts.WindowHours) * time.Hour)

	runID, err := o.store.CreateRun(ctx, opts.WindowHours, opts.TopN, now)
	if err != nil {
		return RunOutcome{}, fmt.Errorf("create run: %w", err)
	}
	log := o.logger.With("run_id", runID)

	rec := model.RunRecord{RunID: runID, StartedAt: now, WindowHours: opts.WindowHours, TopN: opts.TopN}
	rec.Counters.FailedByKind = map[string]int{}
	rec.Counters.RetriesByStage = map[string]int{}

	fail := func(stage string, err error) (RunOutcome, error) {
		log.Error("run failed", "stage", stage, "error", err)
		rec.State = model.RunFailed
		rec.ErrorSummary = fmt.Sprintf("%s: %v", stage, err)
		o.finish(ctx, runID, rec)
		return RunOutcome{Record: rec}, err
	}

	if err := o.transition(ctx, runID, &rec, model.RunScrape, log); err != nil {
		return fail("scrape", err)
	}
	if err := o.scrape(ctx, since, now, &rec, log); err != nil {
		if isCancelled(err) {
			return o.cancel(ctx, runID, rec, "scrape")
		}
		return fail("scrape", err)
	}

	if err := o.transition(ctx, runID, &rec, model.RunProcess, log); err != nil {
		return fail("process", err)
	}
	o.process(ctx, since, now, &rec, log)

	if err := o.transition(ctx, runID, &rec, model.RunDigest, log); err != nil {
		return fail("digest", err)
	}
	if err := o.digest(ctx, since, now, &rec, log); err != nil {
		if isCancelled(err) {
			return o.cancel(ctx, runID, rec, "digest")
		}
		return fail("digest", err)
	}

	if err := o.transition(ctx, runID, &rec, model.RunIndex, log); err != nil {
		return fail("index", err)
	}
	if err := o.index(ctx, &rec, log); err != nil {
		if isCancelled(err) {
			return o.cancel(ctx, runID, rec, "index")
		}
		return fail("index", err)
	}

	if err := o.transition(ctx, runID, &rec, model.RunRank, log); err != nil {
		return fail("rank", err)
	}
	ranked, err := o.rank(ctx, since, now, opts.TopN, &rec, log)
	if err != nil {
		if isCancelled(err) {
			return o.cancel(ctx, runID, rec, "rank")
		}
		return fail("rank", err)
	}

	if err := o.transition(ctx, runID, &rec, model.RunEmail, log); err != nil {
		return fail("email", err)
	}
	mailResult := o.email(ctx, ranked, opts, &rec, log)

	rec.State = model.RunDone
	rec.FinishedAt = time.Now().UTC()
	o.finish(ctx, runID, rec)
	return RunOutcome{Record: rec, Mail: mailResult}, nil
}

// ScrapeOnly drives just the Scrape and Process stages and stops, the
// scrape-only entrypoint the Request Plane exposes alongside the full
// pipeline.
func (o *Orchestrator) ScrapeOnly(ctx context.Context, windowHours int) (model.RunRecord, error) {
	now := time.Now().UTC()
	since := now.Add(-time.Duration(windowHours) * time.Hour)

	runID, err := o.store.CreateRun(ctx, windowHours, 0, now)
	if err != nil {
		return model.RunRecord{}, fmt.Errorf("create run: %w", err)
	}
	log := o.logger.With("run_id", runID)

	rec := model.RunRecord{RunID: runID, StartedAt: now, WindowHours: windowHours}
	rec.Counters.FailedByKind = map[string]int{}
	rec.Counters.RetriesByStage = map[string]int{}

	fail := func(err error) (model.RunRecord, error) {
		log.Error("scrape-only run failed", "error", err)
		rec.State = model.RunFailed
		rec.ErrorSummary = err.Error()
		o.finish(ctx, runID, rec)
		return rec, err
	}

	if err := o.transition(ctx, runID, &rec, model.RunScrape, log); err != nil {
		return fail(err)
	}
	if err := o.scrape(ctx, since, now, &rec, log); err != nil {
		if isCancelled(err) {
			outcome, cerr := o.cancel(ctx, runID, rec, "scrape")
			return outcome.Record, cerr
		}
		return fail(err)
	}

	if err := o.transition(ctx, runID, &rec, model.RunProcess, log); err != nil {
		return fail(err)
	}
	o.process(ctx, since, now, &rec, log)

	rec.State = model.RunDone
	rec.FinishedAt = time.Now().UTC()
	o.finish(ctx, runID, rec)
	return rec, nil
}

func isCancelled(err error) bool {
	_, ok := err.(*apperror.Cancelled)
	return ok || err == context.Canceled || err == context.DeadlineExceeded
}

func (o *Orchestrator) cancel(ctx context.Context, runID int64, rec model.RunRecord, stage string) (RunOutcome, error) {
	o.logger.Warn("run cancelled", "run_id", runID, "stage", stage)
	rec.State = model.RunCancelled
	rec.ErrorSummary = fmt.Sprintf("cancelled during %s", stage)
	o.finish(ctx, runID, rec)
	return RunOutcome{Record: rec}, &apperror.Cancelled{Stage: stage}
}

func (o *Orchestrator) transition(ctx context.Context, runID int64, rec *model.RunRecord, state model.RunState, log *slog.Logger) error {
	rec.State = state
	log.Info("run transition", "state", state)
	if err := o.store.UpdateRunState(ctx, runID, state, rec.Counters); err != nil {
		return &apperror.StoreError{Op: "update_run_state", Err: err}
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, runID int64, rec model.RunRecord) {
	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	if err := o.store.FinishRun(ctx, runID, rec.State, rec.ErrorSummary, finished); err != nil {
		o.logger.Error("failed to persist run completion", "run_id", runID, "error", err)
	}
}

// scrape runs the Fetch Coordinator and persists every item it returns.
// Adapter failures are advisory; only a cancelled context is fatal here.
func (o *Orchestrator) scrape(ctx context.Context, since, now time.Time, rec *model.RunRecord, log *slog.Logger) error {
	res, err := o.coordinator.Run(ctx, since, now)
	if err != nil {
		return err
	}
	if res.Retries > 0 {
		rec.Counters.RetriesByStage["scrape"] += res.Retries
	}

	var videos []*model.VideoItem
	var webs []*model.WebItem
	for _, it := range res.Items {
		switch {
		case it.Video != nil:
			videos = append(videos, it.Video)
		case it.Web != nil:
			webs = append(webs, it.Web)
		}
	}

	if err := o.store.UpsertVideoItems(ctx, videos, now); err != nil {
		log.Warn("persisting video items failed", "error", err)
	}
	if err := o.store.UpsertWebItems(ctx, webs, now); err != nil {
		log.Warn("persisting web items failed", "error", err)
	}

	rec.Counters.Scraped = len(res.Items)
	rec.Counters.New = len(res.Items) // every item returned by an adapter window pass is treated as new for this run
	for _, f := range res.Failures {
		rec.Counters.FailedAdapters = append(rec.Counters.FailedAdapters, f.Adapter)
		log.Warn("adapter failed", "adapter", f.Adapter, "error", f.Err)
	}
	return nil
}

// process invokes transcript enrichment on video items lacking one. Each
// item's failure is advisory.
func (o *Orchestrator) process(ctx context.Context, since, now time.Time, rec *model.RunRecord, log *slog.Logger) {
	if len(o.transcriptFetchers) == 0 {
		return
	}
	items, err := o.store.VideoItemsInWindow(ctx, since, now)
	if err != nil {
		log.Warn("listing video items for processing failed", "error", err)
		return
	}

	for _, it := range items {
		if it.Transcript != "" {
			continue
		}
		for _, tf := range o.transcriptFetchers {
			transcript, err := tf.FetchTranscript(ctx, it.VideoID)
			if err != nil {
				rec.Counters.FailedByKind["transcript"]++
				log.Warn("transcript fetch failed", "video_id", it.VideoID, "error", err)
				continue
			}
			if transcript == "" {
				continue
			}
			it.Transcript = transcript
			if err := o.store.UpsertVideoItems(ctx, []*model.VideoItem{it}, now); err != nil {
				log.Warn("persisting transcript failed", "video_id", it.VideoID, "error", err)
			}
			rec.Counters.Processed++
			break
		}
	}
}

// digest summarizes every item in the window lacking a Summary, bounded by
// the shared g_llm concurrency pool. Each item's failure is advisory.
func (o *Orchestrator) digest(ctx context.Context, since, now time.Time, rec *model.RunRecord, log *slog.Logger) error {
	videos, err := o.store.VideoItemsInWindow(ctx, since, now)
	if err != nil {
		return &apperror.StoreError{Op: "video_items_in_window", Err: err}
	}
	webs, err := o.store.WebItemsInWindow(ctx, since, now)
	if err != nil {
		return &apperror.StoreError{Op: "web_items_in_window", Err: err}
	}

	type job struct {
		in summary.Input
	}
	var jobs []job
	for _, v := range videos {
		exists, err := o.store.SummaryExists(ctx, model.KindVideo, v.VideoID)
		if err != nil {
			log.Warn("summary_exists check failed", "video_id", v.VideoID, "error", err)
			continue
		}
		if exists {
			continue
		}
		jobs = append(jobs, job{in: summary.Input{
			ArticleKind: model.KindVideo, ArticleID: v.VideoID, URL: v.URL, Title: v.Title,
			ChannelOrSite: v.ChannelID, Description: v.Description, Transcript: v.Transcript,
			DurationSec: v.DurationSec, PublishedAt: v.PublishedAt,
		}})
	}
	for _, w := range webs {
		exists, err := o.store.SummaryExists(ctx, model.KindWeb, w.GUID)
		if err != nil {
			log.Warn("summary_exists check failed", "guid", w.GUID, "error", err)
			continue
		}
		if exists {
			continue
		}
		jobs = append(jobs, job{in: summary.Input{
			ArticleKind: model.KindWeb, ArticleID: w.GUID, URL: w.URL, Title: w.Title,
			ChannelOrSite: w.SourceName, Description: w.Description, Content: w.Content,
			PublishedAt: w.PublishedAt,
		}})
	}

	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			sum, retries, err := o.summarizer.Summarize(ctx, j.in)
			mu.Lock()
			defer mu.Unlock()
			if retries > 0 {
				rec.Counters.RetriesByStage["digest"] += retries
			}
			if err != nil {
				rec.Counters.FailedByKind[string(j.in.ArticleKind)]++
				log.Warn("summarize failed", "article_id", j.in.ArticleID, "error", err)
				return
			}
			if err := o.store.PutSummary(ctx, sum); err != nil {
				log.Warn("persisting summary failed", "article_id", j.in.ArticleID, "error", err)
				return
			}
			rec.Counters.Summarized++
		}(j)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return &apperror.Cancelled{Stage: "digest"}
	}
	return nil
}

// index runs the reconciliation pass: every Summary lacking a VectorRecord
// is embedded and either written or flagged as a duplicate.
func (o *Orchestrator) index(ctx context.Context, rec *model.RunRecord, log *slog.Logger) error {
	known, err := o.indexer.KnownRecordIDs(ctx)
	if err != nil {
		return &apperror.IndexError{Op: "known_record_ids", Err: err}
	}

	missing, err := o.store.SummariesWithoutVectorRecord(ctx, known)
	if err != nil {
		return &apperror.StoreError{Op: "summaries_without_vector_record", Err: err}
	}
	if len(missing) == 0 {
		return nil
	}

	results, err := o.indexer.Reconcile(ctx, missing, func(sum model.Summary) vectorindex.RecordSource {
		switch sum.ArticleKind {
		case model.KindVideo:
			if v, err := o.store.VideoItem(ctx, sum.ArticleID); err == nil {
				return vectorindex.RecordSource{SourceName: v.ChannelID, PublishedAt: v.PublishedAt}
			}
		case model.KindWeb:
			if w, err := o.store.WebItem(ctx, sum.ArticleID); err == nil {
				return vectorindex.RecordSource{Category: w.Category, SourceName: w.SourceName, PublishedAt: w.PublishedAt}
			}
		}
		return vectorindex.RecordSource{}
	})
	if err != nil {
		return err
	}

	for i, res := range results {
		if i >= len(missing) {
			break
		}
		sum := missing[i]
		if res.DuplicateOf != "" {
			if err := o.store.MarkDuplicate(ctx, sum.ArticleKind, sum.ArticleID, res.DuplicateOf); err != nil {
				log.Warn("mark_duplicate failed", "record_id", sum.RecordID(), "error", err)
			}
			continue
		}
		rec.Counters.Indexed++
	}
	return nil
}

// rank scores every Summary in the window and returns the top-N.
func (o *Orchestrator) rank(ctx context.Context, since, now time.Time, topN int, rec *model.RunRecord, log *slog.Logger) ([]model.RankedItem, error) {
	summaries, err := o.store.SummariesInWindow(ctx, since, now)
	if err != nil {
		return nil, &apperror.StoreError{Op: "summaries_in_window", Err: err}
	}

	meta, err := o.itemMetadata(ctx, since, now)
	if err != nil {
		log.Warn("loading item metadata for ranking failed", "error", err)
	}

	candidates := make([]ranker.Candidate, 0, len(summaries))
	for _, sum := range summaries {
		m := meta[sum.RecordID()]
		candidates = append(candidates, ranker.Candidate{
			Summary:     sum,
			PublishedAt: firstNonZero(m.publishedAt, sum.CreatedAt),
			Category:    m.category,
			SourceName:  m.sourceName,
		})
	}

	ranked, retries, err := o.ranker.Rank(ctx, o.profile, candidates, o.concurrency)
	if err != nil {
		return nil, err
	}
	if retries > 0 {
		rec.Counters.RetriesByStage["rank"] += retries
	}

	rec.Counters.Ranked = len(ranked)
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

type itemMeta struct {
	publishedAt time.Time
	category    model.Category
	sourceName  string
}

func (o *Orchestrator) itemMetadata(ctx context.Context, since, now time.Time) (map[string]itemMeta, error) {
	out := map[string]itemMeta{}

	videos, err := o.store.VideoItemsInWindow(ctx, since, now)
	if err != nil {
		return out, err
	}
	for _, v := range videos {
		out[model.Summary{ArticleKind: model.KindVideo, ArticleID: v.VideoID}.RecordID()] = itemMeta{
			publishedAt: v.PublishedAt, sourceName: v.ChannelID,
		}
	}

	webs, err := o.store.WebItemsInWindow(ctx, since, now)
	if err != nil {
		return out, err
	}
	for _, w := range webs {
		out[model.Summary{ArticleKind: model.KindWeb, ArticleID: w.GUID}.RecordID()] = itemMeta{
			publishedAt: w.PublishedAt, category: w.Category, sourceName: w.SourceName,
		}
	}
	return out, nil
}

func firstNonZero(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// email hands the ranked digest to the Mailer. A transport failure is
// advisory: it's reported on the RunRecord but never undoes ranking.
func (o *Orchestrator) email(ctx context.Context, ranked []model.RankedItem, opts RunOptions, rec *model.RunRecord, log *slog.Logger) mailer.Result {
	var res mailer.Result
	var err error
	if opts.Recipient != "" || opts.Subject != "" {
		res, err = o.mailer.SendWithOverrides(ctx, o.profile, ranked, opts.WindowHours, opts.Recipient, opts.Subject)
	} else {
		res, err = o.mailer.Send(ctx, o.profile, ranked, opts.WindowHours)
	}
	if err != nil {
		log.Warn("mailer send failed", "error", err)
		rec.ErrorSummary = fmt.Sprintf("email: %v", err)
	}
	if res.SkipEmail {
		rec.Counters.Rendered++
	} else if res.Sent {
		rec.Counters.Emailed = res.ItemCount
	}
	return res
}
