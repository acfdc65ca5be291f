package vectorindex

import (
	"context"
	"fmt"
	"time"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

// RecordSource supplies the fields an indexed Summary needs beyond its own
// text and URL: the originating item's category, source, and published_at —
// the Embedding Indexer has no independent view of items, so the
// orchestrator passes this in per candidate.
type RecordSource struct {
	Category    model.Category
	SourceName  string
	PublishedAt time.Time
}

// Indexer is the Embedding Indexer: it embeds a Summary,
// checks the Semantic Index for a near-duplicate, and either records the
// duplicate relationship or writes a new VectorRecord.
type Indexer struct {
	embedder  *Embedder
	store     *Store
	retriever *Retriever
	thetaDup  float64
}

func NewIndexer(embedder *Embedder, store *Store, thetaDup float64) *Indexer {
	return &Indexer{embedder: embedder, store: store, retriever: NewRetriever(store), thetaDup: thetaDup}
}

// IndexResult reports what happened to one Summary.
type IndexResult struct {
	RecordID    string
	DuplicateOf string // set when suppressed as a near-duplicate
}

// Index embeds sum and either stores it as a new VectorRecord or, if a
// sufficiently similar record already exists, marks it a duplicate and
// leaves the new record out of the index.
func (ix *Indexer) Index(ctx context.Context, sum model.Summary, src RecordSource) (IndexResult, error) {
	vec, err := ix.embedder.EmbedText(ctx, sum.Title, sum.Text)
	if err != nil {
		return IndexResult{}, err
	}

	recordID := sum.RecordID()

	if neighbor, isDup, err := ix.retriever.NearestDuplicate(ctx, vec, ix.thetaDup); err != nil {
		return IndexResult{}, err
	} else if isDup {
		return IndexResult{RecordID: recordID, DuplicateOf: neighbor.RecordID}, nil
	}

	publishedAt := src.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = sum.CreatedAt
	}
	rec := model.VectorRecord{
		RecordID:    recordID,
		Embedding:   vec,
		ArticleKind: sum.ArticleKind,
		URL:         sum.URL,
		Title:       sum.Title,
		Category:    src.Category,
		SourceName:  src.SourceName,
		PublishedAt: publishedAt,
	}
	if err := ix.store.Put(ctx, rec); err != nil {
		return IndexResult{}, err
	}
	return IndexResult{RecordID: recordID}, nil
}

// Reconcile finds Summaries that have no corresponding VectorRecord —
// typically because a prior run crashed between writing the Summary and
// indexing it — and re-indexes each one. The orchestrator's Index stage
// calls it for every Summary lacking a VectorRecord, which covers both the
// run's newly digested Summaries and any left by an earlier crash.
func (ix *Indexer) Reconcile(ctx context.Context, missing []model.Summary, sourceFor func(model.Summary) RecordSource) ([]IndexResult, error) {
	results := make([]IndexResult, 0, len(missing))
	for _, sum := range missing {
		res, err := ix.Index(ctx, sum, sourceFor(sum))
		if err != nil {
			return results, &apperror.IndexError{Op: "reconcile", Err: fmt.Errorf("record %s: %w", sum.RecordID(), err)}
		}
		results = append(results, res)
	}
	return results, nil
}

// Retriever exposes the underlying Retriever for components (the ranker)
// that need nearest-neighbor context rather than write access.
func (ix *Indexer) Retriever() *Retriever { return ix.retriever }

// KnownRecordIDs delegates to the Store, used to build the reconciliation
// pass's input set.
func (ix *Indexer) KnownRecordIDs(ctx context.Context) (map[string]bool, error) {
	return ix.store.KnownRecordIDs(ctx)
}

// Delete removes a VectorRecord by id, delegating to the Store.
func (ix *Indexer) Delete(ctx context.Context, recordID string) error {
	return ix.store.Delete(ctx, recordID)
}
