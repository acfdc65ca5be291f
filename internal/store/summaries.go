package store

import (
	"context"
	"database/sql"
	"time"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

// SummaryExists reports whether a Summary already exists for (kind, id),
// the idempotency check the orchestrator consults before calling the
// Summary Service.
func (s *Store) SummaryExists(ctx context.Context, kind model.ArticleKind, articleID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM summaries WHERE article_kind = ? AND article_id = ?`,
		string(kind), articleID).Scan(&n)
	if err != nil {
		return false, &apperror.StoreError{Op: "summary_exists", Err: err}
	}
	return n > 0, nil
}

// PutSummary upserts a Summary. Idempotent on (article_kind, article_id).
func (s *Store) PutSummary(ctx context.Context, sum model.Summary) error {
	degraded := 0
	if sum.Degraded {
		degraded = 1
	}
	created := sum.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO summaries
		(article_kind, article_id, url, title, text, duplicate_of, degraded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(article_kind, article_id) DO UPDATE SET
			url = excluded.url, title = excluded.title, text = excluded.text,
			duplicate_of = excluded.duplicate_of, degraded = excluded.degraded`,
		string(sum.ArticleKind), sum.ArticleID, sum.URL, sum.Title, sum.Text, nullString(sum.DuplicateOf), degraded, toNullTime(created))
	if err != nil {
		return &apperror.StoreError{Op: "put_summary", Err: err}
	}
	return nil
}

// MarkDuplicate records that a Summary's VectorRecord was suppressed as a
// near-duplicate of neighborID.
func (s *Store) MarkDuplicate(ctx context.Context, kind model.ArticleKind, articleID, neighborID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE summaries SET duplicate_of = ? WHERE article_kind = ? AND article_id = ?`,
		neighborID, string(kind), articleID)
	if err != nil {
		return &apperror.StoreError{Op: "mark_duplicate", Err: err}
	}
	return nil
}

// SummariesInWindow returns Summaries for items published within
// [since, now], joining against both item tables.
func (s *Store) SummariesInWindow(ctx context.Context, since, now time.Time) ([]model.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.article_kind, s.article_id, s.url, s.title, s.text, s.duplicate_of, s.degraded, s.created_at
		FROM summaries s
		JOIN items_video v ON s.article_kind = 'video' AND s.article_id = v.video_id
		WHERE v.published_at >= ? AND v.published_at <= ?
		UNION ALL
		SELECT s.article_kind, s.article_id, s.url, s.title, s.text, s.duplicate_of, s.degraded, s.created_at
		FROM summaries s
		JOIN items_web w ON s.article_kind = 'web' AND s.article_id = w.guid
		WHERE w.published_at >= ? AND w.published_at <= ?`,
		toNullTime(since), toNullTime(now), toNullTime(since), toNullTime(now))
	if err != nil {
		return nil, &apperror.StoreError{Op: "summaries_in_window", Err: err}
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		var sum model.Summary
		var kind, dup sql.NullString
		var degraded int
		var created string
		if err := rows.Scan(&kind, &sum.ArticleID, &sum.URL, &sum.Title, &sum.Text, &dup, &degraded, &created); err != nil {
			return nil, &apperror.StoreError{Op: "summaries_in_window_scan", Err: err}
		}
		sum.ArticleKind = model.ArticleKind(kind.String)
		sum.DuplicateOf = dup.String
		sum.Degraded = degraded != 0
		sum.CreatedAt = parseTime(created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SummariesWithoutVectorRecord returns every Summary whose record_id is not
// present in knownRecordIDs — the input to the reconciliation pass.
func (s *Store) SummariesWithoutVectorRecord(ctx context.Context, knownRecordIDs map[string]bool) ([]model.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT article_kind, article_id, url, title, text, duplicate_of, degraded, created_at FROM summaries`)
	if err != nil {
		return nil, &apperror.StoreError{Op: "summaries_all", Err: err}
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		var sum model.Summary
		var dup sql.NullString
		var degraded int
		var created string
		if err := rows.Scan(&sum.ArticleKind, &sum.ArticleID, &sum.URL, &sum.Title, &sum.Text, &dup, &degraded, &created); err != nil {
			return nil, &apperror.StoreError{Op: "summaries_all_scan", Err: err}
		}
		sum.DuplicateOf = dup.String
		sum.Degraded = degraded != 0
		sum.CreatedAt = parseTime(created)
		if !knownRecordIDs[sum.RecordID()] {
			out = append(out, sum)
		}
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
