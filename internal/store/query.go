package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

// RecentVideoItems returns the most recently ingested VideoItems, newest
// first — the video side of get_items.
func (s *Store) RecentVideoItems(ctx context.Context, limit int) ([]*model.VideoItem, error) {
	sqlStr, args, err := s.builder.
		Select("video_id, title, url, channel_id, published_at, description, transcript, duration_sec, created_at").
		From("items_video").
		OrderBy("created_at DESC").
		Limit(clampLimit(limit)).
		ToSql()
	if err != nil {
		return nil, &apperror.StoreError{Op: "recent_video_items_build", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, &apperror.StoreError{Op: "recent_video_items", Err: err}
	}
	defer rows.Close()

	var out []*model.VideoItem
	for rows.Next() {
		it := &model.VideoItem{}
		var published, created string
		if err := rows.Scan(&it.VideoID, &it.Title, &it.URL, &it.ChannelID, &published, &it.Description, &it.Transcript, &it.DurationSec, &created); err != nil {
			return nil, &apperror.StoreError{Op: "recent_video_items_scan", Err: err}
		}
		it.PublishedAt = parseTime(published)
		it.CreatedAt = parseTime(created)
		out = append(out, it)
	}
	return out, rows.Err()
}

// RecentWebItems is the WebItem analog of RecentVideoItems.
func (s *Store) RecentWebItems(ctx context.Context, limit int) ([]*model.WebItem, error) {
	sqlStr, args, err := s.builder.
		Select("guid, source_name, title, url, description, published_at, category, content, created_at").
		From("items_web").
		OrderBy("created_at DESC").
		Limit(clampLimit(limit)).
		ToSql()
	if err != nil {
		return nil, &apperror.StoreError{Op: "recent_web_items_build", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, &apperror.StoreError{Op: "recent_web_items", Err: err}
	}
	defer rows.Close()

	var out []*model.WebItem
	for rows.Next() {
		it := &model.WebItem{}
		var published, created, category string
		if err := rows.Scan(&it.GUID, &it.SourceName, &it.Title, &it.URL, &it.Description, &published, &category, &it.Content, &created); err != nil {
			return nil, &apperror.StoreError{Op: "recent_web_items_scan", Err: err}
		}
		it.Category = model.Category(category)
		it.PublishedAt = parseTime(published)
		it.CreatedAt = parseTime(created)
		out = append(out, it)
	}
	return out, rows.Err()
}

func clampLimit(limit int) uint64 {
	if limit <= 0 {
		return 50
	}
	return uint64(limit)
}

// SummaryByRecordID reads a single Summary by its (kind, id) identity,
// used to attach text to a search() hit.
func (s *Store) SummaryByRecordID(ctx context.Context, kind model.ArticleKind, articleID string) (model.Summary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT article_kind, article_id, url, title, text, duplicate_of, degraded, created_at
		FROM summaries WHERE article_kind = ? AND article_id = ?`, string(kind), articleID)

	var sum model.Summary
	var dup sql.NullString
	var degraded int
	var created string
	if err := row.Scan(&sum.ArticleKind, &sum.ArticleID, &sum.URL, &sum.Title, &sum.Text, &dup, &degraded, &created); err != nil {
		if err == sql.ErrNoRows {
			return model.Summary{}, ErrNotFound
		}
		return model.Summary{}, &apperror.StoreError{Op: "summary_by_record_id", Err: err}
	}
	sum.DuplicateOf = dup.String
	sum.Degraded = degraded != 0
	sum.CreatedAt = parseTime(created)
	return sum, nil
}

// SummariesPage returns one page of Summaries for items published within
// [since, now], newest-published first, plus the total row count across
// every page — the backing query for list_summaries.
func (s *Store) SummariesPage(ctx context.Context, since, now time.Time, page, pageSize int) (model.SummaryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM (
			SELECT s.article_kind FROM summaries s
			JOIN items_video v ON s.article_kind = 'video' AND s.article_id = v.video_id
			WHERE v.published_at >= ? AND v.published_at <= ?
			UNION ALL
			SELECT s.article_kind FROM summaries s
			JOIN items_web w ON s.article_kind = 'web' AND s.article_id = w.guid
			WHERE w.published_at >= ? AND w.published_at <= ?
		)`, toNullTime(since), toNullTime(now), toNullTime(since), toNullTime(now)).Scan(&total)
	if err != nil {
		return model.SummaryPage{}, &apperror.StoreError{Op: "summaries_page_count", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT article_kind, article_id, url, title, text, duplicate_of, degraded, created_at FROM (
			SELECT s.article_kind AS article_kind, s.article_id AS article_id, s.url AS url, s.title AS title,
				s.text AS text, s.duplicate_of AS duplicate_of, s.degraded AS degraded, s.created_at AS created_at,
				v.published_at AS pub
			FROM summaries s JOIN items_video v ON s.article_kind = 'video' AND s.article_id = v.video_id
			WHERE v.published_at >= ? AND v.published_at <= ?
			UNION ALL
			SELECT s.article_kind, s.article_id, s.url, s.title, s.text, s.duplicate_of, s.degraded, s.created_at,
				w.published_at AS pub
			FROM summaries s JOIN items_web w ON s.article_kind = 'web' AND s.article_id = w.guid
			WHERE w.published_at >= ? AND w.published_at <= ?
		)
		ORDER BY pub DESC
		LIMIT ? OFFSET ?`,
		toNullTime(since), toNullTime(now), toNullTime(since), toNullTime(now), pageSize, offset)
	if err != nil {
		return model.SummaryPage{}, &apperror.StoreError{Op: "summaries_page", Err: err}
	}
	defer rows.Close()

	out := model.SummaryPage{Page: page, PageSize: pageSize, Total: total}
	for rows.Next() {
		var sum model.Summary
		var kind, dup sql.NullString
		var degraded int
		var created string
		if err := rows.Scan(&kind, &sum.ArticleID, &sum.URL, &sum.Title, &sum.Text, &dup, &degraded, &created); err != nil {
			return model.SummaryPage{}, &apperror.StoreError{Op: "summaries_page_scan", Err: err}
		}
		sum.ArticleKind = model.ArticleKind(kind.String)
		sum.DuplicateOf = dup.String
		sum.Degraded = degraded != 0
		sum.CreatedAt = parseTime(created)
		out.Summaries = append(out.Summaries, sum)
	}
	return out, rows.Err()
}

// Counts reports the current row counts per table, the counts half of
// stats().
func (s *Store) Counts(ctx context.Context) (model.StoreCounts, error) {
	var out model.StoreCounts
	for _, c := range []struct {
		table string
		dest  *int
	}{
		{"items_video", &out.VideoItems},
		{"items_web", &out.WebItems},
		{"summaries", &out.Summaries},
	} {
		sqlStr, args, err := s.builder.Select("COUNT(1)").From(c.table).ToSql()
		if err != nil {
			return out, &apperror.StoreError{Op: "counts_build", Err: err}
		}
		if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(c.dest); err != nil {
			return out, &apperror.StoreError{Op: "counts_" + c.table, Err: err}
		}
	}

	dupSQL, dupArgs, err := s.builder.Select("COUNT(1)").From("summaries").Where(sq.NotEq{"duplicate_of": nil}).ToSql()
	if err != nil {
		return out, &apperror.StoreError{Op: "counts_build_duplicates", Err: err}
	}
	if err := s.db.QueryRowContext(ctx, dupSQL, dupArgs...).Scan(&out.Duplicates); err != nil {
		return out, &apperror.StoreError{Op: "counts_duplicates", Err: err}
	}

	byCategory, err := s.groupCount(ctx, "items_web", "category")
	if err != nil {
		return out, err
	}
	out.ByCategory = byCategory

	bySource, err := s.groupCount(ctx, "items_web", "source_name")
	if err != nil {
		return out, err
	}
	out.BySource = bySource

	return out, nil
}

// groupCount counts rows in table grouped by column, the shape a scrape
// run's end-of-run category/source breakdown needs.
func (s *Store) groupCount(ctx context.Context, table, column string) (map[string]int, error) {
	sqlStr, args, err := s.builder.Select(column, "COUNT(1)").From(table).GroupBy(column).ToSql()
	if err != nil {
		return nil, &apperror.StoreError{Op: "group_count_build", Err: err}
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, &apperror.StoreError{Op: "group_count_" + table + "_" + column, Err: err}
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, &apperror.StoreError{Op: "group_count_scan", Err: err}
		}
		out[key] = count
	}
	return out, rows.Err()
}
