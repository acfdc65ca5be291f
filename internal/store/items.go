package store

import (
	"context"
	"database/sql"
	"time"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

// UpsertVideoItems inserts or progressively enriches a batch of VideoItems
// in a single transaction. On key collision, created_at is preserved and a
// mutable field is overwritten only when the incoming value is non-empty
// and differs from what is stored — this is what lets a later pass fill in
// a transcript without disturbing the first pass's row.
func (s *Store) UpsertVideoItems(ctx context.Context, items []*model.VideoItem, now time.Time) error {
	if len(items) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt := `INSERT INTO items_video
			(video_id, title, url, channel_id, published_at, description, transcript, duration_sec, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(video_id) DO UPDATE SET
				title = CASE WHEN excluded.title != '' AND excluded.title != items_video.title THEN excluded.title ELSE items_video.title END,
				description = CASE WHEN excluded.description != '' AND excluded.description != items_video.description THEN excluded.description ELSE items_video.description END,
				transcript = CASE WHEN excluded.transcript != '' AND excluded.transcript != items_video.transcript THEN excluded.transcript ELSE items_video.transcript END,
				duration_sec = CASE WHEN excluded.duration_sec != 0 THEN excluded.duration_sec ELSE items_video.duration_sec END`

		for _, it := range items {
			created := it.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := tx.ExecContext(ctx, stmt,
				it.VideoID, it.Title, it.URL, it.ChannelID, toNullTime(it.PublishedAt),
				it.Description, it.Transcript, it.DurationSec, toNullTime(created)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &apperror.StoreError{Op: "upsert_video_items", Err: err}
	}
	return nil
}

// UpsertWebItems is the WebItem analog of UpsertVideoItems.
func (s *Store) UpsertWebItems(ctx context.Context, items []*model.WebItem, now time.Time) error {
	if len(items) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt := `INSERT INTO items_web
			(guid, source_name, title, url, description, published_at, category, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(guid) DO UPDATE SET
				title = CASE WHEN excluded.title != '' AND excluded.title != items_web.title THEN excluded.title ELSE items_web.title END,
				description = CASE WHEN excluded.description != '' AND excluded.description != items_web.description THEN excluded.description ELSE items_web.description END,
				content = CASE WHEN excluded.content != '' AND excluded.content != items_web.content THEN excluded.content ELSE items_web.content END`

		for _, it := range items {
			created := it.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := tx.ExecContext(ctx, stmt,
				it.GUID, it.SourceName, it.Title, it.URL, it.Description, toNullTime(it.PublishedAt),
				string(it.Category), it.Content, toNullTime(created)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &apperror.StoreError{Op: "upsert_web_items", Err: err}
	}
	return nil
}

// VideoItemsInWindow returns VideoItems whose published_at falls within
// [since, now].
func (s *Store) VideoItemsInWindow(ctx context.Context, since, now time.Time) ([]*model.VideoItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT video_id, title, url, channel_id, published_at, description, transcript, duration_sec, created_at
		FROM items_video WHERE published_at >= ? AND published_at <= ? ORDER BY published_at DESC`,
		toNullTime(since), toNullTime(now))
	if err != nil {
		return nil, &apperror.StoreError{Op: "video_items_in_window", Err: err}
	}
	defer rows.Close()

	var out []*model.VideoItem
	for rows.Next() {
		it := &model.VideoItem{}
		var published, created string
		if err := rows.Scan(&it.VideoID, &it.Title, &it.URL, &it.ChannelID, &published, &it.Description, &it.Transcript, &it.DurationSec, &created); err != nil {
			return nil, &apperror.StoreError{Op: "video_items_in_window_scan", Err: err}
		}
		it.PublishedAt = parseTime(published)
		it.CreatedAt = parseTime(created)
		out = append(out, it)
	}
	return out, rows.Err()
}

// WebItemsInWindow is the WebItem analog of VideoItemsInWindow.
func (s *Store) WebItemsInWindow(ctx context.Context, since, now time.Time) ([]*model.WebItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guid, source_name, title, url, description, published_at, category, content, created_at
		FROM items_web WHERE published_at >= ? AND published_at <= ? ORDER BY published_at DESC`,
		toNullTime(since), toNullTime(now))
	if err != nil {
		return nil, &apperror.StoreError{Op: "web_items_in_window", Err: err}
	}
	defer rows.Close()

	var out []*model.WebItem
	for rows.Next() {
		it := &model.WebItem{}
		var published, created, category string
		if err := rows.Scan(&it.GUID, &it.SourceName, &it.Title, &it.URL, &it.Description, &published, &category, &it.Content, &created); err != nil {
			return nil, &apperror.StoreError{Op: "web_items_in_window_scan", Err: err}
		}
		it.Category = model.Category(category)
		it.PublishedAt = parseTime(published)
		it.CreatedAt = parseTime(created)
		out = append(out, it)
	}
	return out, rows.Err()
}

// WebItem reads a single WebItem by guid.
func (s *Store) WebItem(ctx context.Context, guid string) (*model.WebItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT guid, source_name, title, url, description, published_at, category, content, created_at
		FROM items_web WHERE guid = ?`, guid)
	it := &model.WebItem{}
	var published, created, category string
	if err := row.Scan(&it.GUID, &it.SourceName, &it.Title, &it.URL, &it.Description, &published, &category, &it.Content, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, &apperror.StoreError{Op: "web_item", Err: err}
	}
	it.Category = model.Category(category)
	it.PublishedAt = parseTime(published)
	it.CreatedAt = parseTime(created)
	return it, nil
}

// VideoItem reads a single VideoItem by id.
func (s *Store) VideoItem(ctx context.Context, videoID string) (*model.VideoItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT video_id, title, url, channel_id, published_at, description, transcript, duration_sec, created_at
		FROM items_video WHERE video_id = ?`, videoID)
	it := &model.VideoItem{}
	var published, created string
	if err := row.Scan(&it.VideoID, &it.Title, &it.URL, &it.ChannelID, &published, &it.Description, &it.Transcript, &it.DurationSec, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, &apperror.StoreError{Op: "video_item", Err: err}
	}
	it.PublishedAt = parseTime(published)
	it.CreatedAt = parseTime(created)
	return it, nil
}
