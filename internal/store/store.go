// Package store is the Record Store: the durable, authoritative home for
// items, summaries, and run records. It is backed by modernc.org/sqlite
// (pure Go, no cgo). Squirrel builds the simple single-table reads; the
// upserts and window joins are hand-written SQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"newsdigest/internal/apperror"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store wraps a *sql.DB holding the items_video, items_web, summaries, and
// runs tables.
type Store struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// Open opens (and, if absent, creates) the SQLite database at dsn and
// applies a set of production-safe pragmas.
func Open(dsn string) (*Store, error) {
	if path := dsnPath(dsn); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, &apperror.StoreError{Op: "mkdir", Err: err}
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &apperror.StoreError{Op: "open", Err: err}
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, &apperror.StoreError{Op: "pragma", Err: err}
		}
	}

	s := &Store{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS items_video (
	video_id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	published_at TIMESTAMP NOT NULL,
	description TEXT,
	transcript TEXT,
	duration_sec INTEGER,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS items_web (
	guid TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	description TEXT,
	published_at TIMESTAMP NOT NULL,
	category TEXT NOT NULL,
	content TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS summaries (
	article_kind TEXT NOT NULL,
	article_id TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	text TEXT NOT NULL,
	duplicate_of TEXT,
	degraded INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (article_kind, article_id)
);

CREATE TABLE IF NOT EXISTS runs (
	run_id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	window_hours INTEGER NOT NULL,
	top_n INTEGER NOT NULL,
	state TEXT NOT NULL,
	counters_json TEXT NOT NULL DEFAULT '{}',
	error_summary TEXT
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return &apperror.StoreError{Op: "migrate", Err: err}
	}
	return nil
}

// dsnPath extracts the filesystem path from a "file:<path>" DSN. Any other
// form (":memory:", "file::memory:?cache=shared") needs no parent
// directory created and returns "".
func dsnPath(dsn string) string {
	const prefix = "file:"
	if !strings.HasPrefix(dsn, prefix) {
		return ""
	}
	path := strings.TrimPrefix(dsn, prefix)
	if path == "" || path[0] == ':' {
		return ""
	}
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}
	return path
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func toNullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var errNotFound = fmt.Errorf("not found")

// ErrNotFound is returned by read-by-id lookups that find no row.
var ErrNotFound = errNotFound
