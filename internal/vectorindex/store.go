package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

// Store is the Semantic Index: a sqlite-backed table of VectorRecords,
// queried by brute-force cosine similarity. No vector-database client
// appears anywhere in the retrieval pack, so the index is kept as an
// ordinary table scanned in process. It keeps every record ever indexed
// (nothing prunes it), and each query scans it in full.
type Store struct {
	db  *sql.DB
	dim int
}

// Open opens (creating if absent) the vector index database at dsn.
func Open(dsn string, dim int) (*Store, error) {
	if path := dsnPath(dsn); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, &apperror.IndexError{Op: "mkdir", Err: err}
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &apperror.IndexError{Op: "open", Err: err}
	}
	for _, p := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 10000"} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, &apperror.IndexError{Op: "pragma", Err: err}
		}
	}

	s := &Store{db: db, dim: dim}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// dsnPath extracts the filesystem path from a "file:<path>" DSN, the
// convention this package's callers use. Any other form (":memory:",
// "file::memory:?cache=shared", driver-specific query strings) is assumed
// to need no parent directory and returns "".
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

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS vectors (
	record_id TEXT PRIMARY KEY,
	article_kind TEXT NOT NULL,
	vector BLOB NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	category TEXT,
	source_name TEXT,
	published_at TIMESTAMP NOT NULL,
	duplicate_of TEXT
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return &apperror.IndexError{Op: "migrate", Err: err}
	}
	return nil
}

// Put inserts or replaces a VectorRecord.
func (s *Store) Put(ctx context.Context, rec model.VectorRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO vectors
		(record_id, article_kind, vector, url, title, category, source_name, published_at, duplicate_of)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(record_id) DO UPDATE SET
			vector = excluded.vector, url = excluded.url, title = excluded.title,
			category = excluded.category, source_name = excluded.source_name,
			published_at = excluded.published_at`,
		rec.RecordID, string(rec.ArticleKind), encodeVector(rec.Embedding), rec.URL, rec.Title,
		nullString(string(rec.Category)), nullString(rec.SourceName), rec.PublishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &apperror.IndexError{Op: "put", Err: err}
	}
	return nil
}

// MarkDuplicate flags a record as a near-duplicate of neighborRecordID,
// excluding it from future retrieval.
func (s *Store) MarkDuplicate(ctx context.Context, recordID, neighborRecordID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE vectors SET duplicate_of = ? WHERE record_id = ?`, neighborRecordID, recordID)
	if err != nil {
		return &apperror.IndexError{Op: "mark_duplicate", Err: err}
	}
	return nil
}

// Delete removes a VectorRecord by id.
func (s *Store) Delete(ctx context.Context, recordID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE record_id = ?`, recordID); err != nil {
		return &apperror.IndexError{Op: "delete", Err: err}
	}
	return nil
}

// KnownRecordIDs returns the set of record_ids currently indexed, used by
// the reconciliation pass to find summaries missing a vector record.
func (s *Store) KnownRecordIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record_id FROM vectors`)
	if err != nil {
		return nil, &apperror.IndexError{Op: "known_record_ids", Err: err}
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &apperror.IndexError{Op: "known_record_ids_scan", Err: err}
		}
		out[id] = true
	}
	return out, rows.Err()
}

// indexedRecord is a VectorRecord plus the duplicate_of flag, which has no
// home on the shared model type since only the index cares about it.
type indexedRecord struct {
	model.VectorRecord
	DuplicateOf string
}

// All loads every record in the index, optionally skipping ones already
// flagged as a near-duplicate. Used by the Semantic Retriever for its
// brute-force scan, which reads the whole table on every query.
func (s *Store) All(ctx context.Context, excludeDuplicates bool) ([]indexedRecord, error) {
	query := `SELECT record_id, article_kind, vector, url, title, category, source_name, published_at, duplicate_of FROM vectors`
	if excludeDuplicates {
		query += ` WHERE duplicate_of IS NULL`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &apperror.IndexError{Op: "all", Err: err}
	}
	defer rows.Close()

	var out []indexedRecord
	for rows.Next() {
		var rec indexedRecord
		var kind, published string
		var category, sourceName, dup sql.NullString
		var vecBlob []byte
		if err := rows.Scan(&rec.RecordID, &kind, &vecBlob, &rec.URL, &rec.Title, &category, &sourceName, &published, &dup); err != nil {
			return nil, &apperror.IndexError{Op: "all_scan", Err: err}
		}
		rec.ArticleKind = model.ArticleKind(kind)
		rec.Embedding = decodeVector(vecBlob)
		rec.Category = model.Category(category.String)
		rec.SourceName = sourceName.String
		rec.PublishedAt, _ = time.Parse(time.RFC3339Nano, published)
		rec.DuplicateOf = dup.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
