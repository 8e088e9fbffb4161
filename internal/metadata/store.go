// Package metadata is the relational Metadata Store: documents, chunks,
// tags, and backlinks, persisted to a single-file SQLite database. Grounded
// on the teacher's internal/store/sqlite_bm25.go for connection setup (a
// single modernc.org/sqlite connection, WAL + busy-timeout pragmas) and on
// its table/index layout conventions, retargeted to the four tables
// spec.md §4.5 names.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	nerrors "github.com/haruki-endo/notemind/internal/errors"
)

// Document is a single indexed note file.
type Document struct {
	DocID       string
	FilePath    string
	Title       string
	CreatedAt   time.Time
	ModifiedAt  time.Time
	ContentHash string
	Metadata    map[string]any
}

// Chunk is a contiguous slice of a document's cleaned text.
type Chunk struct {
	ChunkID    string
	DocID      string
	Content    string
	ChunkIndex int
	StartPos   int
	EndPos     int
}

// Stats summarizes the store's contents.
type Stats struct {
	DocumentCount int
	ChunkCount    int
	TagCount      int
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id        TEXT PRIMARY KEY,
	file_path     TEXT NOT NULL UNIQUE,
	title         TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	modified_at   TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	metadata_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id   TEXT PRIMARY KEY,
	doc_id     TEXT NOT NULL REFERENCES documents(doc_id),
	content    TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	start_pos  INTEGER NOT NULL,
	end_pos    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);

CREATE TABLE IF NOT EXISTS tags (
	tag_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id   TEXT NOT NULL REFERENCES documents(doc_id),
	tag_name TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tags_doc_id ON tags(doc_id);
CREATE INDEX IF NOT EXISTS idx_tags_tag_name ON tags(tag_name);

CREATE TABLE IF NOT EXISTS backlinks (
	link_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	source_doc_id TEXT NOT NULL REFERENCES documents(doc_id),
	target_page   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backlinks_source ON backlinks(source_doc_id);
CREATE INDEX IF NOT EXISTS idx_backlinks_target ON backlinks(target_page);
`

// Store is a SQLite-backed metadata store. One open connection per instance;
// writes are serialized by the mutex and by SQLite's single-writer property.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open creates or opens the metadata database at path, creating the schema
// if absent.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nerrors.Wrap(nerrors.ErrCodeFilePermission, err)
		}
	}

	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.ErrCodeCorruptIndex, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, nerrors.Wrap(nerrors.ErrCodeCorruptIndex, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, nerrors.Wrap(nerrors.ErrCodeCorruptIndex, err)
	}

	return &Store{db: db, path: path}, nil
}

// Exists reports whether a metadata database file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Reset deletes every row from all four tables. build_index calls this
// before repopulating so that files removed from the corpus since the last
// build do not leave orphaned rows behind (the spec's full-rebuild model has
// no other mechanism to detect deletions).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	defer tx.Rollback()

	for _, table := range []string{"backlinks", "tags", "chunks", "documents"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
		}
	}
	return tx.Commit()
}

// InsertDocument upserts a document row, keyed by doc_id. Time-typed
// metadata values are expected to already be ISO-8601 strings (the parser's
// responsibility); the map is serialized as-is.
func (s *Store) InsertDocument(ctx context.Context, doc Document) error {
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, file_path, title, created_at, modified_at, content_hash, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			file_path = excluded.file_path,
			title = excluded.title,
			created_at = excluded.created_at,
			modified_at = excluded.modified_at,
			content_hash = excluded.content_hash,
			metadata_json = excluded.metadata_json`,
		doc.DocID, doc.FilePath, doc.Title,
		doc.CreatedAt.UTC().Format(time.RFC3339), doc.ModifiedAt.UTC().Format(time.RFC3339),
		doc.ContentHash, string(metaJSON))
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	return nil
}

// InsertChunks replaces every chunk row belonging to docID with chunks, in a
// single transaction (delete-then-insert).
func (s *Store) InsertChunks(ctx context.Context, docID string, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", docID); err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, doc_id, content, chunk_index, start_pos, end_pos)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.DocID, c.Content, c.ChunkIndex, c.StartPos, c.EndPos); err != nil {
			return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	return nil
}

// InsertTags replaces every tag row for docID with tags, committed together.
func (s *Store) InsertTags(ctx context.Context, docID string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE doc_id = ?", docID); err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, "INSERT INTO tags (doc_id, tag_name) VALUES (?, ?)", docID, t); err != nil {
			return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	return nil
}

// InsertBacklinks replaces every backlink row sourced from docID, committed
// together.
func (s *Store) InsertBacklinks(ctx context.Context, docID string, targets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM backlinks WHERE source_doc_id = ?", docID); err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	for _, target := range targets {
		if _, err := tx.ExecContext(ctx, "INSERT INTO backlinks (source_doc_id, target_page) VALUES (?, ?)", docID, target); err != nil {
			return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nerrors.Wrap(nerrors.ErrCodeIndexFailed, err)
	}
	return nil
}

// GetChunk fetches a chunk row by chunk_id.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, doc_id, content, chunk_index, start_pos, end_pos
		FROM chunks WHERE chunk_id = ?`, chunkID)

	var c Chunk
	if err := row.Scan(&c.ChunkID, &c.DocID, &c.Content, &c.ChunkIndex, &c.StartPos, &c.EndPos); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, nerrors.Wrap(nerrors.ErrCodeSearchFailed, err)
	}
	return &c, nil
}

// GetChunkByIndex fetches the chunk at chunkIndex within docID, or nil if
// that index does not exist (used by context expansion to stop at the first
// missing neighbour).
func (s *Store) GetChunkByIndex(ctx context.Context, docID string, chunkIndex int) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, doc_id, content, chunk_index, start_pos, end_pos
		FROM chunks WHERE doc_id = ? AND chunk_index = ?`, docID, chunkIndex)

	var c Chunk
	if err := row.Scan(&c.ChunkID, &c.DocID, &c.Content, &c.ChunkIndex, &c.StartPos, &c.EndPos); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, nerrors.Wrap(nerrors.ErrCodeSearchFailed, err)
	}
	return &c, nil
}

// GetDocument fetches a document row by doc_id.
func (s *Store) GetDocument(ctx context.Context, docID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, file_path, title, created_at, modified_at, content_hash, metadata_json
		FROM documents WHERE doc_id = ?`, docID)

	var d Document
	var createdAt, modifiedAt, metaJSON string
	if err := row.Scan(&d.DocID, &d.FilePath, &d.Title, &createdAt, &modifiedAt, &d.ContentHash, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, nerrors.Wrap(nerrors.ErrCodeSearchFailed, err)
	}

	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.ModifiedAt, _ = time.Parse(time.RFC3339, modifiedAt)
	d.Metadata = map[string]any{}
	_ = json.Unmarshal([]byte(metaJSON), &d.Metadata)

	return &d, nil
}

// GetTags returns every tag name attached to docID.
func (s *Store) GetTags(ctx context.Context, docID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT tag_name FROM tags WHERE doc_id = ?", docID)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.ErrCodeSearchFailed, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, nerrors.Wrap(nerrors.ErrCodeSearchFailed, err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetBacklinks returns every backlink target recorded for docID.
func (s *Store) GetBacklinks(ctx context.Context, docID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT target_page FROM backlinks WHERE source_doc_id = ?", docID)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.ErrCodeSearchFailed, err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, nerrors.Wrap(nerrors.ErrCodeSearchFailed, err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// Stats reports document count, chunk count, and distinct tag count.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&stats.DocumentCount); err != nil {
		return stats, nerrors.Wrap(nerrors.ErrCodeSearchFailed, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&stats.ChunkCount); err != nil {
		return stats, nerrors.Wrap(nerrors.ErrCodeSearchFailed, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT tag_name) FROM tags").Scan(&stats.TagCount); err != nil {
		return stats, nerrors.Wrap(nerrors.ErrCodeSearchFailed, err)
	}
	return stats, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
