// Package embedcache provides a content-addressed, persistent cache mapping
// (text, model) to an embedding vector, backed by a single-file SQLite
// database. Grounded on the teacher's internal/store/sqlite_bm25.go
// (modernc.org/sqlite, WAL pragmas, single connection).
package embedcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	nerrors "github.com/haruki-endo/notemind/internal/errors"
)

// Cache is a SQLite-backed embedding cache. One open connection per instance.
type Cache struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS embedding_cache (
	content_hash TEXT NOT NULL,
	model        TEXT NOT NULL,
	embedding    BLOB NOT NULL,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (content_hash, model)
);`

// Open creates or opens the embedding cache database at path.
func Open(path string) (*Cache, error) {
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
		return nil, nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
	}

	return &Cache{db: db, path: path}, nil
}

// hashKey returns the sha256 hash of text, hex-encoded.
func hashKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached embedding for (text, model), or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, text, model string) (vec []float32, ok bool, err error) {
	results, err := c.GetBatch(ctx, []string{text}, model)
	if err != nil {
		return nil, false, err
	}
	if results[0] == nil {
		return nil, false, nil
	}
	return results[0], true, nil
}

// GetBatch looks up every text under model in a single query and re-expands
// the result into the caller's input order; a nil entry marks a miss.
func (c *Cache) GetBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	hashToIdx := map[string][]int{}
	placeholders := make([]string, 0, len(texts))
	args := make([]any, 0, len(texts)+1)
	for i, t := range texts {
		h := hashKey(t)
		hashToIdx[h] = append(hashToIdx[h], i)
		placeholders = append(placeholders, "?")
		args = append(args, h)
	}
	args = append(args, model)

	query := fmt.Sprintf(
		"SELECT content_hash, embedding FROM embedding_cache WHERE content_hash IN (%s) AND model = ?",
		join(placeholders, ","),
	)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			return nil, nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
		}
		vec := decodeVector(blob)
		for _, idx := range hashToIdx[hash] {
			out[idx] = vec
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
	}

	return out, nil
}

// Set upserts a single embedding, last-write-wins.
func (c *Cache) Set(ctx context.Context, text, model string, vec []float32) error {
	return c.SetBatch(ctx, []string{text}, model, [][]float32{vec})
}

// SetBatch upserts every (text, vector) pair under model in one transaction.
func (c *Cache) SetBatch(ctx context.Context, texts []string, model string, vecs [][]float32) error {
	if len(texts) != len(vecs) {
		return nerrors.New(nerrors.ErrCodeInvalidInput, "texts and vectors length mismatch", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedding_cache (content_hash, model, embedding, created_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(content_hash, model) DO UPDATE SET
			embedding = excluded.embedding, created_at = excluded.created_at`)
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
	}
	defer stmt.Close()

	for i, t := range texts {
		if _, err := stmt.ExecContext(ctx, hashKey(t), model, encodeVector(vecs[i])); err != nil {
			return nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
	}
	return nil
}

// Clear removes cached rows. If model is empty, the whole cache is cleared.
func (c *Cache) Clear(ctx context.Context, model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if model == "" {
		_, err = c.db.ExecContext(ctx, "DELETE FROM embedding_cache")
	} else {
		_, err = c.db.ExecContext(ctx, "DELETE FROM embedding_cache WHERE model = ?", model)
	}
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
	}
	return nil
}

// Stats returns the row count per model.
func (c *Cache) Stats(ctx context.Context) (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, "SELECT model, COUNT(*) FROM embedding_cache GROUP BY model")
	if err != nil {
		return nil, nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var model string
		var count int
		if err := rows.Scan(&model, &count); err != nil {
			return nil, nerrors.Wrap(nerrors.ErrCodeCacheCorrupt, err)
		}
		stats[model] = count
	}
	return stats, rows.Err()
}

// Close releases the underlying database connection.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
