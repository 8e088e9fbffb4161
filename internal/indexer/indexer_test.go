package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haruki-endo/notemind/internal/embed"
	"github.com/haruki-endo/notemind/internal/metadata"
)

func fakeEmbedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type datum struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]datum, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(i + 1)
			data[i] = datum{Index: i, Embedding: vec}
		}
		_ = json.NewEncoder(w).Encode(struct {
			Data []datum `json:"data"`
		}{Data: data})
	}))
}

func writeNote(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestBuildIndex_EndToEnd(t *testing.T) {
	notesDir := t.TempDir()
	writeNote(t, notesDir, "alpha.md", "---\ntitle: Alpha Notes\n---\n# Alpha\n\nThis links to [[Beta]] and has a #golang tag.\n")
	writeNote(t, notesDir, "beta.md", "# Beta\n\nJust some plain prose about beta with no links.\n")
	writeNote(t, notesDir, "ignored.txt", "not markdown")

	srv := fakeEmbedServer(t, 4)
	defer srv.Close()

	store, err := metadata.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer store.Close()

	embedder := embed.New(embed.Config{Endpoint: srv.URL, Model: "m", Dimensions: 4, BatchSize: 10, MaxConcurrent: 2}, nil, nil)

	cfg := Config{
		NotesDir:        notesDir,
		ChunkSize:       300,
		ChunkOverlap:    80,
		MinChunkSize:    1,
		Dimensions:      4,
		VectorIndexPath: filepath.Join(t.TempDir(), "vectors.idx"),
	}
	ix := New(cfg, store, embedder, nil)

	stats, err := ix.BuildIndex(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.DocumentCount)
	require.Equal(t, 2, stats.ChunkCount)

	idx, err := ix.LoadIndex()
	require.NoError(t, err)
	require.Equal(t, 2, idx.Size())

	dbStats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, dbStats.ChunkCount, idx.Size())

	require.False(t, IsIndexExists(filepath.Join(t.TempDir(), "missing.db"), cfg.VectorIndexPath))
}

func TestBuildIndex_SkipsExcludedFiles(t *testing.T) {
	notesDir := t.TempDir()
	writeNote(t, notesDir, "keep.md", "Some prose long enough to be a chunk on its own, easily.\n")
	require.NoError(t, os.MkdirAll(filepath.Join(notesDir, "archive"), 0o755))
	writeNote(t, filepath.Join(notesDir, "archive"), "old.md", "Archived note that should be excluded by pattern.\n")

	srv := fakeEmbedServer(t, 2)
	defer srv.Close()

	store, err := metadata.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer store.Close()

	embedder := embed.New(embed.Config{Endpoint: srv.URL, Model: "m", Dimensions: 2, BatchSize: 10, MaxConcurrent: 2}, nil, nil)

	cfg := Config{
		NotesDir:        notesDir,
		ExcludeGlobs:    []string{"archive/**"},
		ChunkSize:       300,
		ChunkOverlap:    80,
		MinChunkSize:    1,
		Dimensions:      2,
		VectorIndexPath: filepath.Join(t.TempDir(), "vectors.idx"),
	}
	ix := New(cfg, store, embedder, nil)

	stats, err := ix.BuildIndex(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.DocumentCount)
}

func TestBuildIndex_AbortsOnEmbedFailure(t *testing.T) {
	notesDir := t.TempDir()
	writeNote(t, notesDir, "a.md", "Some prose that will fail to embed because the server errors.\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store, err := metadata.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer store.Close()

	embedder := embed.New(embed.Config{Endpoint: srv.URL, Model: "m", Dimensions: 2, BatchSize: 10, MaxConcurrent: 1}, nil, nil)

	cfg := Config{
		NotesDir:        notesDir,
		ChunkSize:       300,
		ChunkOverlap:    80,
		MinChunkSize:    1,
		Dimensions:      2,
		VectorIndexPath: filepath.Join(t.TempDir(), "vectors.idx"),
	}
	ix := New(cfg, store, embedder, nil)

	_, err = ix.BuildIndex(context.Background())
	require.Error(t, err)

	dbStats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, dbStats.DocumentCount)
}
