package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haruki-endo/notemind/internal/embedcache"
)

func TestClient_EmbedTexts_PreservesOrderAcrossBatchesAndReordersServerResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Server deliberately returns entries out of order; index field must
		// be used to restore the caller's order.
		data := make([]embeddingDatum, len(req.Input))
		for i, text := range req.Input {
			data[len(req.Input)-1-i] = embeddingDatum{
				Index:     i,
				Embedding: []float32{float32(len(text))},
			}
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse{Data: data})
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Model: "m", BatchSize: 2, MaxConcurrent: 2}, nil, nil)

	texts := []string{"a", "bb", "ccc", "dddd", "e"}
	vecs, err := client.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0])
	}
}

func TestClient_EmbedBatchCached_OnlyCallsAPIForMisses(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"t1"}, req.Input)

		_ = json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingDatum{{Index: 0, Embedding: []float32{9}}},
		})
	}))
	defer srv.Close()

	cache, err := embedcache.Open(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "t0", "m", []float32{1}))
	require.NoError(t, cache.Set(ctx, "t2", "m", []float32{3}))

	client := New(Config{Endpoint: srv.URL, Model: "m", BatchSize: 10, MaxConcurrent: 2}, cache, nil)

	vecs, err := client.EmbedTexts(ctx, []string{"t0", "t1", "t2"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1}, vecs[0])
	assert.Equal(t, []float32{9}, vecs[1])
	assert.Equal(t, []float32{3}, vecs[2])
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_EmbedBatchWithRetry_RetriesOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingDatum{{Index: 0, Embedding: []float32{1}}},
		})
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Model: "m", BatchSize: 10, MaxConcurrent: 1}, nil, nil)
	// Calls the unexported retry path directly; the retry waits are fixed,
	// so this test takes one real 5s rate-limit wait before succeeding.
	vecs, err := client.embedBatchWithRetry(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vecs[0])
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}
