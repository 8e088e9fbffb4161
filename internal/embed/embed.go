// Package embed implements the embedding HTTP client: batching, a
// concurrency-limiting gate, a cache-fronted batch operation, and the
// retry policy mandated for the remote embeddings endpoint. Grounded on the
// teacher's internal/embed/ollama.go connection-pooling shape (dedicated
// http.Transport, context-scoped per-request timeouts, no client-level
// Timeout) and on original_source/backend/services/embedder.py's batching
// and retry semantics.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/haruki-endo/notemind/internal/embedcache"
	nerrors "github.com/haruki-endo/notemind/internal/errors"
)

// Config configures the embedding client.
type Config struct {
	Endpoint      string
	APIKey        string
	Model         string
	Dimensions    int
	BatchSize     int
	MaxConcurrent int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PoolTimeout    time.Duration
}

// Client embeds text through a remote API, fronted by a persistent cache and
// gated by a bounded-concurrency semaphore.
type Client struct {
	cfg    Config
	cache  *embedcache.Cache
	http   *http.Client
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// New constructs a Client. cache may be nil to disable cache-fronting
// (useful in tests that only exercise HTTP behavior).
func New(cfg Config, cache *embedcache.Cache, logger *slog.Logger) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 6
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		cfg:    cfg,
		cache:  cache,
		http:   &http.Client{Transport: transport},
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: logger,
	}
}

// EmbedQuery embeds a single text and returns its vector.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds every text, preserving input order. The input is
// partitioned into batchSize slices, each slice dispatched through the
// cache-fronted batch operation under the concurrency semaphore; results
// are reassembled in original slice order regardless of completion order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := c.cfg.BatchSize
	var slices [][]string
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		slices = append(slices, texts[i:end])
	}

	results := make([][][]float32, len(slices))
	errs := make([]error, len(slices))

	done := make(chan int, len(slices))
	for i, slice := range slices {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func(idx int, batch []string) {
			defer c.sem.Release(1)
			vecs, err := c.embedBatchCached(ctx, batch)
			results[idx] = vecs
			errs[idx] = err
			done <- idx
		}(i, slice)
	}
	for range slices {
		<-done
	}

	var out [][]float32
	for i, err := range errs {
		if err != nil {
			return nil, err
		}
		out = append(out, results[i]...)
	}
	return out, nil
}

// embedBatchCached implements the cache-fronted batch operation: batch-get,
// collect misses, call the API for misses only, batch-set, stitch back into
// input order.
func (c *Client) embedBatchCached(ctx context.Context, texts []string) ([][]float32, error) {
	if c.cache == nil {
		return c.embedBatchWithRetry(ctx, texts)
	}

	cached, err := c.cache.GetBatch(ctx, texts, c.cfg.Model)
	if err != nil {
		return nil, err
	}

	var missTexts []string
	var missIdx []int
	for i, v := range cached {
		if v == nil {
			missTexts = append(missTexts, texts[i])
			missIdx = append(missIdx, i)
		}
	}

	if len(missTexts) == 0 {
		return cached, nil
	}

	missVecs, err := c.embedBatchWithRetry(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetBatch(ctx, missTexts, c.cfg.Model, missVecs); err != nil {
		c.logger.Warn("embedding cache write failed", slog.String("error", err.Error()))
	}

	for i, idx := range missIdx {
		cached[idx] = missVecs[i]
	}
	return cached, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingDatum struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Data []embeddingDatum `json:"data"`
}

// embedBatchWithRetry POSTs texts to the embeddings endpoint and retries per
// the spec's fixed per-kind delays: 429 sleeps 5*attempt seconds, read
// timeout sleeps 2s, other transient errors sleep 1s, up to 3 attempts.
func (c *Client) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		vecs, status, err := c.embedBatchOnce(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		var wait time.Duration
		switch {
		case status == http.StatusTooManyRequests:
			wait = time.Duration(5*attempt) * time.Second
		case isTimeout(err):
			wait = 2 * time.Second
		default:
			wait = 1 * time.Second
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, nerrors.Wrap(nerrors.ErrCodeEmbeddingFailed, lastErr)
}

func (c *Client) embedBatchOnce(ctx context.Context, texts []string) ([][]float32, int, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	timeout := c.cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req = req.WithContext(reqCtx)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, resp.StatusCode, fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, resp.StatusCode, err
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vecs[i] = d.Embedding
	}
	return vecs, resp.StatusCode, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return false
}
