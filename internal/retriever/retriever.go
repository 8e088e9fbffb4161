// Package retriever implements the Retriever (spec.md §4.8): hybrid local +
// web search, context-window expansion, time-decay and title-boost
// rescoring, fusion of the two channels, citation formatting, and
// answer-prompt assembly. Grounded on the teacher's fan-out-then-merge
// shape in internal/search/fusion.go, generalized from BM25+vector fusion
// to local-vector+web-search fusion, and on
// original_source/backend/services/retriever.py's hybrid_search method
// for the exact scoring pipeline spec.md §4.8 describes.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haruki-endo/notemind/internal/chatclient"
	"github.com/haruki-endo/notemind/internal/embed"
	"github.com/haruki-endo/notemind/internal/metadata"
	"github.com/haruki-endo/notemind/internal/vectorindex"
	"github.com/haruki-endo/notemind/internal/websearch"
)

// Config tunes retrieval behavior (mirrors config.SearchConfig).
type Config struct {
	TotalResults        int
	OversampleFactor    float64
	SimilarityThreshold float64
	ContextBefore       int
	ContextAfter        int
	TimeDecay           TimeDecayConfig
}

// Retriever wires the embedding client, vector index, metadata store, web
// adapter, and chat client into the hybrid-search pipeline.
type Retriever struct {
	cfg      Config
	embedder *embed.Client
	store    *metadata.Store
	web      *websearch.Adapter
	chat     *chatclient.Client
	logger   *slog.Logger

	index atomic.Pointer[vectorindex.Index]
}

// New constructs a Retriever. The vector index is set separately via
// SetIndex so it can be swapped atomically after each rebuild.
func New(cfg Config, embedder *embed.Client, store *metadata.Store, web *websearch.Adapter, chat *chatclient.Client, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{cfg: cfg, embedder: embedder, store: store, web: web, chat: chat, logger: logger}
}

// SetIndex atomically swaps the vector index consulted by local search.
// After Save()+SetIndex, the index is treated as immutable until the next
// rebuild, per spec.md §5.
func (r *Retriever) SetIndex(idx *vectorindex.Index) {
	r.index.Store(idx)
}

// HybridSearch splits a budget of cfg.TotalResults between local and web
// search according to localRatio, runs both channels concurrently (skipping
// a channel whose share is zero), and returns each channel's results
// un-merged so the streaming facade can report per-channel counts.
func (r *Retriever) HybridSearch(ctx context.Context, query string, localRatio float64) (local, web []Result, err error) {
	total := r.cfg.TotalResults
	if total <= 0 {
		total = 20
	}
	localK := int(math.Floor(float64(total) * localRatio))
	webK := int(math.Floor(float64(total) * (1 - localRatio)))

	g, gctx := errgroup.WithContext(ctx)

	if localK > 0 {
		g.Go(func() error {
			res, lerr := r.LocalSearch(gctx, query, localK)
			if lerr != nil {
				return lerr
			}
			local = res
			return nil
		})
	}
	if webK > 0 {
		g.Go(func() error {
			web = convertWebResults(r.web.Search(gctx, query, webK))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return local, web, nil
}

// WebSearch runs only the web-search channel, for callers (the streaming
// facade) that need to report the two channels' tool_call frames in a fixed
// sequence rather than run them concurrently.
func (r *Retriever) WebSearch(ctx context.Context, query string, k int) []Result {
	return convertWebResults(r.web.Search(ctx, query, k))
}

// webResultScore is the fixed score assigned to every web hit (web hits are
// not re-ranked by time decay or title boost), matching
// original_source/backend/services/retriever.py's hybrid_search.
const webResultScore = 0.5

// convertWebResults adapts websearch.Result hits into retriever.Result.
func convertWebResults(hits []websearch.Result) []Result {
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{
			Content:   h.Content,
			Title:     h.Title,
			URL:       h.URL,
			Score:     webResultScore,
			Source:    SourceWeb,
			CreatedAt: h.FetchedAt,
		}
	}
	return out
}

// LocalSearch embeds query, oversamples the vector index, filters by
// similarity threshold, expands context, rescores by time decay and title
// boost, and returns the top k results by descending final score.
func (r *Retriever) LocalSearch(ctx context.Context, query string, k int) ([]Result, error) {
	idx := r.index.Load()
	if idx == nil || idx.IsEmpty() {
		return nil, nil
	}

	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	oversample := r.cfg.OversampleFactor
	if oversample <= 0 {
		oversample = 3.0
	}
	candidateCount := int(math.Ceil(float64(k) * oversample))
	hits, err := idx.Search(queryVec, candidateCount)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var results []Result
	for _, hit := range hits {
		if float64(hit.Score) < r.cfg.SimilarityThreshold {
			continue
		}

		chunk, err := r.store.GetChunk(ctx, hit.ChunkID)
		if err != nil || chunk == nil {
			continue
		}
		doc, err := r.store.GetDocument(ctx, chunk.DocID)
		if err != nil || doc == nil {
			continue
		}

		extended, err := r.expandContext(ctx, chunk)
		if err != nil {
			extended = chunk.Content
		}

		tags, _ := r.store.GetTags(ctx, doc.DocID)
		backlinks, _ := r.store.GetBacklinks(ctx, doc.DocID)

		timeWeight := TimeDecayWeight(r.cfg.TimeDecay, doc.ModifiedAt, now)
		boost := TitleBoost(query, doc.Title)
		finalScore := float64(hit.Score) * timeWeight * boost

		results = append(results, Result{
			Content:   extended,
			FilePath:  doc.FilePath,
			Title:     doc.Title,
			Score:     finalScore,
			Source:    SourceLocal,
			ChunkID:   hit.ChunkID,
			Tags:      tags,
			Backlinks: backlinks,
			CreatedAt: doc.CreatedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// expandContext surrounds chunk with its neighbours in [index-before,
// index+after], clamped to existing indices and stopping at the first
// missing forward neighbour, concatenated with blank-line separators.
func (r *Retriever) expandContext(ctx context.Context, chunk *metadata.Chunk) (string, error) {
	before := r.cfg.ContextBefore
	after := r.cfg.ContextAfter

	startIdx := chunk.ChunkIndex - before
	if startIdx < 0 {
		startIdx = 0
	}

	var parts []string
	for i := startIdx; i <= chunk.ChunkIndex; i++ {
		c, err := r.store.GetChunkByIndex(ctx, chunk.DocID, i)
		if err != nil {
			return "", err
		}
		if c == nil {
			continue
		}
		parts = append(parts, c.Content)
	}

	for i := chunk.ChunkIndex + 1; i <= chunk.ChunkIndex+after; i++ {
		c, err := r.store.GetChunkByIndex(ctx, chunk.DocID, i)
		if err != nil {
			return "", err
		}
		if c == nil {
			break
		}
		parts = append(parts, c.Content)
	}

	return strings.Join(parts, "\n\n"), nil
}

// FormatCitations deduplicates results by file_path (local) or url (web),
// keeps the highest-scoring representative per key, and assigns 1-based ids
// in descending final-score order.
func FormatCitations(results []Result) []Citation {
	best := map[string]Result{}
	for _, res := range results {
		key := dedupeKey(res)
		if existing, ok := best[key]; !ok || res.Score > existing.Score {
			best[key] = res
		}
	}

	var deduped []Result
	for _, res := range best {
		deduped = append(deduped, res)
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].Score > deduped[j].Score })

	citations := make([]Citation, len(deduped))
	for i, res := range deduped {
		path := res.FilePath
		if res.Source == SourceWeb {
			path = res.URL
		}
		citations[i] = Citation{ID: i + 1, Title: res.Title, Path: path, Source: res.Source, Score: res.Score}
	}
	return citations
}

const systemPrompt = `You are a helpful assistant answering questions using the user's personal notes and, when useful, web search results. Prefer and prioritize the local notes over web sources; only rely on web results to fill gaps the notes don't cover. Cite the sources you use by title.`

// BuildAnswerPrompt assembles the chat messages: a fixed system message,
// then the top 5 local extended_content blocks (truncated to ~500 chars
// each) under a "local notes" heading, and the top 3 web contents
// (truncated to ~400 chars each) under a "web resources" heading.
func BuildAnswerPrompt(query string, local, web []Result) []chatclient.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", query)

	if len(local) > 0 {
		b.WriteString("## Local notes\n\n")
		for i, res := range local {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "- [%s] %s\n", res.Title, truncate(res.Content, 500))
		}
		b.WriteString("\n")
	}

	if len(web) > 0 {
		b.WriteString("## Web resources\n\n")
		for i, res := range web {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- [%s] %s\n", res.Title, truncate(res.Content, 400))
		}
		b.WriteString("\n")
	}

	b.WriteString("Answer the question using the sources above. Prefer local notes over web resources when both are relevant.")

	return []chatclient.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GenerateAnswer obtains the full assistant answer over local+web context.
// On chat-API failure it falls back to a deterministic assembly over the
// retrieved results (spec.md §7), which is still returned as plain text for
// the caller to fragment and stream.
func (r *Retriever) GenerateAnswer(ctx context.Context, query string, local, web []Result) string {
	messages := BuildAnswerPrompt(query, local, web)
	answer, err := r.chat.Complete(ctx, messages)
	if err != nil {
		r.logger.Warn("chat completion failed, falling back to deterministic assembly", slog.String("error", err.Error()))
		return fallbackAnswer(query, local, web)
	}
	return answer
}

// fallbackAnswer assembles a deterministic text answer directly from the
// retrieved results when the chat API is unavailable.
func fallbackAnswer(query string, local, web []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is what your notes say about \"%s\":\n\n", query)
	for i, res := range local {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "From \"%s\": %s\n\n", res.Title, truncate(res.Content, 500))
	}
	for i, res := range web {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "From %s: %s\n\n", res.Title, truncate(res.Content, 400))
	}
	if len(local) == 0 && len(web) == 0 {
		b.WriteString("No relevant notes or web results were found.")
	}
	return b.String()
}
