// Package websearch implements the Web Search Adapter (spec.md §4.7): a
// region-fallback web search plus best-effort page-text extraction via
// goquery. Grounded on the teacher's HTTP-client conventions (dedicated
// transport, context-scoped timeouts) and on
// original_source/backend/services/web_search.py's region-retry and
// cache_dir fields, which the distilled spec drops but which this
// expansion restores as a small on-disk negative cache.
package websearch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Result is a single web search hit.
type Result struct {
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Snippet   string    `json:"snippet"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

const (
	maxQueryLen    = 500
	maxContentLen  = 1000
	negativeCacheTTL = time.Hour
)

// Adapter performs web search and best-effort page-text extraction.
type Adapter struct {
	http        *http.Client
	fetchClient *http.Client
	logger      *slog.Logger

	mu            sync.Mutex
	negativeCache map[string]time.Time
	cachePath     string
}

// New constructs an Adapter. cacheDir, if non-empty, persists the negative
// fetch cache to cacheDir/negative_cache.json across process restarts.
func New(cacheDir string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		http:          &http.Client{Timeout: 10 * time.Second},
		fetchClient:   &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
		negativeCache: map[string]time.Time{},
	}
	if cacheDir != "" {
		a.cachePath = filepath.Join(cacheDir, "negative_cache.json")
		a.loadNegativeCache()
	}
	return a
}

// Search performs a region-fallback web search for query, returning up to
// maxResults items. Any failure (network, parse) is logged and results in
// an empty slice rather than an error, per spec.md §7: the retriever must
// tolerate total web-search failure.
func (a *Adapter) Search(ctx context.Context, query string, maxResults int) []Result {
	query = strings.TrimSpace(query)
	if len(query) > maxQueryLen {
		query = query[:maxQueryLen]
	}
	if query == "" {
		return nil
	}

	switch {
	case maxResults < 1:
		maxResults = 1
	case maxResults > 10:
		maxResults = 10
	}

	results, err := a.searchRegion(ctx, query, "wt-wt", maxResults)
	if err != nil {
		a.logger.Warn("web search failed", slog.String("error", err.Error()))
		return nil
	}
	if len(results) == 0 {
		results, err = a.searchRegion(ctx, query, "us-en", maxResults)
		if err != nil {
			a.logger.Warn("web search english-region retry failed", slog.String("error", err.Error()))
			return nil
		}
	}

	for i := range results {
		results[i].Content = a.fetchContent(ctx, results[i].URL, results[i].Snippet)
	}
	return results
}

// searchRegion scrapes a DuckDuckGo HTML results page for the given region
// code ("wt-wt" is global, "us-en" is English).
func (a *Adapter) searchRegion(ctx context.Context, query, region string, maxResults int) ([]Result, error) {
	endpoint := "https://duckduckgo.com/html/?" + url.Values{"q": {query}, "kl": {region}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; notemind/1.0)")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(results) >= maxResults {
			return false
		}
		link := sel.Find(".result__a")
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(sel.Find(".result__snippet").Text())
		if title == "" || href == "" {
			return true
		}
		results = append(results, Result{
			Title:     title,
			URL:       resolveRedirect(href),
			Snippet:   snippet,
			Source:    "web",
			FetchedAt: time.Now().UTC(),
		})
		return true
	})
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's "/l/?uddg=<encoded-url>" redirector.
func resolveRedirect(href string) string {
	if u, err := url.Parse(href); err == nil {
		if target := u.Query().Get("uddg"); target != "" {
			if decoded, err := url.QueryUnescape(target); err == nil {
				return decoded
			}
		}
	}
	return href
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// fetchContent best-effort fetches pageURL, strips script/style, collapses
// whitespace, and truncates to maxContentLen. On any failure it returns
// fallback (the search snippet) instead.
func (a *Adapter) fetchContent(ctx context.Context, pageURL, fallback string) string {
	if a.isNegativelyCached(pageURL) {
		return fallback
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		a.markFailed(pageURL)
		return fallback
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; notemind/1.0)")

	resp, err := a.fetchClient.Do(req)
	if err != nil {
		a.markFailed(pageURL)
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		a.markFailed(pageURL)
		return fallback
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		a.markFailed(pageURL)
		return fallback
	}

	doc.Find("script, style, nav, footer").Remove()
	text := whitespaceRun.ReplaceAllString(strings.TrimSpace(doc.Text()), " ")
	if text == "" {
		return fallback
	}
	if len(text) > maxContentLen {
		text = text[:maxContentLen]
	}
	return text
}

func (a *Adapter) isNegativelyCached(pageURL string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	failedAt, ok := a.negativeCache[pageURL]
	return ok && time.Since(failedAt) < negativeCacheTTL
}

func (a *Adapter) markFailed(pageURL string) {
	a.mu.Lock()
	a.negativeCache[pageURL] = time.Now()
	a.mu.Unlock()
	a.saveNegativeCache()
}

func (a *Adapter) loadNegativeCache() {
	data, err := os.ReadFile(a.cachePath)
	if err != nil {
		return
	}
	var raw map[string]time.Time
	if json.Unmarshal(data, &raw) == nil {
		a.mu.Lock()
		a.negativeCache = raw
		a.mu.Unlock()
	}
}

func (a *Adapter) saveNegativeCache() {
	if a.cachePath == "" {
		return
	}
	a.mu.Lock()
	data, err := json.Marshal(a.negativeCache)
	a.mu.Unlock()
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(a.cachePath), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(a.cachePath, data, 0o644)
}
