package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearch_ParsesResultsForOverlongQuery(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>fetched page content here, collapsed and truncated.</body></html>"))
	}))
	defer page.Close()

	html := `<html><body>
		<div class="result">
			<a class="result__a" href="` + page.URL + `">Example Title</a>
			<a class="result__snippet">a short snippet</a>
		</div>
	</body></html>`
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(html))
	}))
	defer search.Close()

	a := newTestAdapter(t, search.URL)
	results := a.Search(context.Background(), strings.Repeat("q", 600), 5)
	require.Len(t, results, 1)
	require.Equal(t, "Example Title", results[0].Title)
	require.Equal(t, page.URL, results[0].URL)
	require.Contains(t, results[0].Content, "fetched page content")
}

func TestSearch_EmptyResultsPageYieldsNoResults(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body></body></html>"))
	}))
	defer search.Close()

	a := newTestAdapter(t, search.URL)
	results := a.Search(context.Background(), "anything", 0)
	require.Empty(t, results)
}

func TestSearch_EmptyQueryReturnsNothing(t *testing.T) {
	a := New("", nil)
	require.Empty(t, a.Search(context.Background(), "   ", 5))
}

func TestFetchContent_FallsBackToSnippetOnFailure(t *testing.T) {
	a := New("", nil)
	got := a.fetchContent(context.Background(), "http://127.0.0.1:1/unreachable", "fallback snippet")
	require.Equal(t, "fallback snippet", got)
}

// newTestAdapter returns an Adapter whose search client sends every request
// to searchURL (keeping the query string) through a custom RoundTripper,
// since the DuckDuckGo endpoint itself is not configurable.
func newTestAdapter(t *testing.T, searchURL string) *Adapter {
	t.Helper()
	a := New("", nil)
	a.http = &http.Client{Transport: redirectToTransport{target: searchURL}}
	return a
}

type redirectToTransport struct {
	target string
}

func (r redirectToTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u := req.URL
	newReq := req.Clone(req.Context())
	targetURL := r.target + "?" + u.RawQuery
	parsed, err := http.NewRequest(req.Method, targetURL, nil)
	if err != nil {
		return nil, err
	}
	newReq.URL = parsed.URL
	return http.DefaultTransport.RoundTrip(newReq)
}
