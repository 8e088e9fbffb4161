package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haruki-endo/notemind/internal/chatclient"
	"github.com/haruki-endo/notemind/internal/embed"
	"github.com/haruki-endo/notemind/internal/indexer"
	"github.com/haruki-endo/notemind/internal/metadata"
	"github.com/haruki-endo/notemind/internal/retriever"
	"github.com/haruki-endo/notemind/internal/websearch"
)

func newTestServer(t *testing.T, chatEndpoint string) (*Server, *metadata.Store) {
	t.Helper()

	store, err := metadata.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	embedder := embed.New(embed.Config{Endpoint: "http://127.0.0.1:0", Model: "test-embed", Dimensions: 8}, nil, nil)
	web := websearch.New("", nil)
	chat := chatclient.New(chatclient.Config{Endpoint: chatEndpoint, Model: "test-chat"})

	r := retriever.New(retriever.Config{
		TotalResults:        20,
		OversampleFactor:    3,
		SimilarityThreshold: 0.2,
		ContextBefore:       3,
		ContextAfter:        2,
		TimeDecay:           retriever.TimeDecayConfig{RecentMonths: 3, RecentBoost: 1.5, OldYears: 1, OldPenalty: 0.8},
	}, embedder, store, web, chat, nil)

	vectorIndexPath := t.TempDir() + "/vectors.idx"
	ix := indexer.New(indexer.Config{NotesDir: t.TempDir(), Dimensions: 8, VectorIndexPath: vectorIndexPath}, store, embedder, nil)

	srv := New(Config{CORSOrigins: []string{"*"}, VectorIndexPath: vectorIndexPath}, r, ix, store, nil)
	return srv, store
}

func TestHandleHealth_ReturnsServiceInfo(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "notemind", body["service"])
	require.Equal(t, "ok", body["status"])
}

func TestHandleStatus_ReturnsZeroedStatsOnEmptyStore(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, float64(0), body["indexed_files"])
	require.Equal(t, float64(0), body["total_chunks"])
}

func TestHandleSearch_EmptyIndexReturnsEmptyResults(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/search?query=hello&local_ratio=1", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "hello", body["query"])
	require.Equal(t, float64(0), body["total"])
}

func TestHandleChat_StreamsDoneFrameEvenWithNoResults(t *testing.T) {
	chatUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer chatUpstream.Close()

	srv, _ := newTestServer(t, chatUpstream.URL)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat?query=hello&local_ratio=1", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil {
			break
		}
	}
	require.Contains(t, string(body), `"type":"done"`)
}

func TestHandleRebuildIndex_RejectsConcurrentRebuild(t *testing.T) {
	srv, _ := newTestServer(t, "")
	<-srv.mu // simulate a rebuild already in flight

	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/rebuild-index", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "busy", body["status"])
}

func TestParseLocalRatio_DefaultsAndClamps(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/search", nil)
	require.Equal(t, 0.8, parseLocalRatio(req))

	req = httptest.NewRequest(http.MethodPost, "/api/search?local_ratio=0.3", nil)
	require.Equal(t, 0.3, parseLocalRatio(req))

	req = httptest.NewRequest(http.MethodPost, "/api/search?local_ratio=nonsense", nil)
	require.Equal(t, 0.8, parseLocalRatio(req))
}
