// Package httpapi is the HTTP surface (spec.md §6): health, status, search,
// chat (SSE), and rebuild-index, served through a chi router. Grounded on
// the route registration shape in
// _examples/fbrzx-airplane-chat/internal/server/server.go (chi.NewRouter,
// middleware.RequestID/RealIP/Logger/Recoverer, cors.Handler, writeJSON
// helper) — the teacher itself carries no HTTP server, so this package is
// grounded on that sibling example repo instead, per DESIGN.md.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/haruki-endo/notemind/internal/indexer"
	"github.com/haruki-endo/notemind/internal/metadata"
	"github.com/haruki-endo/notemind/internal/retriever"
	"github.com/haruki-endo/notemind/internal/stream"
	"github.com/haruki-endo/notemind/pkg/version"
)

// Server wires the retrieval pipeline to HTTP handlers.
type Server struct {
	router          http.Handler
	retriever       *retriever.Retriever
	indexer         *indexer.Indexer
	store           *metadata.Store
	vectorIndexPath string
	fragmentSize    int
	fragmentDelay   time.Duration
	logger          *slog.Logger

	mu            chan struct{} // single-slot mutex for serialized rebuilds
	lastUpdate    time.Time
}

// Config configures a Server.
type Config struct {
	CORSOrigins     []string
	VectorIndexPath string
	FragmentSize    int
	FragmentDelay   time.Duration
}

// New constructs a Server and registers every route.
func New(cfg Config, r *retriever.Retriever, ix *indexer.Indexer, store *metadata.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FragmentSize <= 0 {
		cfg.FragmentSize = 10
	}
	if cfg.FragmentDelay <= 0 {
		cfg.FragmentDelay = 50 * time.Millisecond
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:          mux,
		retriever:       r,
		indexer:         ix,
		store:           store,
		vectorIndexPath: cfg.VectorIndexPath,
		fragmentSize:    cfg.FragmentSize,
		fragmentDelay:   cfg.FragmentDelay,
		logger:          logger,
		mu:              make(chan struct{}, 1),
	}
	s.mu <- struct{}{}

	mux.Get("/", s.handleHealth)
	mux.Get("/api/status", s.handleStatus)
	mux.Post("/api/search", s.handleSearch)
	mux.Post("/api/chat", s.handleChat)
	mux.Post("/api/rebuild-index", s.handleRebuildIndex)

	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "notemind",
		"status":  "ok",
		"version": version.Short(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	indexSizeMB := 0.0
	if fi, err := os.Stat(s.vectorIndexPath); err == nil {
		indexSizeMB = float64(fi.Size()) / (1024 * 1024)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"indexed_files":  stats.DocumentCount,
		"total_chunks":   stats.ChunkCount,
		"last_update":    formatTime(s.lastUpdate),
		"index_size_mb":  math.Round(indexSizeMB*100) / 100,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	localRatio := parseLocalRatio(r)

	local, web, err := s.retriever.HybridSearch(r.Context(), query, localRatio)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	merged := append(append([]retriever.Result{}, local...), web...)
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": merged,
		"total":   len(merged),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	localRatio := parseLocalRatio(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	enc := stream.NewEncoder(w)

	ctx := r.Context()
	total := 20
	localK := int(math.Floor(float64(total) * localRatio))
	webK := int(math.Floor(float64(total) * (1 - localRatio)))

	var local, web []retriever.Result

	if localK > 0 {
		_ = enc.ToolCall("local_search", "running", 0)
		res, err := s.retriever.LocalSearch(ctx, query, localK)
		if err != nil {
			s.logger.Warn("local search failed", slog.String("error", err.Error()))
		}
		local = res
		_ = enc.ToolCall("local_search", "completed", len(local))
	}

	if webK > 0 {
		_ = enc.ToolCall("web_search", "running", 0)
		web = s.retriever.WebSearch(ctx, query, webK)
		_ = enc.ToolCall("web_search", "completed", len(web))
	}

	answer := s.retriever.GenerateAnswer(ctx, query, local, web)
	for _, frag := range stream.Fragment(answer, s.fragmentSize) {
		if err := enc.Text(frag); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.fragmentDelay):
		}
	}

	citations := retriever.FormatCitations(append(append([]retriever.Result{}, local...), web...))
	citationData := make([]any, len(citations))
	for i, c := range citations {
		citationData[i] = c
	}
	_ = enc.Citations(citationData)
	_ = enc.Done()
}

func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.mu:
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "busy",
			"message": "a rebuild is already in progress",
		})
		return
	}
	defer func() { s.mu <- struct{}{} }()

	stats, err := s.indexer.BuildIndex(r.Context())
	if err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	idx, err := s.indexer.LoadIndex()
	if err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	s.retriever.SetIndex(idx)
	s.lastUpdate = time.Now().UTC()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "index rebuilt",
		"stats":   stats,
	})
}

func parseLocalRatio(r *http.Request) float64 {
	v := r.URL.Query().Get("local_ratio")
	if v == "" {
		return 0.8
	}
	ratio, err := strconv.ParseFloat(v, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 0.8
	}
	return ratio
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSONStatus(w, status, payload)
}

func writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits a 500 body tagged with a fresh correlation id so a user
// can reference a specific failure when reporting it, without the server
// needing to persist any request log to look it up.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSONStatus(w, status, map[string]any{"error": err.Error(), "error_id": uuid.NewString()})
}
