package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/haruki-endo/notemind/internal/chatclient"
	"github.com/haruki-endo/notemind/internal/config"
	"github.com/haruki-endo/notemind/internal/embed"
	"github.com/haruki-endo/notemind/internal/embedcache"
	nerrors "github.com/haruki-endo/notemind/internal/errors"
	"github.com/haruki-endo/notemind/internal/indexer"
	"github.com/haruki-endo/notemind/internal/metadata"
	"github.com/haruki-endo/notemind/internal/retriever"
	"github.com/haruki-endo/notemind/internal/websearch"
)

// services holds every constructed component a subcommand might need, wired
// from a single loaded Config. Callers are responsible for calling Close.
type services struct {
	cfg       *config.Config
	store     *metadata.Store
	cache     *embedcache.Cache
	embedder  *embed.Client
	indexer   *indexer.Indexer
	retriever *retriever.Retriever
	logger    *slog.Logger
}

func (s *services) Close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// loadConfig loads the config file (if any), requires ARK_API_KEY to be set
// per spec.md §6, and returns the validated config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if cfg.Embeddings.APIKey == "" {
		return nil, nerrors.New(nerrors.ErrCodeConfigInvalid, "ARK_API_KEY environment variable is required", nil)
	}
	return cfg, nil
}

// bootstrap wires the full dependency graph: stores, embedding client, web
// adapter, chat client, indexer, and retriever. If the persisted index is
// missing, the retriever is left with no vector index until build_index
// runs (query paths return empty results rather than failing).
func bootstrap() (*services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	store, err := metadata.Open(cfg.Storage.MetadataDBPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	cache, err := embedcache.Open(cfg.Storage.EmbeddingCachePath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	embedder := embed.New(embed.Config{
		Endpoint:       cfg.Embeddings.Endpoint,
		APIKey:         cfg.Embeddings.APIKey,
		Model:          cfg.Embeddings.Model,
		Dimensions:     cfg.Embeddings.Dimensions,
		BatchSize:      cfg.Embeddings.BatchSize,
		MaxConcurrent:  cfg.Embeddings.MaxConcurrent,
		ConnectTimeout: cfg.Embeddings.ConnectTimeout,
		ReadTimeout:    cfg.Embeddings.ReadTimeout,
		WriteTimeout:   cfg.Embeddings.WriteTimeout,
		PoolTimeout:    cfg.Embeddings.PoolTimeout,
	}, cache, logger)

	web := websearch.New(cfg.Storage.WebCacheDir, logger)

	chat := chatclient.New(chatclient.Config{
		Endpoint:    cfg.Chat.Endpoint,
		APIKey:      cfg.Chat.APIKey,
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temperature,
		MaxTokens:   cfg.Chat.MaxTokens,
		Timeout:     cfg.Chat.Timeout,
	})

	ix := indexer.New(indexer.Config{
		NotesDir:        cfg.Notes.Directory,
		ExcludeGlobs:    cfg.Notes.ExcludeGlobs,
		ChunkSize:       cfg.Indexing.ChunkSize,
		ChunkOverlap:    cfg.Indexing.ChunkOverlap,
		MinChunkSize:    cfg.Indexing.MinChunkSize,
		Dimensions:      cfg.Embeddings.Dimensions,
		VectorIndexPath: cfg.Storage.VectorIndexPath,
	}, store, embedder, logger)

	r := retriever.New(retriever.Config{
		TotalResults:        cfg.Search.TotalResults,
		OversampleFactor:    cfg.Search.OversampleFactor,
		SimilarityThreshold: cfg.Search.SimilarityThreshold,
		ContextBefore:       cfg.Search.ContextBefore,
		ContextAfter:        cfg.Search.ContextAfter,
		TimeDecay: retriever.TimeDecayConfig{
			RecentMonths: cfg.Search.TimeDecay.RecentMonths,
			RecentBoost:  cfg.Search.TimeDecay.RecentBoost,
			OldYears:     cfg.Search.TimeDecay.OldYears,
			OldPenalty:   cfg.Search.TimeDecay.OldPenalty,
		},
	}, embedder, store, web, chat, logger)

	if indexer.IsIndexExists(cfg.Storage.MetadataDBPath, cfg.Storage.VectorIndexPath) {
		if idx, err := ix.LoadIndex(); err == nil {
			r.SetIndex(idx)
		} else {
			logger.Warn("failed to load persisted vector index", slog.String("error", err.Error()))
		}
	}

	return &services{cfg: cfg, store: store, cache: cache, embedder: embedder, indexer: ix, retriever: r, logger: logger}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
