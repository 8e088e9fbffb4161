package indexer

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/haruki-endo/notemind/internal/embed"
	nerrors "github.com/haruki-endo/notemind/internal/errors"
	"github.com/haruki-endo/notemind/internal/metadata"
	"github.com/haruki-endo/notemind/internal/notes"
	"github.com/haruki-endo/notemind/internal/vectorindex"
)

// Config configures a single build_index run.
type Config struct {
	NotesDir        string
	ExcludeGlobs    []string
	ChunkSize       int
	ChunkOverlap    int
	MinChunkSize    int
	Dimensions      int
	VectorIndexPath string
}

// BuildStats summarizes a completed build.
type BuildStats struct {
	FilesScanned  int
	FilesSkipped  int
	DocumentCount int
	ChunkCount    int
	Duration      time.Duration
}

// Indexer orchestrates scan -> parse -> chunk -> embed -> persist.
type Indexer struct {
	cfg      Config
	store    *metadata.Store
	embedder *embed.Client
	parser   *notes.Parser
	logger   *slog.Logger
}

// New constructs an Indexer.
func New(cfg Config, store *metadata.Store, embedder *embed.Client, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{cfg: cfg, store: store, embedder: embedder, parser: notes.NewParser(), logger: logger}
}

type pendingDoc struct {
	doc    metadata.Document
	chunks []metadata.Chunk
	tags   []string
	links  []string
}

// BuildIndex scans the notes directory, parses and chunks every file,
// batch-embeds every chunk, and persists documents/chunks/tags/backlinks
// plus a freshly built vector index. A per-file parse error is logged and
// that file is skipped; a batch-embed failure aborts the whole build and
// leaves the previously saved vector index file untouched (the new index is
// only written after embedding succeeds).
func (ix *Indexer) BuildIndex(ctx context.Context) (BuildStats, error) {
	start := time.Now()
	var stats BuildStats

	relPaths, err := scanFiles(ix.cfg.NotesDir, ix.cfg.ExcludeGlobs)
	if err != nil {
		return stats, nerrors.Wrap(nerrors.ErrCodeFileNotFound, err)
	}
	stats.FilesScanned = len(relPaths)

	var docs []pendingDoc
	var allTexts []string
	var allChunkIDs []string

	for _, rel := range relPaths {
		fullPath := ix.cfg.NotesDir + "/" + rel

		content, meta, err := ix.parser.ParseFile(fullPath)
		if err != nil {
			ix.logger.Warn("skipping unparseable note", slog.String("path", rel), slog.String("error", err.Error()))
			stats.FilesSkipped++
			continue
		}

		backlinks := notes.ExtractBacklinks(content)
		tags := notes.ExtractTags(content)
		cleaned := notes.CleanContent(content)
		if cleaned == "" {
			continue
		}

		docID := md5Hex(rel)
		title, _ := meta["title"].(string)
		createdAt := parseMetaTime(meta, "created_at")
		modifiedAt := parseMetaTime(meta, "modified_at")

		spans := notes.Chunk(cleaned, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap, ix.cfg.MinChunkSize)
		if len(spans) == 0 {
			continue
		}

		pd := pendingDoc{
			doc: metadata.Document{
				DocID:       docID,
				FilePath:    rel,
				Title:       title,
				CreatedAt:   createdAt,
				ModifiedAt:  modifiedAt,
				ContentHash: sha256Hex(cleaned),
				Metadata:    meta,
			},
			tags:  tags,
			links: backlinks,
		}

		for i, span := range spans {
			chunkID := fmt.Sprintf("%s_chunk_%d", docID, i)
			pd.chunks = append(pd.chunks, metadata.Chunk{
				ChunkID:    chunkID,
				DocID:      docID,
				Content:    span.Text,
				ChunkIndex: i,
				StartPos:   span.Start,
				EndPos:     span.End,
			})
			allTexts = append(allTexts, span.Text)
			allChunkIDs = append(allChunkIDs, chunkID)
		}

		docs = append(docs, pd)
	}

	var vectors [][]float32
	if len(allTexts) > 0 {
		vectors, err = ix.embedder.EmbedTexts(ctx, allTexts)
		if err != nil {
			return stats, err
		}
	}

	idx := vectorindex.New(ix.cfg.Dimensions)
	if len(allChunkIDs) > 0 {
		if err := idx.Add(allChunkIDs, vectors); err != nil {
			return stats, err
		}
	}

	if err := ix.store.Reset(ctx); err != nil {
		return stats, err
	}

	for _, pd := range docs {
		if err := ix.store.InsertDocument(ctx, pd.doc); err != nil {
			return stats, err
		}
		if err := ix.store.InsertChunks(ctx, pd.doc.DocID, pd.chunks); err != nil {
			return stats, err
		}
		if err := ix.store.InsertTags(ctx, pd.doc.DocID, pd.tags); err != nil {
			return stats, err
		}
		if err := ix.store.InsertBacklinks(ctx, pd.doc.DocID, pd.links); err != nil {
			return stats, err
		}
		stats.DocumentCount++
		stats.ChunkCount += len(pd.chunks)
	}

	if err := idx.Save(ix.cfg.VectorIndexPath); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	ix.logger.Info("build_index complete",
		slog.Int("files_scanned", stats.FilesScanned),
		slog.Int("files_skipped", stats.FilesSkipped),
		slog.Int("documents", stats.DocumentCount),
		slog.Int("chunks", stats.ChunkCount),
		slog.Duration("duration", stats.Duration))

	return stats, nil
}

// LoadIndex loads the persisted vector index from disk.
func (ix *Indexer) LoadIndex() (*vectorindex.Index, error) {
	return vectorindex.Load(ix.cfg.VectorIndexPath)
}

// IsIndexExists reports whether both the metadata database and the vector
// index file are present on disk.
func IsIndexExists(metadataDBPath, vectorIndexPath string) bool {
	return metadata.Exists(metadataDBPath) && vectorindex.Exists(vectorIndexPath)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func parseMetaTime(meta map[string]any, key string) time.Time {
	if v, ok := meta[key].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
