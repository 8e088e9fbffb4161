// Package config loads the notemind configuration once at startup from a
// YAML file plus environment variable overrides, and hands an immutable
// Config down to every component. No component reads the environment
// directly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	nerrors "github.com/haruki-endo/notemind/internal/errors"
)

// Config is the complete notemind configuration.
type Config struct {
	Notes      NotesConfig      `yaml:"notes" json:"notes"`
	Embeddings EmbeddingConfig  `yaml:"embeddings" json:"embeddings"`
	Chat       ChatConfig       `yaml:"chat" json:"chat"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Indexing   IndexingConfig   `yaml:"indexing" json:"indexing"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// NotesConfig locates the note corpus on disk.
type NotesConfig struct {
	// Directory is the root of the Markdown corpus to index.
	Directory string `yaml:"directory" json:"directory"`
	// IncludeGlobs is read from the config file but not consulted when
	// scanning: every .md/.markdown file not matched by ExcludeGlobs is indexed.
	IncludeGlobs []string `yaml:"include_globs" json:"include_globs"`
	// ExcludeGlobs are glob or suffix patterns skipped during scanning.
	ExcludeGlobs []string `yaml:"exclude_globs" json:"exclude_globs"`
}

// EmbeddingConfig configures the embedding client and its cache.
type EmbeddingConfig struct {
	Endpoint      string `yaml:"endpoint" json:"endpoint"`
	APIKey        string `yaml:"api_key" json:"-"`
	Model         string `yaml:"model" json:"model"`
	Dimensions    int    `yaml:"dimensions" json:"dimensions"`
	BatchSize     int    `yaml:"batch_size" json:"batch_size"`
	MaxConcurrent int    `yaml:"max_concurrent" json:"max_concurrent"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	PoolTimeout    time.Duration `yaml:"pool_timeout" json:"pool_timeout"`

	CacheSizeMB int `yaml:"cache_size_mb" json:"cache_size_mb"`
}

// ChatConfig configures the remote chat-completions endpoint.
type ChatConfig struct {
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	APIKey      string  `yaml:"api_key" json:"-"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// TimeDecayConfig tunes recency re-ranking of local search results, per
// spec.md §4.8: a flat boost for recently modified notes, a flat penalty
// for old ones, 1.0 in between.
type TimeDecayConfig struct {
	RecentMonths int     `yaml:"recent_months" json:"recent_months"`
	RecentBoost  float64 `yaml:"recent_boost" json:"recent_boost"`
	OldYears     int     `yaml:"old_years" json:"old_years"`
	OldPenalty   float64 `yaml:"old_penalty" json:"old_penalty"`
}

// SearchConfig configures retrieval behavior.
type SearchConfig struct {
	DefaultLocalRatio   float64         `yaml:"default_local_ratio" json:"default_local_ratio"`
	TotalResults        int             `yaml:"total_results" json:"total_results"`
	OversampleFactor    float64         `yaml:"oversample_factor" json:"oversample_factor"`
	SimilarityThreshold float64         `yaml:"similarity_threshold" json:"similarity_threshold"`
	ContextBefore       int             `yaml:"context_before" json:"context_before"`
	ContextAfter        int             `yaml:"context_after" json:"context_after"`
	TimeDecay           TimeDecayConfig `yaml:"time_decay" json:"time_decay"`
}

// IndexingConfig configures the markdown chunker and indexing pipeline.
type IndexingConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	MinChunkSize int `yaml:"min_chunk_size" json:"min_chunk_size"`
	Workers      int `yaml:"workers" json:"workers"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host        string   `yaml:"host" json:"host"`
	Port        int      `yaml:"port" json:"port"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// StorageConfig locates on-disk state (SQLite databases, vector index files).
type StorageConfig struct {
	DataDir           string `yaml:"data_dir" json:"data_dir"`
	MetadataDBPath    string `yaml:"metadata_db_path" json:"metadata_db_path"`
	EmbeddingCachePath string `yaml:"embedding_cache_path" json:"embedding_cache_path"`
	VectorIndexPath   string `yaml:"vector_index_path" json:"vector_index_path"`
	WebCacheDir       string `yaml:"web_cache_dir" json:"web_cache_dir"`
}

// Default returns the baseline configuration; Load overlays a YAML file and
// environment overrides on top of this.
func Default() *Config {
	dataDir := filepath.Join(".", ".notemind")
	return &Config{
		Notes: NotesConfig{
			Directory:    "./notes",
			ExcludeGlobs: []string{"**/.git/**", "**/node_modules/**", "**/.obsidian/**", "**/.trash/**"},
		},
		Embeddings: EmbeddingConfig{
			Endpoint:       "https://api.openai.com",
			Model:          "text-embedding-3-small",
			Dimensions:     1536,
			BatchSize:      32,
			MaxConcurrent:  6,
			ConnectTimeout: 30 * time.Second,
			ReadTimeout:    180 * time.Second,
			WriteTimeout:   60 * time.Second,
			PoolTimeout:    10 * time.Second,
			CacheSizeMB:    64,
		},
		Chat: ChatConfig{
			Endpoint:    "https://api.openai.com/v1/chat/completions",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
		},
		Search: SearchConfig{
			DefaultLocalRatio:   0.8,
			TotalResults:        20,
			OversampleFactor:    3.0,
			SimilarityThreshold: 0.2,
			ContextBefore:       3,
			ContextAfter:        2,
			TimeDecay: TimeDecayConfig{
				RecentMonths: 3,
				RecentBoost:  1.5,
				OldYears:     1,
				OldPenalty:   0.8,
			},
		},
		Indexing: IndexingConfig{
			ChunkSize:    300,
			ChunkOverlap: 80,
			MinChunkSize: 100,
			Workers:      4,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Storage: StorageConfig{
			DataDir:            dataDir,
			MetadataDBPath:     filepath.Join(dataDir, "metadata.db"),
			EmbeddingCachePath: filepath.Join(dataDir, "embedding_cache.db"),
			VectorIndexPath:    filepath.Join(dataDir, "vectors.idx"),
			WebCacheDir:        filepath.Join(dataDir, "web_cache"),
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file (if it exists at path) over the defaults,
// then applies environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, nerrors.Wrap(nerrors.ErrCodeConfigNotFound, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, nerrors.Wrap(nerrors.ErrCodeConfigInvalid, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NOTES_DIRECTORY"); v != "" {
		c.Notes.Directory = v
	}
	if v := os.Getenv("ARK_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
		c.Chat.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks invariants that every component relies on.
func (c *Config) Validate() error {
	if c.Notes.Directory == "" {
		return nerrors.New(nerrors.ErrCodeConfigInvalid, "notes.directory must be set", nil)
	}
	if c.Embeddings.Dimensions <= 0 {
		return nerrors.New(nerrors.ErrCodeConfigInvalid, "embeddings.dimensions must be positive", nil)
	}
	if c.Embeddings.BatchSize <= 0 {
		return nerrors.New(nerrors.ErrCodeConfigInvalid, "embeddings.batch_size must be positive", nil)
	}
	if c.Search.DefaultLocalRatio < 0 || c.Search.DefaultLocalRatio > 1 {
		return nerrors.New(nerrors.ErrCodeConfigInvalid, "search.default_local_ratio must be in [0,1]", nil)
	}
	if c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return nerrors.New(nerrors.ErrCodeConfigInvalid, "indexing.chunk_overlap must be smaller than chunk_size", nil)
	}
	return nil
}

// WriteYAML writes the configuration to path, creating parent directories as needed.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
