// Package config provides configuration loading and structs for the shiori server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. SHIORI_RETRIEVAL_MIN_SCORE.
const EnvPrefix = "SHIORI_"

// Config holds all configuration for the application. It is passed explicitly to
// each component; nothing reads it from package state.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Citation  CitationConfig  `yaml:"citation"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	// ViewerBase is the path of the PDF viewer that evidence links point at.
	ViewerBase string `yaml:"viewer_base"`
}

// StorageConfig selects the graph store backend and its paths.
type StorageConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`
	// Driver is the database/sql driver name: "sqlite3" (mattn, cgo) or "sqlite" (modernc, pure Go).
	Driver         string `yaml:"driver"`
	DatabasePath   string `yaml:"database_path"`
	DocumentsDir   string `yaml:"documents_dir"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// EmbeddingConfig holds encoder settings.
type EmbeddingConfig struct {
	// Provider is "hash", "onnx" or "fastembed".
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	CacheDir   string `yaml:"cache_dir"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// ChunkingConfig holds chunk builder settings.
type ChunkingConfig struct {
	MaxTokens int `yaml:"max_tokens"`
}

// RetrievalConfig holds query-time ranking policy.
type RetrievalConfig struct {
	// Similarity is "cosine" or "dot"; fixed when the store is opened.
	Similarity  string   `yaml:"similarity"`
	DefaultTopK int      `yaml:"default_top_k"`
	MaxTopK     int      `yaml:"max_top_k"`
	MinScore    *float64 `yaml:"min_score"`
	// KeywordWeight > 0 blends bleve scores into the ranking of semantic candidates.
	KeywordWeight float64 `yaml:"keyword_weight"`
}

// MinScoreOrDefault returns the similarity threshold; DefaultMinScore when unset.
func (r *RetrievalConfig) MinScoreOrDefault() float64 {
	if r.MinScore != nil {
		return *r.MinScore
	}
	return DefaultMinScore
}

// CitationConfig holds extractive answer settings.
type CitationConfig struct {
	MaxChunks           int `yaml:"max_chunks"`
	MaxSnippetsPerChunk int `yaml:"max_snippets_per_chunk"`
	MaxSnippetChars     int `yaml:"max_snippet_chars"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	// IDStrategy is "content" (sha256 of the bytes) or "uuid".
	IDStrategy     string `yaml:"id_strategy"`
	InboxDir       string `yaml:"inbox_dir"`
	Workers        int    `yaml:"workers"`
	DefaultFamily  string `yaml:"default_family"`
	Parser         string `yaml:"parser"`
	DoclingCommand string `yaml:"docling_command"`
}

// TelemetryConfig controls span export. When disabled, spans are dropped.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "otlp" (gRPC) or "otlp-http".
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
	// SampleRate is the fraction of root traces kept, within [0,1].
	SampleRate      *float64      `yaml:"sample_rate"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads the YAML config at path, overlays SHIORI_* environment variables,
// applies defaults, expands paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse builds a Config from YAML bytes. Relative "./" paths resolve against configDir.
func Parse(data []byte, configDir string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), koanfyaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.DocumentsDir = expandPath(cfg.Storage.DocumentsDir, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Embedding.CacheDir = expandPath(cfg.Embedding.CacheDir, configDir)
	cfg.Ingest.InboxDir = expandPath(cfg.Ingest.InboxDir, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envKey maps SHIORI_RETRIEVAL_MIN_SCORE to retrieval.min_score: the first
// underscore separates the section, the rest stays in the field name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths and the
// SQLite ":memory:" name are returned unchanged.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
