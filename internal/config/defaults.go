package config

import (
	"fmt"
	"time"
)

// DefaultMinScore is the similarity threshold used when retrieval.min_score is unset.
const DefaultMinScore = 0.2

// Default returns a Config with every default applied. Paths are left at their
// install locations; tests override them.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 64 << 20
	}
	if cfg.Server.ViewerBase == "" {
		cfg.Server.ViewerBase = "/viewer"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite3"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shiori/data/db/shiori.db"
	}
	if cfg.Storage.DocumentsDir == "" {
		cfg.Storage.DocumentsDir = "/usr/local/var/shiori/data/documents"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/shiori/data/indices/bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/shiori/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Chunking.MaxTokens == 0 {
		cfg.Chunking.MaxTokens = 256
	}
	if cfg.Retrieval.Similarity == "" {
		cfg.Retrieval.Similarity = "cosine"
	}
	if cfg.Retrieval.DefaultTopK == 0 {
		cfg.Retrieval.DefaultTopK = 5
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 50
	}
	if cfg.Retrieval.MinScore == nil {
		v := DefaultMinScore
		cfg.Retrieval.MinScore = &v
	}
	if cfg.Citation.MaxChunks == 0 {
		cfg.Citation.MaxChunks = 5
	}
	if cfg.Citation.MaxSnippetsPerChunk == 0 {
		cfg.Citation.MaxSnippetsPerChunk = 2
	}
	if cfg.Citation.MaxSnippetChars == 0 {
		cfg.Citation.MaxSnippetChars = 300
	}
	if cfg.Ingest.IDStrategy == "" {
		cfg.Ingest.IDStrategy = "content"
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.DefaultFamily == "" {
		cfg.Ingest.DefaultFamily = "general"
	}
	if cfg.Ingest.Parser == "" {
		cfg.Ingest.Parser = "pdf"
	}
	if cfg.Ingest.DoclingCommand == "" {
		cfg.Ingest.DoclingCommand = "docling"
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = "otlp"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "shiori"
	}
	if cfg.Telemetry.SampleRate == nil {
		v := 1.0
		cfg.Telemetry.SampleRate = &v
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = 5 * time.Second
	}
}

// Validate rejects settings no component can honor.
func (c *Config) Validate() error {
	if err := oneOf("storage.backend", c.Storage.Backend, "sqlite", "memory"); err != nil {
		return err
	}
	if err := oneOf("storage.driver", c.Storage.Driver, "sqlite3", "sqlite"); err != nil {
		return err
	}
	if err := oneOf("embedding.provider", c.Embedding.Provider, "hash", "onnx", "fastembed"); err != nil {
		return err
	}
	if err := oneOf("retrieval.similarity", c.Retrieval.Similarity, "cosine", "dot"); err != nil {
		return err
	}
	if err := oneOf("ingest.id_strategy", c.Ingest.IDStrategy, "content", "uuid"); err != nil {
		return err
	}
	if err := oneOf("ingest.parser", c.Ingest.Parser, "pdf", "docling"); err != nil {
		return err
	}
	if err := oneOf("telemetry.exporter", c.Telemetry.Exporter, "otlp", "otlp-http"); err != nil {
		return err
	}
	if r := c.Telemetry.SampleRate; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("telemetry.sample_rate must be within [0,1], got %g", *r)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}
	if c.Retrieval.DefaultTopK > c.Retrieval.MaxTopK {
		return fmt.Errorf("retrieval.default_top_k (%d) exceeds max_top_k (%d)", c.Retrieval.DefaultTopK, c.Retrieval.MaxTopK)
	}
	if c.Retrieval.KeywordWeight < 0 || c.Retrieval.KeywordWeight > 1 {
		return fmt.Errorf("retrieval.keyword_weight must be within [0,1], got %g", c.Retrieval.KeywordWeight)
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported value %q (supported: %v)", field, value, allowed)
}
