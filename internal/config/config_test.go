package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
retrieval:
  similarity: dot
  min_score: 0
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Retrieval.Similarity != "dot" {
		t.Errorf("similarity = %q, want dot", cfg.Retrieval.Similarity)
	}
	if got := cfg.Retrieval.MinScoreOrDefault(); got != 0 {
		t.Errorf("explicit min_score 0 should be kept, got %g", got)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/db/shiori.db"
  documents_dir: "./data/documents"
ingest:
  inbox_dir: "./inbox"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "db", "shiori.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "data", "documents"); cfg.Storage.DocumentsDir != want {
		t.Errorf("documents_dir = %s, want %s", cfg.Storage.DocumentsDir, want)
	}
	if want := filepath.Join(dir, "inbox"); cfg.Ingest.InboxDir != want {
		t.Errorf("inbox_dir = %s, want %s", cfg.Ingest.InboxDir, want)
	}
}

func TestLoad_memoryDatabaseNotExpanded(t *testing.T) {
	cfg, err := Parse([]byte("storage:\n  database_path: \":memory:\"\n"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DatabasePath != ":memory:" {
		t.Errorf("database_path = %q", cfg.Storage.DatabasePath)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("SHIORI_RETRIEVAL_MIN_SCORE", "0.35")
	t.Setenv("SHIORI_CHUNKING_MAX_TOKENS", "64")
	t.Setenv("SHIORI_DEBUG", "true")
	cfg, err := Parse([]byte("chunking:\n  max_tokens: 128\n"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Retrieval.MinScoreOrDefault(); got != 0.35 {
		t.Errorf("min_score = %g, want 0.35", got)
	}
	if cfg.Chunking.MaxTokens != 64 {
		t.Errorf("max_tokens = %d, want 64 (env wins over file)", cfg.Chunking.MaxTokens)
	}
	if !cfg.Debug {
		t.Error("debug should be enabled by SHIORI_DEBUG")
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown similarity", "retrieval:\n  similarity: euclid\n"},
		{"unknown backend", "storage:\n  backend: neo4j\n"},
		{"unknown provider", "embedding:\n  provider: openai\n"},
		{"negative dims", "embedding:\n  dimensions: -1\n"},
		{"top_k above max", "retrieval:\n  default_top_k: 10\n  max_top_k: 5\n"},
		{"keyword weight out of range", "retrieval:\n  keyword_weight: 2\n"},
		{"unknown exporter", "telemetry:\n  exporter: zipkin\n"},
		{"sample rate above one", "telemetry:\n  sample_rate: 1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.content), t.TempDir()); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SHIORI_DEBUG":                 "debug",
		"SHIORI_SERVER_PORT":           "server.port",
		"SHIORI_RETRIEVAL_MIN_SCORE":   "retrieval.min_score",
		"SHIORI_STORAGE_DATABASE_PATH": "storage.database_path",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("default dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Retrieval.Similarity != "cosine" {
		t.Errorf("default similarity: got %s", cfg.Retrieval.Similarity)
	}
	if cfg.Retrieval.MinScoreOrDefault() != DefaultMinScore {
		t.Errorf("default min score: got %g", cfg.Retrieval.MinScoreOrDefault())
	}
	if cfg.Ingest.DefaultFamily != "general" || cfg.Ingest.IDStrategy != "content" {
		t.Errorf("default ingest: %+v", cfg.Ingest)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := Default()
	cfg.Server.Port = 9090
	cfg.Storage.DatabasePath = "/tmp/db"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Storage.DatabasePath != "/tmp/db" {
		t.Errorf("loaded database_path: got %s", loaded.Storage.DatabasePath)
	}
}

func TestLoad_telemetry(t *testing.T) {
	content := `
telemetry:
  enabled: true
  exporter: otlp-http
  endpoint: "collector:4318"
  sample_rate: 0
  shutdown_timeout: 2s
`
	cfg, err := Parse([]byte(content), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tc := cfg.Telemetry
	if !tc.Enabled || tc.Exporter != "otlp-http" || tc.Endpoint != "collector:4318" {
		t.Errorf("unexpected telemetry config: %+v", tc)
	}
	if tc.SampleRate == nil || *tc.SampleRate != 0 {
		t.Errorf("explicit sample_rate 0 should be kept, got %v", tc.SampleRate)
	}
	if tc.ShutdownTimeout != 2*time.Second {
		t.Errorf("shutdown_timeout = %v, want 2s", tc.ShutdownTimeout)
	}
	if tc.ServiceName != "shiori" {
		t.Errorf("default service name: got %q", tc.ServiceName)
	}

	def := Default().Telemetry
	if def.Enabled || def.Exporter != "otlp" || *def.SampleRate != 1 {
		t.Errorf("default telemetry: %+v", def)
	}
}
