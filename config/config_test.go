package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"notesrag/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Index.ChunkSize != 1000 {
		t.Errorf("expected ChunkSize=1000, got %d", cfg.Index.ChunkSize)
	}
	if cfg.Index.ChunkOverlap != 200 {
		t.Errorf("expected ChunkOverlap=200, got %d", cfg.Index.ChunkOverlap)
	}
	if cfg.Retrieve.TopK != 5 {
		t.Errorf("expected TopK=5, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Retrieve.Threshold != 0.75 {
		t.Errorf("expected Threshold=0.75, got %f", cfg.Retrieve.Threshold)
	}
	if cfg.Completion.Temperature != 0.6 {
		t.Errorf("expected Temperature=0.6, got %f", cfg.Completion.Temperature)
	}
	if cfg.Store.Backend != "bolt" {
		t.Errorf("expected bolt backend, got %s", cfg.Store.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config, got nil")
	}
	if cfg.Index.ChunkSize != 1000 {
		t.Errorf("expected default ChunkSize, got %d", cfg.Index.ChunkSize)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "notesrag.yaml")

	content := `
index:
  chunk_size: 400
  chunk_overlap: 50
retrieve:
  top_k: 10
  cache_ttl: 30s
embedding:
  provider: ollama
  model: nomic-embed-text
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Index.ChunkSize != 400 {
		t.Errorf("expected ChunkSize=400, got %d", cfg.Index.ChunkSize)
	}
	if cfg.Index.ChunkOverlap != 50 {
		t.Errorf("expected ChunkOverlap=50, got %d", cfg.Index.ChunkOverlap)
	}
	if cfg.Retrieve.TopK != 10 {
		t.Errorf("expected TopK=10, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Retrieve.CacheTTL != 30*time.Second {
		t.Errorf("expected CacheTTL=30s, got %v", cfg.Retrieve.CacheTTL)
	}
	if cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("expected model override, got %s", cfg.Embedding.Model)
	}
	// Untouched sections keep their defaults.
	if cfg.Completion.Temperature != 0.6 {
		t.Errorf("expected default Temperature, got %f", cfg.Completion.Temperature)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("NOTESRAG_RETRIEVE__TOP_K", "7")
	t.Setenv("NOTESRAG_STORE__BACKEND", "sqlite")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieve.TopK != 7 {
		t.Errorf("expected TopK=7 from env, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite backend from env, got %s", cfg.Store.Backend)
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".notesrag"), 0755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(tmpDir, ".notesrag", "config.yaml")

	content := `
retrieve:
  context_budget: 8000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Retrieve.ContextBudget != 8000 {
		t.Errorf("expected ContextBudget=8000, got %d", cfg.Retrieve.ContextBudget)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Index.ChunkSize = 0 }},
		{"overlap equals size", func(c *Config) { c.Index.ChunkOverlap = c.Index.ChunkSize }},
		{"negative overlap", func(c *Config) { c.Index.ChunkOverlap = -1 }},
		{"missing model", func(c *Config) { c.Embedding.Model = " " }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "voyage" }},
		{"zero k", func(c *Config) { c.Retrieve.TopK = 0 }},
		{"threshold above one", func(c *Config) { c.Retrieve.Threshold = 1.5 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }},
		{"bad response format", func(c *Config) { c.Completion.ResponseFormat = "xml" }},
		{"zero attempt timeout", func(c *Config) { c.Retry.AttemptTimeout = 0 }},
		{"negative attempt timeout", func(c *Config) { c.Retry.AttemptTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical configs should share a fingerprint")
	}

	b.Retrieve.TopK = 9
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("retrieval settings should not change the fingerprint")
	}

	b.Embedding.Model = "text-embedding-3-large"
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("embedding model should change the fingerprint")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notesrag.yaml")
	cfg := DefaultConfig()
	cfg.Index.ChunkSize = 640

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Index.ChunkSize != 640 {
		t.Errorf("expected ChunkSize=640, got %d", loaded.Index.ChunkSize)
	}
	if loaded.Embedding.Timeout != cfg.Embedding.Timeout {
		t.Errorf("expected timeout %v, got %v", cfg.Embedding.Timeout, loaded.Embedding.Timeout)
	}
}

func TestStorePath(t *testing.T) {
	cfg := DefaultConfig()
	expected := filepath.Join("/home/user/notes", ".notesrag", "index.db")
	if path := cfg.StorePath("/home/user/notes"); path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}
}
