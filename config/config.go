package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"notesrag/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. NOTESRAG_RETRIEVE__TOP_K.
const EnvPrefix = "NOTESRAG_"

// Config holds all configuration for the notes tool.
type Config struct {
	Corpus     CorpusConfig     `yaml:"corpus"`
	Index      IndexConfig      `yaml:"index"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Store      StoreConfig      `yaml:"store"`
	Retry      RetryConfig      `yaml:"retry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// CorpusConfig selects which files under the notes root are documents.
type CorpusConfig struct {
	Includes    []string `yaml:"includes"`
	Excludes    []string `yaml:"excludes"`
	TitleHeader bool     `yaml:"title_header"` // Prepend the note's base name to its content
}

// IndexConfig holds chunking and indexing configuration.
type IndexConfig struct {
	ChunkSize    int `yaml:"chunk_size"`    // characters
	ChunkOverlap int `yaml:"chunk_overlap"` // characters
	Workers      int `yaml:"workers"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider      string        `yaml:"provider"` // "openai", "mistral", "deepseek", "jina", "ollama", "mock"
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url"`
	APIKeyEnv     string        `yaml:"api_key_env"` // Environment variable for API key
	Dimension     int           `yaml:"dimension"`   // 0 = learn from the first response
	BatchSize     int           `yaml:"batch_size"`  // texts per request
	MaxBatchChars int           `yaml:"max_batch_chars"`
	RateLimit     float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Timeout       time.Duration `yaml:"timeout"`
}

// CompletionConfig holds chat completion configuration.
type CompletionConfig struct {
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	Temperature    float32       `yaml:"temperature"`
	ResponseFormat string        `yaml:"response_format"` // "text" or "json_object"
	Timeout        time.Duration `yaml:"timeout"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK          int           `yaml:"top_k"`
	Threshold     float64       `yaml:"threshold"`
	Separator     string        `yaml:"separator"`
	ContextBudget int           `yaml:"context_budget"` // characters, 0 = unlimited
	CacheSize     int           `yaml:"cache_size"`     // cached query embeddings, 0 = disabled
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	Backend    string       `yaml:"backend"` // "bolt", "sqlite", "chromem", "qdrant", "memory"
	Path       string       `yaml:"path"`    // relative paths resolve against the notes root
	Collection string       `yaml:"collection"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds the qdrant gRPC endpoint.
type QdrantConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKeyEnv string `yaml:"api_key_env"`
	UseTLS    bool   `yaml:"use_tls"`
}

// RetryConfig bounds retries of external calls.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Includes: []string{"**/*.md", "**/*.txt"},
			Excludes: []string{".obsidian/**", ".git/**", ".notesrag/**"},
		},
		Index: IndexConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Workers:      4,
		},
		Embedding: EmbeddingConfig{
			Provider:      "openai",
			Model:         "text-embedding-3-small",
			APIKeyEnv:     "OPENAI_API_KEY",
			BatchSize:     64,
			MaxBatchChars: 100000,
			Timeout:       30 * time.Second,
		},
		Completion: CompletionConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			Temperature:    0.6,
			ResponseFormat: "text",
			Timeout:        60 * time.Second,
		},
		Retrieve: RetrieveConfig{
			TopK:      5,
			Threshold: 0.75,
			Separator: "\n\n---\n\n",
			CacheSize: 256,
			CacheTTL:  10 * time.Minute,
		},
		Store: StoreConfig{
			Backend:    "bolt",
			Path:       filepath.Join(".notesrag", "index.db"),
			Collection: "notes",
			Qdrant: QdrantConfig{
				Host:      "localhost",
				Port:      6334,
				APIKeyEnv: "QDRANT_API_KEY",
			},
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			AttemptTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// envKey maps NOTESRAG_SECTION__FIELD_NAME to section.field_name.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Load loads configuration from a YAML file, then applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for notesrag.yaml,
// then .notesrag/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	for _, path := range []string{
		filepath.Join(dir, "notesrag.yaml"),
		filepath.Join(dir, ".notesrag", "config.yaml"),
	} {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	// Environment overrides still apply without a file.
	return Load(filepath.Join(dir, "notesrag.yaml"))
}

var (
	knownProviders = map[string]bool{"openai": true, "mistral": true, "deepseek": true, "jina": true, "ollama": true, "mock": true}
	knownBackends  = map[string]bool{"bolt": true, "sqlite": true, "chromem": true, "qdrant": true, "memory": true}
)

// Validate checks the configuration and returns an error wrapping
// domain.ErrConfiguration for the first problem found.
func (c *Config) Validate() error {
	switch {
	case c.Index.ChunkSize <= 0:
		return domain.ConfigError("index.chunk_size must be positive, got %d", c.Index.ChunkSize)
	case c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize:
		return domain.ConfigError("index.chunk_overlap must be in [0, chunk_size), got %d", c.Index.ChunkOverlap)
	case c.Index.Workers <= 0:
		return domain.ConfigError("index.workers must be positive, got %d", c.Index.Workers)
	case !knownProviders[c.Embedding.Provider]:
		return domain.ConfigError("unknown embedding provider %q", c.Embedding.Provider)
	case strings.TrimSpace(c.Embedding.Model) == "":
		return domain.ConfigError("embedding.model is required")
	case c.Embedding.BatchSize <= 0:
		return domain.ConfigError("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	case c.Embedding.Dimension < 0:
		return domain.ConfigError("embedding.dimension must not be negative")
	case !knownProviders[c.Completion.Provider]:
		return domain.ConfigError("unknown completion provider %q", c.Completion.Provider)
	case strings.TrimSpace(c.Completion.Model) == "":
		return domain.ConfigError("completion.model is required")
	case c.Completion.ResponseFormat != "text" && c.Completion.ResponseFormat != "json_object":
		return domain.ConfigError("completion.response_format must be text or json_object, got %q", c.Completion.ResponseFormat)
	case c.Retrieve.TopK <= 0:
		return domain.ConfigError("retrieve.top_k must be positive, got %d", c.Retrieve.TopK)
	case c.Retrieve.Threshold < 0 || c.Retrieve.Threshold > 1:
		return domain.ConfigError("retrieve.threshold must be in [0, 1], got %g", c.Retrieve.Threshold)
	case c.Retrieve.ContextBudget < 0:
		return domain.ConfigError("retrieve.context_budget must not be negative")
	case !knownBackends[c.Store.Backend]:
		return domain.ConfigError("unknown store backend %q", c.Store.Backend)
	case c.Retry.MaxAttempts <= 0:
		return domain.ConfigError("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	case c.Retry.AttemptTimeout <= 0:
		return domain.ConfigError("retry.attempt_timeout must be positive, got %s", c.Retry.AttemptTimeout)
	}
	return nil
}

// Fingerprint identifies the settings a persisted index depends on.
// A changed fingerprint means stored records must be rebuilt.
func (c *Config) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "chunk=%d/%d;title=%t;provider=%s;model=%s;dim=%d",
		c.Index.ChunkSize, c.Index.ChunkOverlap, c.Corpus.TitleHeader,
		c.Embedding.Provider, c.Embedding.Model, c.Embedding.Dimension)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// StorePath resolves the store path against the notes root.
func (c *Config) StorePath(dir string) string {
	if c.Store.Path == "" || filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(dir, c.Store.Path)
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureDataDir ensures the .notesrag directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".notesrag"), 0755)
}
