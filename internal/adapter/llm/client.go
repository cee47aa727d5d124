package llm

import (
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"notesrag/internal/domain"
)

// ProviderConfig selects an OpenAI-compatible endpoint.
type ProviderConfig struct {
	Provider  string
	BaseURL   string
	APIKeyEnv string
	Timeout   time.Duration
}

var defaultBaseURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"mistral":  "https://api.mistral.ai/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"jina":     "https://api.jina.ai/v1",
	"ollama":   "http://localhost:11434/v1",
}

// keyless providers run locally and accept any bearer token.
var keyless = map[string]bool{
	"ollama": true,
}

// NewClient builds a go-openai client for the configured provider. The API
// key is read from the environment variable named by APIKeyEnv.
func NewClient(cfg ProviderConfig) (*openai.Client, error) {
	provider := strings.ToLower(cfg.Provider)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		var ok bool
		baseURL, ok = defaultBaseURLs[provider]
		if !ok {
			return nil, domain.ConfigError("unsupported provider %q without base_url", cfg.Provider)
		}
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if apiKey == "" {
		if !keyless[provider] {
			return nil, domain.ConfigError("API key not found in environment variable: %s", cfg.APIKeyEnv)
		}
		apiKey = provider
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return openai.NewClientWithConfig(clientCfg), nil
}

// KnownDimension returns the vector size of well-known embedding models, or
// 0 when the model is not recognized.
func KnownDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "mistral-embed", "jina-embeddings-v3", "mxbai-embed-large":
		return 1024
	case "jina-embeddings-v4":
		return 2048
	case "nomic-embed-text":
		return 768
	case "all-minilm":
		return 384
	}
	return 0
}
