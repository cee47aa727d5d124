package llm

import (
	"fmt"

	"notesrag/config"
	"notesrag/internal/port"
)

// NewEmbeddingService creates the embedding client for the configured
// provider and reports the vector dimension the store should expect.
func NewEmbeddingService(cfg config.EmbeddingConfig) (port.EmbeddingService, int, error) {
	if cfg.Provider == "mock" {
		m := NewMockEmbedder(cfg.Dimension)
		return m, m.Dimension(), nil
	}

	client, err := NewClient(ProviderConfig{
		Provider:  cfg.Provider,
		BaseURL:   cfg.BaseURL,
		APIKeyEnv: cfg.APIKeyEnv,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create embedder: %w", err)
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = KnownDimension(cfg.Model)
	}
	return NewEmbedder(client), dimension, nil
}

// NewCompletionService creates the chat client for the configured provider.
func NewCompletionService(cfg config.CompletionConfig) (port.CompletionService, error) {
	if cfg.Provider == "mock" {
		return EchoCompleter{}, nil
	}

	client, err := NewClient(ProviderConfig{
		Provider:  cfg.Provider,
		BaseURL:   cfg.BaseURL,
		APIKeyEnv: cfg.APIKeyEnv,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}
	return NewChat(client), nil
}
