package cli

import (
	"context"
	"fmt"
	"os"

	"notesrag/config"
	"notesrag/internal/adapter/cache"
	"notesrag/internal/adapter/llm"
	"notesrag/internal/adapter/store"
	"notesrag/internal/port"
	"notesrag/internal/telemetry"
	"notesrag/internal/usecase"
)

func retryPolicy(cfg *config.Config) usecase.RetryPolicy {
	return usecase.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
	}
}

func newBatcher(cfg *config.Config, service port.EmbeddingService, metrics *telemetry.Metrics) (*usecase.Batcher, error) {
	return usecase.NewBatcher(service, usecase.BatcherOptions{
		Model:    cfg.Embedding.Model,
		MaxItems: cfg.Embedding.BatchSize,
		MaxChars: cfg.Embedding.MaxBatchChars,
		Rate:     cfg.Embedding.RateLimit,
		Retry:    retryPolicy(cfg),
	}, GetLogger(), metrics)
}

func openStore(ctx context.Context, cfg *config.Config, dir string, dimension int) (port.VectorStore, error) {
	st, err := store.Open(ctx, cfg.Store, cfg.StorePath(dir), cfg.Embedding.Model, dimension, GetLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	return st, nil
}

// newRetriever wires the query side: a cached embedding client, the store
// and the retrieve use case. The caller closes the returned store.
func newRetriever(ctx context.Context, cfg *config.Config, dir string) (*usecase.RetrieveUseCase, port.VectorStore, error) {
	service, dimension, err := llm.NewEmbeddingService(cfg.Embedding)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Retrieve.CacheSize > 0 {
		service = cache.NewCachedEmbedder(service, cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL)
	}

	batcher, err := newBatcher(cfg, service, nil)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(ctx, cfg, dir, dimension)
	if err != nil {
		return nil, nil, err
	}
	return usecase.NewRetrieveUseCase(batcher, st, retryPolicy(cfg), GetLogger(), nil), st, nil
}

// ensureIndex fails early when a file-backed store has never been built.
func ensureIndex(cfg *config.Config, dir string) error {
	switch cfg.Store.Backend {
	case "", "bolt", "sqlite":
	default:
		return nil
	}
	if _, err := os.Stat(cfg.StorePath(dir)); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'notesrag index' first")
	}
	return nil
}
