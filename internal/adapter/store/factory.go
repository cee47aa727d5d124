package store

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"notesrag/config"
	"notesrag/internal/domain"
	"notesrag/internal/port"
)

// Open builds the vector store selected by cfg.Backend. path is the
// resolved on-disk location for file-backed stores.
func Open(ctx context.Context, cfg config.StoreConfig, path, model string, dimension int, logger *zap.Logger) (port.VectorStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("backend", cfg.Backend))

	ensureParent := func() error {
		if path == "" {
			return nil
		}
		return os.MkdirAll(filepath.Dir(path), 0755)
	}

	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(model, dimension), nil
	case "bolt", "":
		if err := ensureParent(); err != nil {
			return nil, err
		}
		logger.Debug("opening bolt store", zap.String("path", path))
		return NewBoltStore(path, model, dimension)
	case "sqlite":
		if err := ensureParent(); err != nil {
			return nil, err
		}
		logger.Debug("opening sqlite store", zap.String("path", path))
		return NewSQLiteStore(ctx, path, cfg.Collection, model, dimension)
	case "chromem":
		logger.Debug("opening chromem store", zap.String("path", path), zap.String("collection", cfg.Collection))
		return NewChromemStore(path, cfg.Collection, dimension)
	case "qdrant":
		logger.Debug("connecting to qdrant",
			zap.String("host", cfg.Qdrant.Host),
			zap.Int("port", cfg.Qdrant.Port),
			zap.String("collection", cfg.Collection))
		var apiKey string
		if cfg.Qdrant.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.Qdrant.APIKeyEnv)
		}
		return NewQdrantStore(ctx, QdrantOptions{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     apiKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Collection,
		}, dimension)
	default:
		return nil, domain.ConfigError("unknown store backend %q", cfg.Backend)
	}
}
