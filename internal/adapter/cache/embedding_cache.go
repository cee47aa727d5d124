package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"notesrag/internal/port"
)

const (
	defaultSize = 100
	defaultTTL  = 5 * time.Minute
)

// CachedEmbedder serves single-text requests, which is how queries are
// embedded, from an LRU cache with a TTL. Everything else is forwarded to
// the wrapped service.
type CachedEmbedder struct {
	service port.EmbeddingService
	lru     *expirable.LRU[string, []float32]
}

func NewCachedEmbedder(service port.EmbeddingService, size int, ttl time.Duration) *CachedEmbedder {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CachedEmbedder{
		service: service,
		lru:     expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// cacheKey keys entries by model so vectors of different models never mix.
func cacheKey(model, query string) string {
	return model + "\x00" + query
}

func (e *CachedEmbedder) EmbedBatch(ctx context.Context, model string, inputs []string) ([]port.Embedding, error) {
	if len(inputs) != 1 {
		return e.service.EmbedBatch(ctx, model, inputs)
	}

	key := cacheKey(model, inputs[0])
	if vector, hit := e.lru.Get(key); hit {
		return []port.Embedding{{Index: 0, Vector: vector}}, nil
	}

	embeddings, err := e.service.EmbedBatch(ctx, model, inputs)
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 1 && embeddings[0].Index == 0 {
		e.lru.Add(key, embeddings[0].Vector)
	}
	return embeddings, nil
}

// Len returns the number of cached query vectors.
func (e *CachedEmbedder) Len() int {
	return e.lru.Len()
}
