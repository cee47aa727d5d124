package usecase

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"notesrag/internal/domain"
	"notesrag/internal/logging"
	"notesrag/internal/port"
	"notesrag/internal/telemetry"
)

// RetrieveUseCase handles similarity retrieval operations.
type RetrieveUseCase struct {
	batcher *Batcher
	store   port.VectorStore
	retry   retrier
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// NewRetrieveUseCase creates a new retrieve use case. The batcher must use
// the same embedding model the store was built with.
func NewRetrieveUseCase(
	batcher *Batcher,
	store port.VectorStore,
	retry RetryPolicy,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) *RetrieveUseCase {
	logger = logging.OrNop(logger)
	return &RetrieveUseCase{
		batcher: batcher,
		store:   store,
		retry:   retrier{policy: retry, logger: logger, metrics: metrics},
		logger:  logger,
		metrics: metrics,
	}
}

// Retrieve returns at most k stored chunks with similarity >= threshold,
// highest first. An empty result is not an error.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, query string, k int, threshold float64) ([]domain.RetrievalMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ConfigError("query must not be empty")
	}
	if k <= 0 {
		return nil, domain.ConfigError("k must be positive, got %d", k)
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, domain.ConfigError("threshold must be in [0, 1], got %g", threshold)
	}

	vector, err := u.batcher.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	candidates, err := withRetry(ctx, u.retry, domain.StageSearch, func(ctx context.Context) ([]domain.RetrievalMatch, error) {
		return u.store.Search(ctx, vector, k, threshold)
	})
	u.metrics.ObserveStage(string(domain.StageSearch), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	results := filterByThreshold(candidates, k, threshold)
	u.metrics.Retrieved(len(results))
	u.logger.Debug("retrieved",
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Int("k", k),
		zap.Float64("threshold", threshold))

	return results, nil
}

// filterByThreshold removes results below threshold, orders the rest by
// descending similarity keeping the store's order among equals, and keeps
// at most k.
func filterByThreshold(results []domain.RetrievalMatch, k int, threshold float64) []domain.RetrievalMatch {
	filtered := make([]domain.RetrievalMatch, 0, len(results))
	for _, r := range results {
		if r.Similarity >= threshold {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Similarity > filtered[j].Similarity
	})
	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered
}
