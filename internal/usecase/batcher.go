package usecase

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"notesrag/internal/domain"
	"notesrag/internal/logging"
	"notesrag/internal/port"
	"notesrag/internal/telemetry"
)

// BatcherOptions configures an embedding Batcher.
type BatcherOptions struct {
	Model    string
	MaxItems int     // texts per request
	MaxChars int     // characters per request, 0 = unlimited
	Rate     float64 // requests per second, 0 = unlimited
	Retry    RetryPolicy
}

// Batcher embeds ordered sequences of texts through an EmbeddingService,
// splitting them into bounded sub-batches. The result is index-aligned
// with the input no matter how the service orders its response.
type Batcher struct {
	service port.EmbeddingService
	opts    BatcherOptions
	limiter *rate.Limiter
	retry   retrier
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// NewBatcher validates opts and creates a Batcher.
func NewBatcher(service port.EmbeddingService, opts BatcherOptions, logger *zap.Logger, metrics *telemetry.Metrics) (*Batcher, error) {
	if service == nil {
		return nil, domain.ConfigError("embedding service is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, domain.ConfigError("embedding model is required")
	}
	if opts.MaxItems <= 0 {
		return nil, domain.ConfigError("batch size must be positive, got %d", opts.MaxItems)
	}
	if opts.MaxChars < 0 {
		return nil, domain.ConfigError("batch character budget must not be negative")
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	logger = logging.OrNop(logger)

	return &Batcher{
		service: service,
		opts:    opts,
		limiter: limiter,
		retry:   retrier{policy: opts.Retry, logger: logger, metrics: metrics},
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Model returns the embedding model identifier.
func (b *Batcher) Model() string {
	return b.opts.Model
}

// Embed returns one vector per text, in input order.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, _, err := b.embed(ctx, texts)
	return vectors, err
}

// EmbedQuery embeds a single query string.
func (b *Batcher) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, _, err := b.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embed also reports how many requests were sent.
func (b *Batcher) embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	out := make([][]float32, 0, len(texts))
	dimension := 0
	batches := 0

	for _, span := range b.plan(texts) {
		if err := ctx.Err(); err != nil {
			return nil, batches, err
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, batches, err
		}

		batch := texts[span.start:span.end]
		start := time.Now()
		vectors, err := withRetry(ctx, b.retry, domain.StageEmbed, func(ctx context.Context) ([][]float32, error) {
			resp, err := b.service.EmbedBatch(ctx, b.opts.Model, batch)
			b.metrics.EmbeddingRequest(err, len(batch))
			if err != nil {
				return nil, err
			}
			return alignEmbeddings(resp, len(batch))
		})
		b.metrics.ObserveStage(string(domain.StageEmbed), time.Since(start).Seconds())
		batches++
		if err != nil {
			return nil, batches, err
		}

		for _, v := range vectors {
			if dimension == 0 {
				dimension = len(v)
			}
			if len(v) != dimension {
				return nil, batches, &domain.StageError{
					Stage: domain.StageEmbed,
					Cause: domain.IntegrityError("embedding dimension changed from %d to %d within one request sequence", dimension, len(v)),
				}
			}
		}
		out = append(out, vectors...)

		b.logger.Debug("embedded batch",
			zap.Int("texts", len(batch)),
			zap.Int("batch", batches),
			zap.Duration("elapsed", time.Since(start)))
	}

	return out, batches, nil
}

type batchSpan struct {
	start, end int
}

// plan splits texts into consecutive spans bounded by MaxItems and
// MaxChars. A single text over the character budget gets its own span.
func (b *Batcher) plan(texts []string) []batchSpan {
	var spans []batchSpan
	start, chars := 0, 0
	for i, t := range texts {
		n := utf8.RuneCountInString(t)
		full := i-start >= b.opts.MaxItems ||
			(b.opts.MaxChars > 0 && i > start && chars+n > b.opts.MaxChars)
		if full {
			spans = append(spans, batchSpan{start, i})
			start, chars = i, 0
		}
		chars += n
	}
	return append(spans, batchSpan{start, len(texts)})
}

// alignEmbeddings re-keys a response by each embedding's input position.
// Anything other than exactly one vector per input is an integrity error.
func alignEmbeddings(resp []port.Embedding, n int) ([][]float32, error) {
	if len(resp) != n {
		return nil, domain.IntegrityError("embedding service returned %d vectors for %d inputs", len(resp), n)
	}
	out := make([][]float32, n)
	dimension := 0
	for _, e := range resp {
		if e.Index < 0 || e.Index >= n {
			return nil, domain.IntegrityError("embedding index %d out of range for %d inputs", e.Index, n)
		}
		if out[e.Index] != nil {
			return nil, domain.IntegrityError("duplicate embedding for input %d", e.Index)
		}
		if len(e.Vector) == 0 {
			return nil, domain.IntegrityError("empty embedding for input %d", e.Index)
		}
		if dimension == 0 {
			dimension = len(e.Vector)
		}
		if len(e.Vector) != dimension {
			return nil, domain.IntegrityError("embedding for input %d has dimension %d, expected %d", e.Index, len(e.Vector), dimension)
		}
		out[e.Index] = e.Vector
	}
	return out, nil
}
