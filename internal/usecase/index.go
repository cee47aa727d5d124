package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"notesrag/internal/domain"
	"notesrag/internal/logging"
	"notesrag/internal/port"
	"notesrag/internal/telemetry"
)

// IndexOptions configures an indexing run.
type IndexOptions struct {
	Workers int
	Retry   RetryPolicy

	// Prune deletes stored documents that are absent from the indexed
	// corpus. Only honored when the store can list its documents.
	Prune bool

	// Progress is called once per document as it finishes. It may be
	// called from several goroutines.
	Progress func(document string, err error)
}

// IndexUseCase turns documents into index records: split, embed, and
// optionally persist each document independently.
type IndexUseCase struct {
	splitter port.Splitter
	batcher  *Batcher
	store    port.VectorStore
	opts     IndexOptions
	retry    retrier
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

// NewIndexUseCase creates a new index use case. store may be nil, in which
// case records are only returned.
func NewIndexUseCase(
	splitter port.Splitter,
	batcher *Batcher,
	store port.VectorStore,
	opts IndexOptions,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) *IndexUseCase {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	logger = logging.OrNop(logger)
	return &IndexUseCase{
		splitter: splitter,
		batcher:  batcher,
		store:    store,
		opts:     opts,
		retry:    retrier{policy: opts.Retry, logger: logger, metrics: metrics},
		logger:   logger,
		metrics:  metrics,
	}
}

// documentResult is the outcome for a single document. Each worker writes
// only its own slot.
type documentResult struct {
	records []domain.IndexRecord
	chunks  int
	batches int
	failure *domain.DocumentFailure
}

// Index processes documents concurrently and reduces the outcomes in input
// order. A failed document never affects the records of another. When ctx
// is cancelled the partial report is returned together with ctx.Err().
func (u *IndexUseCase) Index(ctx context.Context, docs []domain.Document) (*domain.IndexReport, error) {
	if err := validateDocuments(docs); err != nil {
		return nil, err
	}

	results := make([]documentResult, len(docs))
	var g errgroup.Group
	g.SetLimit(u.opts.Workers)

	for i, doc := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = documentResult{failure: &domain.DocumentFailure{Document: doc.Name, Stage: domain.StageIndex, Err: err}}
				return nil
			}
			results[i] = u.indexDocument(ctx, doc)

			var docErr error
			if f := results[i].failure; f != nil {
				docErr = f.Err
			}
			u.metrics.DocumentIndexed(docErr == nil)
			if u.opts.Progress != nil {
				u.opts.Progress(doc.Name, docErr)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &domain.IndexReport{}
	for i, r := range results {
		if r.failure != nil {
			report.Failed = append(report.Failed, *r.failure)
			continue
		}
		report.Records = append(report.Records, r.records...)
		report.Indexed = append(report.Indexed, docs[i].Name)
		report.ChunkCount += r.chunks
		report.EmbedBatches += r.batches
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	if u.opts.Prune {
		pruned, err := u.prune(ctx, docs)
		if err != nil {
			return report, err
		}
		report.Pruned = pruned
	}

	u.logger.Info("indexing complete",
		zap.Int("indexed", len(report.Indexed)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("pruned", len(report.Pruned)),
		zap.Int("chunks", report.ChunkCount),
		zap.Int("batches", report.EmbedBatches))

	return report, nil
}

// indexDocument splits, embeds and persists one document.
func (u *IndexUseCase) indexDocument(ctx context.Context, doc domain.Document) documentResult {
	start := time.Now()
	fail := func(stage domain.Stage, err error) documentResult {
		u.logger.Warn("document failed",
			zap.String("document", doc.Name),
			zap.String("stage", string(stage)),
			zap.Error(err))
		return documentResult{failure: &domain.DocumentFailure{Document: doc.Name, Stage: stage, Err: err}}
	}

	chunks := u.splitter.Split(doc)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, batches, err := u.batcher.embed(ctx, texts)
	if err != nil {
		return fail(domain.StageEmbed, err)
	}
	if len(vectors) != len(chunks) {
		return fail(domain.StageEmbed, domain.IntegrityError("got %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	records := make([]domain.IndexRecord, len(chunks))
	for i, c := range chunks {
		records[i] = domain.IndexRecord{
			Document:  doc.Name,
			Sequence:  c.Sequence,
			Content:   c.Text,
			Embedding: vectors[i],
			Model:     u.batcher.Model(),
		}
	}

	if u.store != nil {
		if err := ctx.Err(); err != nil {
			return fail(domain.StageIndex, err)
		}
		_, err := withRetry(ctx, u.retry, domain.StageStore, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, u.store.ReplaceDocument(ctx, doc.Name, records)
		})
		if err != nil {
			return fail(domain.StageStore, err)
		}
	}

	u.logger.Debug("document indexed",
		zap.String("document", doc.Name),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)))

	return documentResult{records: records, chunks: len(chunks), batches: batches}
}

// prune removes stored documents that are not part of docs.
func (u *IndexUseCase) prune(ctx context.Context, docs []domain.Document) ([]string, error) {
	lister, ok := u.store.(port.DocumentLister)
	if !ok {
		return nil, nil
	}
	stored, err := lister.Documents(ctx)
	if err != nil {
		return nil, &domain.StageError{Stage: domain.StageStore, Cause: fmt.Errorf("failed to list documents: %w", err)}
	}

	current := make(map[string]bool, len(docs))
	for _, d := range docs {
		current[d.Name] = true
	}

	var pruned []string
	for _, name := range stored {
		if current[name] {
			continue
		}
		if err := u.store.DeleteDocument(ctx, name); err != nil {
			return pruned, &domain.StageError{Stage: domain.StageStore, Cause: fmt.Errorf("failed to delete %s: %w", name, err)}
		}
		pruned = append(pruned, name)
	}
	return pruned, nil
}

// validateDocuments rejects unnamed and duplicate documents before any
// external call is made.
func validateDocuments(docs []domain.Document) error {
	seen := make(map[string]bool, len(docs))
	for i, d := range docs {
		if d.Name == "" {
			return domain.ConfigError("document %d has no name", i)
		}
		if seen[d.Name] {
			return domain.ConfigError("duplicate document name %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}
