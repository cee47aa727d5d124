package port

import (
	"context"

	"notesrag/internal/domain"
)

// EmbeddingService converts a batch of strings into vectors.
type EmbeddingService interface {
	// EmbedBatch embeds inputs with the named model. Each returned Embedding
	// carries the position of the input it was produced from.
	EmbedBatch(ctx context.Context, model string, inputs []string) ([]Embedding, error)
}

// Embedding is one vector of a batch response.
type Embedding struct {
	Index  int
	Vector []float32
}

// VectorStore persists index records and searches them by similarity.
type VectorStore interface {
	// Upsert writes records keyed by (Document, Sequence).
	Upsert(ctx context.Context, records []domain.IndexRecord) error

	// Search returns at most k records with similarity >= threshold,
	// highest similarity first.
	Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.RetrievalMatch, error)

	// ReplaceDocument makes records the document's complete record set in
	// one step. When it fails the previously stored records are untouched.
	ReplaceDocument(ctx context.Context, document string, records []domain.IndexRecord) error

	// DeleteDocument removes every record of the named document.
	DeleteDocument(ctx context.Context, document string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Rebuildable is implemented by stores that remember which index settings
// produced their contents.
type Rebuildable interface {
	Fingerprint(ctx context.Context) (string, error)
	SetFingerprint(ctx context.Context, fingerprint string) error
	Clear(ctx context.Context) error
}

// DocumentLister is implemented by stores that can enumerate the documents
// they hold, which lets the indexer prune notes removed from the corpus.
type DocumentLister interface {
	Documents(ctx context.Context) ([]string, error)
}
