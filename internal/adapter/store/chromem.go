package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"notesrag/internal/domain"
)

const (
	metaDocument  = "document"
	metaSequence  = "sequence"
	metaInsertSeq = "insert_seq"
)

// errNoEmbeddingFunc guards against chromem embedding text on its own.
// Every record arrives with a vector computed by the configured model.
var errNoEmbeddingFunc = errors.New("chromem collection does not embed text")

// ChromemStore keeps records in an embedded chromem-go collection,
// optionally persisted to a directory.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	configured int

	mu          sync.RWMutex
	dimension   int
	fingerprint string
}

// NewChromemStore opens a chromem database. An empty path keeps it in memory.
func NewChromemStore(path, collection string, dimension int) (*ChromemStore, error) {
	if collection == "" {
		collection = "notes"
	}
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem db at %s: %w", path, err)
		}
	}
	s := &ChromemStore{db: db, name: collection, configured: dimension, dimension: dimension}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChromemStore) open() error {
	c, err := s.db.GetOrCreateCollection(s.name, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbeddingFunc
	})
	if err != nil {
		return fmt.Errorf("getting/creating collection %s: %w", s.name, err)
	}
	s.collection = c
	return nil
}

func chromemID(document string, sequence int) string {
	return document + "#" + strconv.Itoa(sequence)
}

func (s *ChromemStore) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(ctx, records)
}

// ReplaceDocument writes records first and then deletes the document's
// records past the highest new sequence. Sequences are contiguous from zero,
// so probing upward finds every stale record.
func (s *ChromemStore) ReplaceDocument(ctx context.Context, document string, records []domain.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkReplacement(document, records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.add(ctx, records); err != nil {
		return err
	}
	next := 0
	for _, r := range records {
		if r.Sequence >= next {
			next = r.Sequence + 1
		}
	}
	var stale []string
	for seq := next; ; seq++ {
		id := chromemID(document, seq)
		if _, err := s.collection.GetByID(ctx, id); err != nil {
			break
		}
		stale = append(stale, id)
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, stale...); err != nil {
		return fmt.Errorf("failed to delete stale records of %s: %w", document, err)
	}
	return nil
}

func (s *ChromemStore) add(ctx context.Context, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	dimension := s.dimension
	if err := validateRecords(records, "", &dimension); err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		id := chromemID(r.Document, r.Sequence)
		order := nextInsertOrder()
		if existing, err := s.collection.GetByID(ctx, id); err == nil {
			if v, err := strconv.ParseUint(existing.Metadata[metaInsertSeq], 10, 64); err == nil {
				order = v
			}
		}
		docs[i] = chromem.Document{
			ID:        id,
			Content:   r.Content,
			Embedding: append([]float32(nil), r.Embedding...),
			Metadata: map[string]string{
				metaDocument:  r.Document,
				metaSequence:  strconv.Itoa(r.Sequence),
				metaInsertSeq: strconv.FormatUint(order, 10),
			},
		}
	}
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	s.dimension = dimension
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.RetrievalMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := checkQueryDimension(query, s.dimension); err != nil {
		return nil, err
	}
	n := s.collection.Count()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	// Fetch everything so equal scores can be ordered by insertion below.
	results, err := s.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", s.name, err)
	}

	matches := make([]domain.RetrievalMatch, 0, len(results))
	for _, r := range results {
		seq, _ := strconv.Atoi(r.Metadata[metaSequence])
		order, _ := strconv.ParseUint(r.Metadata[metaInsertSeq], 10, 64)
		matches = append(matches, domain.RetrievalMatch{
			Content:     r.Content,
			Similarity:  float64(r.Similarity),
			Document:    r.Metadata[metaDocument],
			Sequence:    seq,
			InsertOrder: order,
		})
	}
	return rankMatches(matches, k, threshold), nil
}

func (s *ChromemStore) DeleteDocument(ctx context.Context, document string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collection.Count() == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, map[string]string{metaDocument: document}, nil); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", document, err)
	}
	return nil
}

func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

func (s *ChromemStore) Fingerprint(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint, nil
}

// SetFingerprint only lasts for the lifetime of the process.
func (s *ChromemStore) SetFingerprint(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprint = fingerprint
	return nil
}

func (s *ChromemStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", s.name, err)
	}
	s.dimension = s.configured
	s.fingerprint = ""
	return s.open()
}

func (s *ChromemStore) Close() error {
	return nil
}
