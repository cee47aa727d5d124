package store

import (
	"context"
	"sync"

	"notesrag/internal/domain"
)

type recordKey struct {
	document string
	sequence int
}

// MemoryStore keeps records in process memory in insertion order.
type MemoryStore struct {
	mu        sync.RWMutex
	model     string
	dimension int
	records   []domain.IndexRecord
	orders    []uint64
	index     map[recordKey]int
	nextOrder uint64
}

func NewMemoryStore(model string, dimension int) *MemoryStore {
	return &MemoryStore{
		model:     model,
		dimension: dimension,
		index:     make(map[recordKey]int),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate(records); err != nil {
		return err
	}
	s.put(records)
	return nil
}

// ReplaceDocument swaps the document's records for records under one lock.
// Sequences that survive keep their insertion order.
func (s *MemoryStore) ReplaceDocument(ctx context.Context, document string, records []domain.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkReplacement(document, records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate(records); err != nil {
		return err
	}
	keep := make(map[int]bool, len(records))
	for _, r := range records {
		keep[r.Sequence] = true
	}
	s.remove(func(r domain.IndexRecord) bool {
		return r.Document == document && !keep[r.Sequence]
	})
	s.put(records)
	return nil
}

func (s *MemoryStore) validate(records []domain.IndexRecord) error {
	dimension := s.dimension
	if err := validateRecords(records, s.model, &dimension); err != nil {
		return err
	}
	s.dimension = dimension
	return nil
}

func (s *MemoryStore) put(records []domain.IndexRecord) {
	for _, r := range records {
		key := recordKey{r.Document, r.Sequence}
		if i, ok := s.index[key]; ok {
			s.records[i] = r
			continue
		}
		s.index[key] = len(s.records)
		s.records = append(s.records, r)
		s.orders = append(s.orders, s.nextOrder)
		s.nextOrder++
	}
}

func (s *MemoryStore) Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.RetrievalMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := checkQueryDimension(query, s.dimension); err != nil {
		return nil, err
	}

	matches := make([]domain.RetrievalMatch, 0, len(s.records))
	for i, r := range s.records {
		matches = append(matches, domain.RetrievalMatch{
			Content:     r.Content,
			Similarity:  cosineSimilarity(query, r.Embedding),
			Document:    r.Document,
			Sequence:    r.Sequence,
			InsertOrder: s.orders[i],
		})
	}
	return rankMatches(matches, k, threshold), nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, document string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(func(r domain.IndexRecord) bool { return r.Document == document })
	return nil
}

// remove drops the records matching drop, keeping the rest in order.
func (s *MemoryStore) remove(drop func(domain.IndexRecord) bool) {
	records := s.records[:0]
	orders := s.orders[:0]
	index := make(map[recordKey]int, len(s.index))
	for i, r := range s.records {
		if drop(r) {
			continue
		}
		index[recordKey{r.Document, r.Sequence}] = len(records)
		records = append(records, r)
		orders = append(orders, s.orders[i])
	}
	s.records, s.orders, s.index = records, orders, index
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// snapshot returns a copy of the stored records in insertion order.
func (s *MemoryStore) snapshot() []domain.IndexRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IndexRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *MemoryStore) Close() error {
	return nil
}

// Documents lists stored document names in first-insertion order.
func (s *MemoryStore) Documents(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for _, r := range s.records {
		if !seen[r.Document] {
			seen[r.Document] = true
			names = append(names, r.Document)
		}
	}
	return names, nil
}
