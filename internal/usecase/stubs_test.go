package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"notesrag/internal/domain"
	"notesrag/internal/port"
)

// fastRetry keeps retry tests quick.
var fastRetry = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     2 * time.Millisecond,
	AttemptTimeout: time.Second,
}

// markerEmbedder returns, for text "tN", the vector [N, 1]. The response is
// deliberately reversed so callers must re-key by Index.
type markerEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
}

func (m *markerEmbedder) EmbedBatch(ctx context.Context, model string, inputs []string) ([]port.Embedding, error) {
	m.mu.Lock()
	m.calls++
	m.batches = append(m.batches, append([]string(nil), inputs...))
	m.mu.Unlock()

	out := make([]port.Embedding, 0, len(inputs))
	for i := len(inputs) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(strings.TrimPrefix(inputs[i], "t"))
		if err != nil {
			return nil, err
		}
		out = append(out, port.Embedding{Index: i, Vector: []float32{float32(n), 1}})
	}
	return out, nil
}

// funcEmbedder delegates to fn and counts calls.
type funcEmbedder struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, inputs []string) ([]port.Embedding, error)
}

func (f *funcEmbedder) EmbedBatch(ctx context.Context, model string, inputs []string) ([]port.Embedding, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(ctx, call, inputs)
}

func (f *funcEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func unitVectors(inputs []string) []port.Embedding {
	out := make([]port.Embedding, len(inputs))
	for i := range inputs {
		out[i] = port.Embedding{Index: i, Vector: []float32{1, 0}}
	}
	return out
}

// scriptedCompleter records requests and returns a fixed answer.
type scriptedCompleter struct {
	answer   string
	err      error
	requests []port.CompletionRequest
}

func (s *scriptedCompleter) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	s.requests = append(s.requests, req)
	return s.answer, s.err
}

// staticStore returns canned matches regardless of the query.
type staticStore struct {
	matches []domain.RetrievalMatch
}

func (s *staticStore) Upsert(ctx context.Context, records []domain.IndexRecord) error { return nil }
func (s *staticStore) Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.RetrievalMatch, error) {
	return s.matches, nil
}
func (s *staticStore) ReplaceDocument(ctx context.Context, document string, records []domain.IndexRecord) error {
	return nil
}
func (s *staticStore) DeleteDocument(ctx context.Context, document string) error { return nil }
func (s *staticStore) Count(ctx context.Context) (int, error)                    { return len(s.matches), nil }
func (s *staticStore) Close() error                                              { return nil }

// failingStore fails every write.
type failingStore struct {
	staticStore
	err error
}

func (s *failingStore) Upsert(ctx context.Context, records []domain.IndexRecord) error { return s.err }
func (s *failingStore) ReplaceDocument(ctx context.Context, document string, records []domain.IndexRecord) error {
	return s.err
}

// cancellingStore cancels the indexing context as a replacement starts,
// the way an interrupt arriving mid-write would.
type cancellingStore struct {
	port.VectorStore
	cancel context.CancelFunc
}

func (s *cancellingStore) ReplaceDocument(ctx context.Context, document string, records []domain.IndexRecord) error {
	s.cancel()
	return s.VectorStore.ReplaceDocument(ctx, document, records)
}

var errBoom = errors.New("boom")
