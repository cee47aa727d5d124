package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"notesrag/internal/domain"
	"notesrag/internal/port"
)

const testModel = "test-embed"

func rec(document string, seq int, content string, vec ...float32) domain.IndexRecord {
	return domain.IndexRecord{Document: document, Sequence: seq, Content: content, Embedding: vec, Model: testModel}
}

type storeFactory func(t *testing.T) port.VectorStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) port.VectorStore {
			return NewMemoryStore(testModel, 0)
		},
		"bolt": func(t *testing.T) port.VectorStore {
			s, err := NewBoltStore(filepath.Join(t.TempDir(), "index.db"), testModel, 0)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) port.VectorStore {
			s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "index.sqlite"), "records", testModel, 0)
			require.NoError(t, err)
			return s
		},
		"chromem": func(t *testing.T) port.VectorStore {
			s, err := NewChromemStore("", "notes", 0)
			require.NoError(t, err)
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s port.VectorStore)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func contents(matches []domain.RetrievalMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Content
	}
	return out
}

func TestStore_SearchRanksBySimilarity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{
			rec("a", 0, "far", 0, 1, 0),
			rec("a", 1, "near", 0.9, 0.1, 0),
			rec("b", 0, "exact", 1, 0, 0),
		}))

		matches, err := s.Search(ctx, []float32{1, 0, 0}, 3, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"exact", "near", "far"}, contents(matches))
		assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
		assert.Equal(t, "b", matches[0].Document)
		assert.Equal(t, 1, matches[1].Sequence)
	})
}

func TestStore_ThresholdAndLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{
			rec("a", 0, "orthogonal", 0, 1, 0),
			rec("a", 1, "near", 0.9, 0.1, 0),
			rec("a", 2, "exact", 1, 0, 0),
		}))

		matches, err := s.Search(ctx, []float32{1, 0, 0}, 5, 0.5)
		require.NoError(t, err)
		assert.Equal(t, []string{"exact", "near"}, contents(matches))

		matches, err = s.Search(ctx, []float32{1, 0, 0}, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"exact"}, contents(matches))

		matches, err = s.Search(ctx, []float32{1, 0, 0}, 5, 1.0001)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestStore_TiesKeepInsertionOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{rec("x", 0, "first", 1, 1)}))
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{rec("y", 0, "second", 1, 1)}))
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{rec("z", 0, "third", 1, 1)}))
		// Replacing a record keeps its original position.
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{rec("x", 0, "first again", 1, 1)}))

		matches, err := s.Search(ctx, []float32{1, 1}, 3, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"first again", "second", "third"}, contents(matches))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestStore_DeleteDocument(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{
			rec("notes/a", 0, "a0", 1, 0),
			rec("notes/a", 1, "a1", 1, 0.1),
			rec("notes/ab", 0, "ab0", 1, 0.2),
		}))

		require.NoError(t, s.DeleteDocument(ctx, "notes/a"))
		require.NoError(t, s.DeleteDocument(ctx, "missing"))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		matches, err := s.Search(ctx, []float32{1, 0}, 5, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"ab0"}, contents(matches))
	})
}

func TestStore_ReplaceDocument(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{
			rec("a", 0, "a0", 1, 0),
			rec("a", 1, "a1", 1, 0.1),
			rec("a", 2, "a2", 1, 0.2),
			rec("b", 0, "b0", 0, 1),
		}))

		require.NoError(t, s.ReplaceDocument(ctx, "a", []domain.IndexRecord{rec("a", 0, "a0 rewritten", 1, 0)}))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "sequences past the new chunk count are removed")

		matches, err := s.Search(ctx, []float32{1, 1}, 10, 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a0 rewritten", "b0"}, contents(matches))

		require.NoError(t, s.ReplaceDocument(ctx, "b", nil))
		n, err = s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "an empty replacement removes the document")
	})
}

func TestStore_ReplaceDocumentKeepsInsertionOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{rec("x", 0, "x", 1, 1)}))
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{rec("y", 0, "y", 1, 1)}))

		require.NoError(t, s.ReplaceDocument(ctx, "x", []domain.IndexRecord{rec("x", 0, "x again", 1, 1)}))

		matches, err := s.Search(ctx, []float32{1, 1}, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"x again", "y"}, contents(matches))
	})
}

func TestStore_ReplaceDocumentLeavesRecordsOnFailure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{rec("a", 0, "a0", 1, 0), rec("a", 1, "a1", 0, 1)}))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := s.ReplaceDocument(cancelled, "a", []domain.IndexRecord{rec("a", 0, "new", 1, 0)})
		assert.ErrorIs(t, err, context.Canceled)

		err = s.ReplaceDocument(ctx, "a", []domain.IndexRecord{rec("other", 0, "foreign", 1, 0)})
		assert.ErrorIs(t, err, domain.ErrDataIntegrity)

		err = s.ReplaceDocument(ctx, "a", []domain.IndexRecord{rec("a", 0, "wrong size", 1, 0, 0)})
		assert.ErrorIs(t, err, domain.ErrDataIntegrity)

		matches, err := s.Search(ctx, []float32{1, 1}, 10, 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a0", "a1"}, contents(matches))
	})
}

func TestStore_DimensionMismatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{rec("a", 0, "a", 1, 0, 0)}))

		_, err := s.Search(ctx, []float32{1, 0}, 1, 0)
		assert.ErrorIs(t, err, domain.ErrDataIntegrity)

		err = s.Upsert(ctx, []domain.IndexRecord{rec("b", 0, "b", 1, 0)})
		assert.ErrorIs(t, err, domain.ErrDataIntegrity)
	})
}

func TestStore_EmptySearch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.VectorStore) {
		matches, err := s.Search(context.Background(), []float32{1, 0}, 3, 0)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestMemoryStore_RejectsForeignModel(t *testing.T) {
	s := NewMemoryStore(testModel, 0)
	r := rec("a", 0, "a", 1)
	r.Model = "other-model"
	err := s.Upsert(context.Background(), []domain.IndexRecord{r})
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
}

func TestMemoryStore_RejectsUnnamedDocument(t *testing.T) {
	s := NewMemoryStore(testModel, 0)
	err := s.Upsert(context.Background(), []domain.IndexRecord{rec("", 0, "a", 1)})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestMemoryStore_Snapshot(t *testing.T) {
	s := NewMemoryStore(testModel, 2)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{rec("a", 0, "a0", 1, 0), rec("a", 1, "a1", 0, 1)}))

	records := s.snapshot()
	require.Len(t, records, 2)
	assert.Equal(t, "a0", records[0].Content)
	assert.Equal(t, "a1", records[1].Content)
}

func TestRankMatches(t *testing.T) {
	matches := []domain.RetrievalMatch{
		{Content: "late tie", Similarity: 0.8, InsertOrder: 5},
		{Content: "low", Similarity: 0.2, InsertOrder: 1},
		{Content: "early tie", Similarity: 0.8, InsertOrder: 2},
		{Content: "top", Similarity: 0.95, InsertOrder: 9},
	}
	got := rankMatches(matches, 3, 0.5)
	assert.Equal(t, []string{"top", "early tie", "late tie"}, contents(got))
	assert.Nil(t, rankMatches(matches, 0, 0))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 1}))
}
