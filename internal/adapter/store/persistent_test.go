package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"notesrag/config"
	"notesrag/internal/domain"
	"notesrag/internal/port"
)

type reopenFunc func(t *testing.T, path, model string) port.VectorStore

func persistentBackends() map[string]reopenFunc {
	return map[string]reopenFunc{
		"bolt": func(t *testing.T, path, model string) port.VectorStore {
			s, err := NewBoltStore(path, model, 0)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T, path, model string) port.VectorStore {
			s, err := NewSQLiteStore(context.Background(), path, "records", model, 0)
			require.NoError(t, err)
			return s
		},
	}
}

func TestPersistentStore_Reopen(t *testing.T) {
	for name, open := range persistentBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "index")

			s := open(t, path, testModel)
			require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{
				rec("a", 0, "first", 1, 0),
				rec("b", 0, "second", 1, 0),
			}))
			require.NoError(t, s.(port.Rebuildable).SetFingerprint(ctx, "fp-1"))
			require.NoError(t, s.Close())

			s = open(t, path, testModel)
			defer s.Close()

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			fp, err := s.(port.Rebuildable).Fingerprint(ctx)
			require.NoError(t, err)
			assert.Equal(t, "fp-1", fp)

			matches, err := s.Search(ctx, []float32{1, 0}, 2, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"first", "second"}, contents(matches))

			// Dimension is remembered across reopen.
			_, err = s.Search(ctx, []float32{1, 0, 0}, 2, 0)
			assert.ErrorIs(t, err, domain.ErrDataIntegrity)
		})
	}
}

func TestPersistentStore_ModelPinning(t *testing.T) {
	for name, open := range persistentBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "index")

			s := open(t, path, testModel)
			require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{rec("a", 0, "first", 1, 0)}))
			require.NoError(t, s.Close())

			s = open(t, path, "other-model")
			defer s.Close()

			_, err := s.Search(ctx, []float32{1, 0}, 1, 0)
			assert.ErrorIs(t, err, domain.ErrDataIntegrity)

			r := rec("b", 0, "x", 1, 0, 0)
			r.Model = "other-model"
			err = s.Upsert(ctx, []domain.IndexRecord{r})
			assert.ErrorIs(t, err, domain.ErrDataIntegrity)

			require.NoError(t, s.(port.Rebuildable).Clear(ctx))
			require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{r}))

			matches, err := s.Search(ctx, []float32{1, 0, 0}, 1, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"x"}, contents(matches))
		})
	}
}

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3}
	got, err := decodeEmbedding(encodeEmbedding(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), storeConfig("redis"), "", testModel, 0, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestOpen_Bolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.db")
	s, err := Open(context.Background(), storeConfig("bolt"), path, testModel, 0, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &BoltStore{}, s)
}

func TestMapQdrantError(t *testing.T) {
	assert.Nil(t, mapQdrantError("op", nil))

	err := mapQdrantError("search", status.Error(codes.Unavailable, "down"))
	assert.True(t, domain.IsTransient(err))

	err = mapQdrantError("upsert", status.Error(codes.InvalidArgument, "wrong vector size"))
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
	assert.False(t, domain.IsTransient(err))

	err = mapQdrantError("count", status.Error(codes.PermissionDenied, "nope"))
	assert.False(t, domain.IsTransient(err))
	assert.NotErrorIs(t, err, domain.ErrDataIntegrity)
}

func TestPointIDIsStable(t *testing.T) {
	assert.Equal(t, pointID("notes/a", 3), pointID("notes/a", 3))
	assert.NotEqual(t, pointID("notes/a", 3), pointID("notes/a", 4))
}

func storeConfig(backend string) config.StoreConfig {
	return config.StoreConfig{Backend: backend, Collection: "notes"}
}

func TestStore_Documents(t *testing.T) {
	stores := map[string]port.VectorStore{"memory": NewMemoryStore(testModel, 0)}
	for name, open := range persistentBackends() {
		stores[name] = open(t, filepath.Join(t.TempDir(), "index"), testModel)
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			ctx := context.Background()
			require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{
				rec("b", 0, "b0", 1, 0),
				rec("a", 0, "a0", 1, 0),
				rec("a", 1, "a1", 1, 0),
			}))

			docs, err := s.(port.DocumentLister).Documents(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b"}, docs)
		})
	}
}
