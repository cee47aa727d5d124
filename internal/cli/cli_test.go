package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"notesrag/config"
	"notesrag/internal/adapter/chunker"
	"notesrag/internal/adapter/llm"
	"notesrag/internal/adapter/store"
	"notesrag/internal/domain"
	"notesrag/internal/usecase"
)

func findCommand(name string) *cobra.Command {
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"index", "query", "ask", "chunk"} {
		cmd := findCommand(name)
		require.NotNil(t, cmd, "command %s not registered", name)
		assert.NotEmpty(t, cmd.Short)
		assert.NotEmpty(t, cmd.Long)
	}

	query := findCommand("query")
	for _, flag := range []string{"query", "top-k", "threshold", "json"} {
		assert.NotNil(t, query.Flags().Lookup(flag), "query flag %s", flag)
	}
	index := findCommand("index")
	assert.NotNil(t, index.Flags().Lookup("rebuild"))
	assert.NotNil(t, index.Flags().Lookup("metrics-out"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "<1s", formatDuration(500*time.Millisecond))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m5s", formatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h10m", formatDuration(2*time.Hour+10*time.Minute))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll...", truncate("héllo wörld", 4))
}

func TestPrepareRebuild(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "index.db"), "m", 3)
	require.NoError(t, err)
	defer st.Close()

	record := domain.IndexRecord{Document: "d", Sequence: 0, Content: "x", Embedding: []float32{1, 0, 0}, Model: "m"}
	require.NoError(t, st.Upsert(ctx, []domain.IndexRecord{record}))
	require.NoError(t, st.SetFingerprint(ctx, "aaaa"))

	require.NoError(t, prepareRebuild(ctx, st, "aaaa"))
	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "matching settings keep the index")

	require.NoError(t, prepareRebuild(ctx, st, "bbbb"))
	n, err = st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "changed settings clear the index")
}

func TestAnswerLoop(t *testing.T) {
	ctx := context.Background()
	embedder := llm.NewMockEmbedder(64)
	batcher, err := usecase.NewBatcher(embedder, usecase.BatcherOptions{Model: "mock", MaxItems: 8}, nil, nil)
	require.NoError(t, err)

	st := store.NewMemoryStore("mock", 64)
	splitter, err := chunker.NewRecursiveSplitter(200, 20)
	require.NoError(t, err)

	indexUC := usecase.NewIndexUseCase(splitter, batcher, st, usecase.IndexOptions{Workers: 2}, nil, nil)
	_, err = indexUC.Index(ctx, []domain.Document{
		{Name: "bread", Content: "Sourdough bread needs a lively starter fed with flour and water."},
		{Name: "bikes", Content: "Check tyre pressure before every long ride."},
	})
	require.NoError(t, err)

	retrieveUC := usecase.NewRetrieveUseCase(batcher, st, usecase.RetryPolicy{MaxAttempts: 1}, nil, nil)
	answerUC, err := usecase.NewAnswerUseCase(retrieveUC, llm.EchoCompleter{}, usecase.AnswerOptions{
		Model:     "mock-chat",
		TopK:      2,
		Threshold: 0,
		Separator: "\n\n",
		Retry:     usecase.RetryPolicy{MaxAttempts: 1},
	}, nil, nil)
	require.NoError(t, err)

	in := strings.NewReader("how do I feed the starter?\n\n   \nwhat tyre pressure?\n")
	var out bytes.Buffer
	require.NoError(t, answerLoop(ctx, answerUC, in, &out))

	text := out.String()
	assert.Contains(t, text, `"how do I feed the starter?"`)
	assert.Contains(t, text, `"what tyre pressure?"`)
	assert.Equal(t, 2, strings.Count(text, "Echo answer"), "blank lines are skipped")
}

func TestIndexCommandBuildsStore(t *testing.T) {
	dir := t.TempDir()
	notes := map[string]string{
		"bread.md":        "Sourdough bread needs a lively starter.\n\nFeed it flour and water daily.",
		"garden/herbs.md": "Basil wants sun. Mint spreads everywhere.",
		"skip.png":        "not a note",
	}
	for name, content := range notes {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	yaml := `embedding:
  provider: mock
  model: mock-embed
  dimension: 64
completion:
  provider: mock
  model: mock-chat
logging:
  level: error
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notesrag.yaml"), []byte(yaml), 0644))
	metricsPath := filepath.Join(dir, "metrics.prom")

	rootCmd.SetArgs([]string{"--dir", dir, "index", dir, "--metrics-out", metricsPath})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	st, err := store.NewBoltStore(filepath.Join(dir, ".notesrag", "index.db"), "mock-embed", 64)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	docs, err := st.Documents(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bread", "garden/herbs"}, docs)

	cfg, err := config.LoadFromDir(dir)
	require.NoError(t, err)
	fp, err := st.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.Fingerprint(), fp)

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "notesrag_")
}
