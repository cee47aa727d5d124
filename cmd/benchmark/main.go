package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"notesrag/config"
	"notesrag/internal/adapter/llm"
	"notesrag/internal/adapter/store"
	"notesrag/internal/logging"
	"notesrag/internal/telemetry"
	"notesrag/internal/usecase"
)

func main() {
	indexPath := flag.String("index", ".", "Path to indexed notes directory")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -index ./notes -q \"query\"")
		fmt.Println("\nReports:")
		fmt.Println("  1. Store contents (record count, model, dimension)")
		fmt.Println("  2. Similarity of the top-k matches with no threshold")
		fmt.Println("  3. How many matches survive the configured threshold")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger, err := logging.New("warn", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	service, dimension, err := llm.NewEmbeddingService(cfg.Embedding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Semantic search not available: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(ctx, cfg.Store, cfg.StorePath(*indexPath), cfg.Embedding.Model, dimension, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	count, _ := st.Count(ctx)
	if count == 0 {
		fmt.Fprintln(os.Stderr, "No records - run 'notesrag index' first")
		os.Exit(1)
	}

	metrics := telemetry.New()
	batcher, err := usecase.NewBatcher(service, usecase.BatcherOptions{
		Model:    cfg.Embedding.Model,
		MaxItems: cfg.Embedding.BatchSize,
		MaxChars: cfg.Embedding.MaxBatchChars,
		Retry:    usecase.DefaultRetryPolicy(),
	}, logger, metrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating batcher: %v\n", err)
		os.Exit(1)
	}
	retriever := usecase.NewRetrieveUseCase(batcher, st, usecase.DefaultRetryPolicy(), logger, metrics)

	fmt.Println("SEMANTIC SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Records indexed: %d\n", count)
	fmt.Printf("Model: %s (%s)\n", cfg.Embedding.Model, cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d\n", dimension)
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	results, err := retriever.Retrieve(ctx, *query, *topK, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}

	fmt.Printf("Top %d semantic matches:\n\n", len(results))

	totalScore := 0.0
	passing := 0
	for i, r := range results {
		preview := []rune(r.Content)
		text := string(preview)
		if len(preview) > 150 {
			text = string(preview[:150]) + "..."
		}
		text = strings.ReplaceAll(text, "\n", " ")

		totalScore += r.Similarity
		if r.Similarity >= cfg.Retrieve.Threshold {
			passing++
		}

		fmt.Printf("%d. [%s %.3f] %s#%d\n", i+1, rating(r.Similarity), r.Similarity, r.Document, r.Sequence)
		fmt.Printf("   %s\n\n", text)
	}

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Similarity)
	fmt.Printf("  Above threshold:    %d of %d (threshold %.2f)\n", passing, len(results), cfg.Retrieve.Threshold)

	if passing == 0 {
		fmt.Println("  Status: POOR - nothing passes the threshold, ask would answer from general knowledge")
	} else if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - semantic search working well")
	} else {
		fmt.Println("  Status: OK - results are somewhat related")
	}
}

func rating(similarity float64) string {
	switch {
	case similarity > 0.7:
		return "HIGH"
	case similarity > 0.5:
		return "GOOD"
	case similarity > 0.3:
		return "OK"
	}
	return "LOW"
}
