package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	queryText      string
	queryTopK      int
	queryThreshold float64
	queryJSON      bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search indexed notes",
	Long: `Search for the note chunks most similar to a query.

Examples:
  notesrag query -q "sourdough starter"
  notesrag query -q "bike maintenance" --top-k 10 --threshold 0.5 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().Float64VarP(&queryThreshold, "threshold", "t", -1, "minimum similarity in [0,1] (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := GetConfig()
	rootDir := GetRootDir()

	if err := ensureIndex(cfg, rootDir); err != nil {
		return err
	}

	retrieveUC, st, err := newRetriever(ctx, cfg, rootDir)
	if err != nil {
		return err
	}
	defer st.Close()

	topK := cfg.Retrieve.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}
	threshold := cfg.Retrieve.Threshold
	if queryThreshold >= 0 {
		threshold = queryThreshold
	}

	results, err := retrieveUC.Retrieve(ctx, queryText, topK, threshold)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), queryText)
	for i, r := range results {
		fmt.Printf("--- [%d] %s#%d (similarity: %.3f) ---\n", i+1, r.Document, r.Sequence, r.Similarity)
		fmt.Println(truncate(r.Content, 500))
		fmt.Println()
	}
	return nil
}

// truncate shortens text to at most n runes for display.
func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
