package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"notesrag/internal/adapter/chunker"
	"notesrag/internal/adapter/fs"
	"notesrag/internal/domain"
)

var (
	chunkSize    int
	chunkOverlap int
	chunkJSON    bool
)

var chunkCmd = &cobra.Command{
	Use:   "chunk FILE",
	Short: "Show how a note is split into chunks",
	Long: `Split a single note the way the indexer does and print every chunk
with its rune offsets. Nothing is embedded or stored.

Examples:
  notesrag chunk notes/bread.md
  notesrag chunk notes/bread.md --size 400 --overlap 50`,
	Args: cobra.ExactArgs(1),
	RunE: runChunk,
}

func init() {
	rootCmd.AddCommand(chunkCmd)
	chunkCmd.Flags().IntVar(&chunkSize, "size", 0, "chunk size in characters (default from config)")
	chunkCmd.Flags().IntVar(&chunkOverlap, "overlap", -1, "chunk overlap in characters (default from config)")
	chunkCmd.Flags().BoolVar(&chunkJSON, "json", false, "output as JSON")
}

func runChunk(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	size := cfg.Index.ChunkSize
	if chunkSize > 0 {
		size = chunkSize
	}
	overlap := cfg.Index.ChunkOverlap
	if chunkOverlap >= 0 {
		overlap = chunkOverlap
	}

	splitter, err := chunker.NewRecursiveSplitter(size, overlap)
	if err != nil {
		return err
	}

	content, err := fs.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	base := filepath.Base(args[0])
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if cfg.Corpus.TitleHeader {
		content = name + "\n\n" + content
	}

	chunks := splitter.Split(domain.Document{Name: name, Content: content})

	if chunkJSON {
		output, _ := json.MarshalIndent(chunks, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("%d chunks (size %d, overlap %d)\n\n", len(chunks), size, overlap)
	for _, c := range chunks {
		fmt.Printf("--- [%d] runes %d-%d ---\n%s\n\n", c.Sequence, c.Start, c.End, c.Text)
	}
	return nil
}
