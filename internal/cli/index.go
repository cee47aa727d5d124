package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"notesrag/config"
	"notesrag/internal/adapter/chunker"
	"notesrag/internal/adapter/fs"
	"notesrag/internal/adapter/llm"
	"notesrag/internal/port"
	"notesrag/internal/telemetry"
	"notesrag/internal/usecase"
)

var (
	indexRebuild    bool
	indexMetricsOut string
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index notes for retrieval",
	Long: `Index the notes in the specified directory for later retrieval.
By default the index is stored in .notesrag/index.db within the target directory.

Examples:
  notesrag index .              # Index current directory
  notesrag index ~/notes        # Index specific directory
  notesrag index . --rebuild    # Drop the stored index first`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "clear the stored index before indexing")
	indexCmd.Flags().StringVar(&indexMetricsOut, "metrics-out", "", "write Prometheus metrics in text format to this file")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	cfg := GetConfig()
	log := GetLogger()

	if err := config.EnsureDataDir(path); err != nil {
		return fmt.Errorf("failed to create .notesrag directory: %w", err)
	}

	var metrics *telemetry.Metrics
	if indexMetricsOut != "" {
		metrics = telemetry.New()
	}

	service, dimension, err := llm.NewEmbeddingService(cfg.Embedding)
	if err != nil {
		return err
	}
	batcher, err := newBatcher(cfg, service, metrics)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, path, dimension)
	if err != nil {
		return err
	}
	defer st.Close()

	fingerprint := cfg.Fingerprint()
	rb, rebuildable := st.(port.Rebuildable)
	if rebuildable {
		if err := prepareRebuild(ctx, rb, fingerprint); err != nil {
			return err
		}
	} else if indexRebuild {
		fmt.Printf("Store backend %q cannot be cleared, ignoring --rebuild\n", cfg.Store.Backend)
	}

	var source port.CorpusSource = fs.NewWalker(cfg.Corpus.Includes, cfg.Corpus.Excludes, cfg.Corpus.TitleHeader)
	splitter, err := chunker.NewRecursiveSplitter(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return err
	}

	fmt.Printf("Scanning %s...\n", path)
	docs, err := source.LoadDocuments(path)
	if err != nil {
		return fmt.Errorf("failed to read notes: %w", err)
	}
	if len(docs) == 0 {
		fmt.Println("No notes found.")
	}

	bar := newIndexBar(len(docs))
	var barMu sync.Mutex
	startTime := time.Now()
	done := 0

	indexUC := usecase.NewIndexUseCase(splitter, batcher, st, usecase.IndexOptions{
		Workers: cfg.Index.Workers,
		Retry:   retryPolicy(cfg),
		Prune:   true,
		Progress: func(document string, err error) {
			barMu.Lock()
			defer barMu.Unlock()

			done++
			_ = bar.Set(done)
			elapsed := time.Since(startTime)
			if rate := float64(done) / elapsed.Seconds(); rate > 0 {
				eta := time.Duration(float64(len(docs)-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
			}
		},
	}, log, metrics)

	report, err := indexUC.Index(ctx, docs)
	if err != nil && report == nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	cancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if err != nil && !cancelled {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if rebuildable && !cancelled {
		if err := rb.SetFingerprint(ctx, fingerprint); err != nil {
			return fmt.Errorf("failed to record index settings: %w", err)
		}
	}

	total, countErr := st.Count(ctx)

	status := "complete"
	if cancelled {
		status = "interrupted"
	}
	fmt.Printf("\nIndexing %s:\n", status)
	fmt.Printf("  Notes indexed:  %d\n", len(report.Indexed))
	fmt.Printf("  Notes failed:   %d\n", len(report.Failed))
	fmt.Printf("  Notes pruned:   %d (removed)\n", len(report.Pruned))
	fmt.Printf("  Chunks created: %d\n", report.ChunkCount)
	fmt.Printf("  Embed requests: %d\n", report.EmbedBatches)
	if countErr == nil {
		fmt.Printf("  Stored records: %d\n", total)
	}
	fmt.Printf("  Elapsed:        %s\n", formatDuration(time.Since(startTime)))

	if len(report.Failed) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, f := range report.Failed {
			fmt.Printf("  - %s (%s): %v\n", f.Document, f.Stage, f.Err)
		}
	}

	if p := cfg.StorePath(path); p != "" {
		fmt.Printf("\nIndex stored at: %s\n", p)
	}

	if metrics != nil {
		if err := metrics.WriteTextfile(indexMetricsOut); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	if cancelled {
		return err
	}
	return nil
}

// prepareRebuild clears the store when asked to, or when it was built with
// different index settings.
func prepareRebuild(ctx context.Context, rb port.Rebuildable, fingerprint string) error {
	stored, err := rb.Fingerprint(ctx)
	if err != nil {
		return fmt.Errorf("failed to read index settings: %w", err)
	}

	reason := ""
	switch {
	case indexRebuild:
		reason = "requested"
	case stored != "" && stored != fingerprint:
		reason = "index settings changed"
	}
	if reason == "" {
		return nil
	}

	fmt.Printf("Index rebuild required: %s\n", reason)
	fmt.Println("Clearing existing index...")
	if err := rb.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	return nil
}

func newIndexBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
