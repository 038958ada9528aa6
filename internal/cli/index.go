package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ctxengine/ctxd/internal/chunker"
	"github.com/ctxengine/ctxd/internal/config"
	"github.com/ctxengine/ctxd/internal/embed"
	"github.com/ctxengine/ctxd/internal/gitprobe"
	"github.com/ctxengine/ctxd/internal/indexer"
	"github.com/ctxengine/ctxd/internal/scanner"
)

var (
	indexIncremental bool
	indexQuiet       bool
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Build or refresh the code corpus and vector stores for a project",
	Long: `Scans a project root, chunks every relevant file, embeds the chunks,
and persists the resulting corpus and per-model vector stores under
<root>/.context/.

By default this does a full rebuild. Pass --incremental to reuse the
existing corpus and only reprocess files whose mtime or content has
changed since the last run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexIncremental, "incremental", false, "only reprocess changed files")
	indexCmd.Flags().BoolVarP(&indexQuiet, "quiet", "q", false, "suppress progress output")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	abs, err := resolveIndexRoot(root)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}

	cfg, err := config.LoadConfigFromDir(abs)
	if err != nil {
		return fmt.Errorf("failed to load project config: %w", err)
	}

	sc, err := scanner.New(abs, scanner.Options{ExtraIgnore: cfg.Paths.Ignore})
	if err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}
	ch := chunker.New(cfg.Chunking.DocChunkSize, cfg.Chunking.CodeChunkSize)
	gp := gitprobe.New()
	permit := indexer.NewPermit()
	idx := indexer.New(abs, sc, ch, gp, permit)

	provider := embed.NewMockProvider()
	defer provider.Close()
	models := []indexer.ModelSpec{{ID: defaultModelID, TemplateHash: defaultTemplateHash, Provider: provider}}

	var bar *progressbar.ProgressBar
	if !indexQuiet {
		fmt.Fprintf(os.Stderr, "Indexing %s\n", abs)
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("scanning and embedding"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetWriter(os.Stderr),
		)
		done := make(chan struct{})
		defer close(done)
		go spin(bar, done)
	}

	var stats *indexer.Stats
	if indexIncremental {
		stats, err = idx.IndexIncremental(ctx, models, nil)
	} else {
		stats, err = idx.IndexFull(ctx, models, nil)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if indexQuiet {
		return nil
	}
	log.Printf("Indexed %d files, %d chunks in %dms\n", stats.Files, stats.Chunks, stats.ElapsedMs)
	for lang, count := range stats.PerLanguage {
		log.Printf("  %-12s %d chunks\n", lang, count)
	}
	for _, e := range stats.Errors {
		log.Printf("  warning: %s\n", e)
	}
	return nil
}

func spin(bar *progressbar.ProgressBar, done <-chan struct{}) {
	ticker := time.NewTicker(120 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}

func resolveIndexRoot(path string) (string, error) {
	abs, err := absPath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}
