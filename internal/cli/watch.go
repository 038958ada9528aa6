package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Keep a project's corpus incrementally indexed as files change",
	Long: `Runs the filesystem watcher in the foreground against a single project
root, debouncing and batching changes into incremental reindex passes
without serving the JSON-RPC tool surface. Useful for diagnosing watcher
behavior independent of the daemon; "ctxd daemon start --watch" runs the
same watcher alongside the tool server for normal use.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	abs, err := absPath(root)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("project root does not exist: %w", err)
	}

	w, _, err := startWatcher(ctx, abs)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	log.Printf("watching %s (ctrl-c to stop)", abs)
	w.Run(ctx)
	<-w.Done()
	return nil
}
