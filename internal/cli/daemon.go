package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctxengine/ctxd/internal/chunker"
	"github.com/ctxengine/ctxd/internal/config"
	"github.com/ctxengine/ctxd/internal/daemon"
	"github.com/ctxengine/ctxd/internal/embed"
	"github.com/ctxengine/ctxd/internal/gitprobe"
	"github.com/ctxengine/ctxd/internal/indexer"
	"github.com/ctxengine/ctxd/internal/scanner"
	"github.com/ctxengine/ctxd/internal/watcher"
)

var (
	daemonSocket string
	daemonWatch  string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the daemon subcommands",
}

// daemonStartCmd runs the daemon in the foreground: binds the shared
// Unix socket, serves tools/call over JSON-RPC for every project root a
// proxy resolves to, and exits cleanly if orphaned.
var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ctxd daemon in the foreground",
	RunE:  runDaemonStart,
}

func init() {
	daemonCmd.PersistentFlags().StringVar(&daemonSocket, "socket", "", "Unix socket path (default: $CONTEXT_MCP_SOCKET or ~/.context/mcp.sock)")
	daemonStartCmd.Flags().StringVar(&daemonWatch, "watch", "", "project root to watch and keep incrementally indexed while serving")
	daemonCmd.AddCommand(daemonStartCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	socketPath := daemonSocket
	if socketPath == "" {
		sp, err := defaultSocketPath()
		if err != nil {
			return fmt.Errorf("failed to resolve default socket path: %w", err)
		}
		socketPath = sp
	}

	listener, err := daemon.Bind(socketPath)
	if err != nil {
		if err == daemon.ErrPeerWon {
			log.Printf("daemon: a concurrently-starting peer already bound %s; exiting", socketPath)
			return nil
		}
		return fmt.Errorf("failed to bind daemon socket: %w", err)
	}
	defer listener.Close()

	if err := daemon.WritePidFile(socketPath, getVersion(), time.Now().UnixMilli()); err != nil {
		log.Printf("daemon: write pid file: %v", err)
	}
	daemon.LowerPriority()

	orphaned, stopOrphanWatch := daemon.WatchOrphan(ctx, socketPath)
	defer stopOrphanWatch()
	go func() {
		<-orphaned
		log.Printf("daemon: socket %s was rebound by a newer daemon; exiting", socketPath)
		stop()
	}()

	var watchRoot string
	var healthFns map[string]func() *watcher.Health
	if daemonWatch != "" {
		abs, err := absPath(daemonWatch)
		if err != nil {
			return fmt.Errorf("failed to resolve --watch root: %w", err)
		}
		watchRoot = abs
		w, health, err := startWatcher(ctx, abs)
		if err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		healthFns = map[string]func() *watcher.Health{abs: health}
		go w.Run(ctx)
	}

	models := []daemon.ModelConfig{{
		ID:           defaultModelID,
		TemplateHash: defaultTemplateHash,
		NewProvider:  func() embed.Provider { return embed.NewMockProvider() },
	}}
	registry := daemon.NewRegistry(models, func(root string) func() *watcher.Health {
		return healthFns[root]
	})
	router := &daemon.RootRouter{Registry: registry}

	log.Printf("daemon: listening on %s", socketPath)
	if watchRoot != "" {
		log.Printf("daemon: watching %s", watchRoot)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- daemon.Serve(ctx, listener, router) }()

	select {
	case <-ctx.Done():
		listener.Close()
		<-serveErr
		return nil
	case err := <-serveErr:
		return err
	}
}

// startWatcher builds a Watcher for root using the same scan/chunk/git
// collaborators as the index command, wired to an Indexer that shares
// root's write lock and concurrency permit.
func startWatcher(ctx context.Context, root string) (*watcher.Watcher, func() *watcher.Health, error) {
	cfg, err := config.LoadConfigFromDir(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load project config: %w", err)
	}

	sc, err := scanner.New(root, scanner.Options{ExtraIgnore: cfg.Paths.Ignore})
	if err != nil {
		return nil, nil, err
	}
	ch := chunker.New(cfg.Chunking.DocChunkSize, cfg.Chunking.CodeChunkSize)
	gp := gitprobe.New()
	permit := indexer.NewPermit()
	idx := indexer.New(root, sc, ch, gp, permit)

	provider := embed.NewMockProvider()
	models := []indexer.ModelSpec{{ID: defaultModelID, TemplateHash: defaultTemplateHash, Provider: provider}}

	filter := watcher.NewRelevanceFilter(root, sc)
	w, err := watcher.New(root, models, idx, filter)
	if err != nil {
		return nil, nil, err
	}
	health := func() *watcher.Health {
		h := w.Health()
		return &h
	}
	return w, health, nil
}
