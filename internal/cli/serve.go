package cli

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctxengine/ctxd/internal/daemon"
)

var serveSocket string

// serveCmd bridges this process's stdio to the daemon over its Unix
// socket, auto-spawning the daemon if it is not already running
//. This is the entrypoint an MCP-style client
// launches per session.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bridge stdio to the ctxd daemon, starting it if necessary",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "Unix socket path (default: $CONTEXT_MCP_SOCKET or ~/.context/mcp.sock)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	socketPath := serveSocket
	if socketPath == "" {
		sp, err := defaultSocketPath()
		if err != nil {
			return fmt.Errorf("failed to resolve default socket path: %w", err)
		}
		socketPath = sp
	}

	if err := ensureDaemonRunning(socketPath); err != nil {
		return fmt.Errorf("failed to ensure daemon is running: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	defaultRoot, err := daemon.ResolveRoot(daemon.RootResolveInput{Cwd: cwd, EnvOverride: rootEnvOverride()})
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}

	proxy := daemon.NewProxy(socketPath, os.Stdin, os.Stdout, defaultRoot, rootEnvOverride())
	return proxy.Run()
}

// ensureDaemonRunning spawn-lock arbitration
// from the launcher side: it wins the lock, spawns a detached daemon
// process, waits for the socket to come up, then releases the lock.
func ensureDaemonRunning(socketPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	lock, shouldSpawn, err := daemon.AcquireSpawnLock(socketPath, exe, getVersion(), time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if !shouldSpawn {
		return nil // already up, or another process's spawn won
	}
	defer lock.Unlock()

	cmd := exec.Command(exe, "daemon", "start", "--socket", socketPath)
	cmd.SysProcAttr = daemon.SysProcAttrForSpawn()
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not become reachable at %s", socketPath)
}
