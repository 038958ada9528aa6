package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// ErrPeerWon is returned by Bind when a concurrently-starting peer won
// the race to bind the socket.
var ErrPeerWon = errors.New("daemon: peer won bind race")

// connectRetryWindow is how long Bind waits for a concurrently-starting
// peer to finish winning the socket before giving up.
const connectRetryWindow = 300 * time.Millisecond

// Bind single-instance bind with
// stale-socket recovery:
//  1. ensure the parent directory exists;
//  2. attempt to bind; on EADDRINUSE, attempt to connect for up to
//     connectRetryWindow to detect a concurrently-starting peer; if a
//     connect succeeds, the peer wins and Bind returns ErrPeerWon;
//  3. otherwise the socket file is stale: unlink it and retry the bind
//     exactly once.
func Bind(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("daemon: ensure socket dir: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err == nil {
		return listener, nil
	}
	if !isAddrInUse(err) {
		return nil, fmt.Errorf("daemon: bind %s: %w", socketPath, err)
	}

	if peerWon := awaitPeer(socketPath); peerWon {
		return nil, ErrPeerWon
	}

	// Stale socket: no one answers. Unlink and retry exactly once.
	if rmErr := os.Remove(socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, fmt.Errorf("daemon: remove stale socket: %w", rmErr)
	}
	listener, err = net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: bind %s after unlink: %w", socketPath, err)
	}
	return listener, nil
}

// awaitPeer polls the socket for up to connectRetryWindow, returning
// true the moment a connect succeeds (a concurrently-starting peer has
// already bound it).
func awaitPeer(socketPath string) bool {
	deadline := time.Now().Add(connectRetryWindow)
	for time.Now().Before(deadline) {
		if canDial(socketPath) {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return canDial(socketPath)
}
