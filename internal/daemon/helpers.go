package daemon

import (
	"net"
	"os"
	"strings"
	"syscall"
)

// canDial reports whether a Unix socket is currently dialable, i.e.
// some process is listening on it. Used by bind.go to decide whether a
// stale socket file is actually stale, and by spawnlock.go to decide
// whether a daemon it is arbitrating over has already come up.
func canDial(socketPath string) bool {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isAddrInUse reports whether err is "address already in use", the
// error net.Listen returns when another process already owns
// socketPath. Checked both ways: the reliable syscall.EADDRINUSE path,
// and a string-match fallback for errors a caller has already wrapped.
func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}

	if opErr, ok := err.(*net.OpError); ok {
		if syscallErr, ok := opErr.Err.(*os.SyscallError); ok {
			return syscallErr.Err == syscall.EADDRINUSE
		}
	}

	return strings.Contains(err.Error(), "address already in use")
}
