package daemon

import (
	"context"
	"os"
	"syscall"
	"time"
)

// orphanPollInterval is how often the orphan watchdog re-stats the
// socket path.
const orphanPollInterval = 500 * time.Millisecond

// inode identifies a file by device+inode so a later "same path,
// different file" rebind is detectable even though the path string is
// unchanged.
type inode struct {
	dev uint64
	ino uint64
}

func statInode(path string) (inode, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return inode{}, false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return inode{}, false
	}
	return inode{dev: uint64(stat.Dev), ino: stat.Ino}, true
}

// WatchOrphan snapshots socketPath's inode once, then polls every
// orphanPollInterval; if the inode changes or the path disappears, it
// closes done so the caller can exit cleanly, leaving the newest daemon
// as the sole backend. done is also closed when ctx ends, when stop is
// called, and right away if socketPath cannot be stat'ed at the start.
// Returns a stop function; call it to end the watch when the daemon
// shuts down normally.
func WatchOrphan(ctx context.Context, socketPath string) (done <-chan struct{}, stop func()) {
	out := make(chan struct{})
	stopCh := make(chan struct{})

	want, ok := statInode(socketPath)
	go func() {
		defer close(out)
		if !ok {
			return // nothing bound yet; nothing to detect orphaning against
		}
		ticker := time.NewTicker(orphanPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				got, ok := statInode(socketPath)
				if !ok || got != want {
					return
				}
			}
		}
	}()

	return out, func() { close(stopCh) }
}
